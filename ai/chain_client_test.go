package ai

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/apiflow/core"
)

func TestNewChainClient_Validation(t *testing.T) {
	_, err := NewChainClient()
	assert.True(t, errors.Is(err, core.ErrInvalidConfiguration))

	_, err = NewChainClient(WithProviderChain("nope"))
	assert.True(t, errors.Is(err, core.ErrInvalidConfiguration))
}

func TestNewChainClient_SkipsUnavailableProviders(t *testing.T) {
	good := &fakeFactory{name: "good", model: &fakeModel{content: "ok"}}
	bad := &fakeFactory{name: "bad", createErr: fmt.Errorf("key: %w", core.ErrMissingConfiguration)}
	withRegistry(t, good, bad)

	chain, err := NewChainClient(WithProviderChain("bad", "good"))
	require.NoError(t, err)
	assert.Equal(t, 1, chain.Len())

	resp, err := chain.GenerateResponse(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)

	_, err = NewChainClient(WithProviderChain("bad"))
	assert.True(t, errors.Is(err, core.ErrMissingConfiguration))
}

func TestChainClient_FailsOverOnRetryableErrors(t *testing.T) {
	first := newScriptedClient(failure(fmt.Errorf("a: %w", core.ErrAIUnavailable)))
	second := newScriptedClient(failure(fmt.Errorf("b: %w", core.ErrTimeout)))
	third := newScriptedClient(reply("from third"))

	chain, err := NewChainClient(WithChainClients(first, second, third))
	require.NoError(t, err)

	resp, err := chain.GenerateResponse(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Equal(t, "from third", resp.Content)
	assert.Equal(t, 1, first.calls())
	assert.Equal(t, 1, second.calls())
}

func TestChainClient_StopsOnClientError(t *testing.T) {
	rejected := errors.New("anthropic rejected the request: invalid api key")
	first := newScriptedClient(failure(rejected))
	second := newScriptedClient(reply("unused"))

	chain, err := NewChainClient(WithChainClients(first, second))
	require.NoError(t, err)

	_, err = chain.GenerateResponse(context.Background(), "q", nil)
	assert.Equal(t, rejected, err)
	assert.Equal(t, 0, second.calls())
}

func TestChainClient_Exhausted(t *testing.T) {
	outage := fmt.Errorf("x: %w", core.ErrAIUnavailable)
	chain, err := NewChainClient(WithChainClients(newScriptedClient(failure(outage)), newScriptedClient(failure(outage))))
	require.NoError(t, err)

	_, err = chain.GenerateResponse(context.Background(), "q", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 2 providers failed")
	assert.True(t, errors.Is(err, core.ErrAIUnavailable))
}

func TestChainClient_CanceledContext(t *testing.T) {
	client := newScriptedClient(reply("ok"))
	chain, err := NewChainClient(WithChainClients(client))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = chain.GenerateResponse(ctx, "q", nil)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, client.calls())
}
