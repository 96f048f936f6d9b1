package ai

import (
	"context"
	"sync"

	"github.com/itsneelabh/apiflow/core"
)

// scriptedReply is one canned answer of a scriptedClient
type scriptedReply struct {
	content string
	err     error
}

// scriptedClient replays replies in order and records every call.
// The last reply repeats once the script is exhausted.
type scriptedClient struct {
	mu      sync.Mutex
	replies []scriptedReply
	prompts []string
	options []*core.AIOptions
}

func newScriptedClient(replies ...scriptedReply) *scriptedClient {
	return &scriptedClient{replies: replies}
}

func reply(content string) scriptedReply { return scriptedReply{content: content} }

func failure(err error) scriptedReply { return scriptedReply{err: err} }

func (c *scriptedClient) GenerateResponse(ctx context.Context, prompt string, options *core.AIOptions) (*core.AIResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.prompts = append(c.prompts, prompt)
	c.options = append(c.options, options)
	if len(c.replies) == 0 {
		return &core.AIResponse{Content: ""}, nil
	}
	i := len(c.prompts) - 1
	if i >= len(c.replies) {
		i = len(c.replies) - 1
	}
	r := c.replies[i]
	if r.err != nil {
		return nil, r.err
	}
	return &core.AIResponse{
		Content: r.content,
		Model:   "scripted",
		Usage:   core.TokenUsage{TotalTokens: len(r.content)},
	}, nil
}

func (c *scriptedClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.prompts)
}
