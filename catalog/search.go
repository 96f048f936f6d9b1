package catalog

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
)

// Embedder turns text into vectors. It matches langchaingo's embeddings.Embedder.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// CosineSimilarity calculates the cosine similarity between two vectors
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have same length: %d != %d", len(a), len(b))
	}

	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	magA = math.Sqrt(magA)
	magB = math.Sqrt(magB)
	if magA == 0 || magB == 0 {
		return 0, nil
	}
	return dot / (magA * magB), nil
}

type scored struct {
	index int
	score float64
}

// rankBySimilarity orders descriptors by cosine similarity to the query
// vector. Descriptors without a compatible embedding score zero.
func rankBySimilarity(query []float32, descriptors []EndpointDescriptor) []scored {
	out := make([]scored, len(descriptors))
	for i, d := range descriptors {
		out[i] = scored{index: i}
		if len(d.Embedding) == 0 {
			continue
		}
		if s, err := CosineSimilarity(query, d.Embedding); err == nil {
			out[i].score = s
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	return out
}

// rankLexically orders descriptors by how many distinct query tokens appear
// in their document text.
func rankLexically(query string, descriptors []EndpointDescriptor) []scored {
	queryTokens := tokenize(query)
	out := make([]scored, len(descriptors))
	for i, d := range descriptors {
		out[i] = scored{index: i}
		docTokens := make(map[string]bool)
		for _, t := range tokenize(d.Document()) {
			docTokens[t] = true
			docTokens[singular(t)] = true
		}
		for _, t := range queryTokens {
			if docTokens[t] || docTokens[singular(t)] {
				out[i].score++
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	return out
}

// tokenize lowercases text and splits it on anything that is not a letter
// or digit. Duplicate tokens are dropped.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

func singular(word string) string {
	switch {
	case strings.HasSuffix(word, "ies") && len(word) > 3:
		return word[:len(word)-3] + "y"
	case strings.HasSuffix(word, "s") && len(word) > 1:
		return word[:len(word)-1]
	}
	return word
}
