// Package embedding provides vector embeddings for similarity ranking of
// collected evidence. Backends: OpenAI, Google GenAI and a local hashing
// engine that needs no network.
package embedding

import (
	"context"
	"fmt"
	"math"
	"sort"

	"auto_article_curator/retry"
)

// Engine generates vector embeddings for text. Implementations must be safe
// for concurrent use.
type Engine interface {
	// EmbedBatch returns one vector per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
}

// Config selects and configures an Engine.
type Config struct {
	Provider string `yaml:"provider"` // openai, genai, hashing
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
}

// NewEngine creates an embedding engine based on configuration.
func NewEngine(ctx context.Context, cfg Config) (Engine, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAI(cfg.APIKey, cfg.Model, cfg.BaseURL)
	case "genai":
		return NewGenAI(ctx, cfg.APIKey, cfg.Model)
	case "hashing", "":
		return NewHashing(0), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (use 'openai', 'genai' or 'hashing')", cfg.Provider)
	}
}

// Retrying wraps an Engine with an explicit retry policy.
type Retrying struct {
	Engine Engine
	Policy retry.Policy
}

func (r Retrying) Name() string { return r.Engine.Name() }

func (r Retrying) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := r.Policy.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = r.Engine.EmbedBatch(ctx, texts)
		return err
	})
	return out, err
}

// CosineSimilarity returns a value between -1 and 1; zero-magnitude vectors score 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}
	var dot, am, bm float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		am += float64(a[i]) * float64(a[i])
		bm += float64(b[i]) * float64(b[i])
	}
	if am == 0 || bm == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(am) * math.Sqrt(bm)), nil
}

// SimilarityResult is one ranked corpus entry.
type SimilarityResult struct {
	Index      int
	Similarity float64
}

// FindTopK returns the k corpus vectors most similar to query, best first.
// Ties keep corpus order. Vectors with a mismatched dimension are skipped.
func FindTopK(query []float32, corpus [][]float32, k int) []SimilarityResult {
	if k <= 0 {
		return nil
	}
	results := make([]SimilarityResult, 0, len(corpus))
	for i, vec := range corpus {
		sim, err := CosineSimilarity(query, vec)
		if err != nil {
			continue
		}
		results = append(results, SimilarityResult{Index: i, Similarity: sim})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}
