// Package mock provides a test double for the embeddings.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/voxprep/voxprep/pkg/provider/embeddings"
)

// Provider is a mock implementation of embeddings.Provider.
//
// When EmbedFunc is nil, Embed returns Vector (or a zero vector of Dims
// length). Set Err to inject failures.
type Provider struct {
	mu sync.Mutex

	// EmbedFunc, if non-nil, is called by Embed for per-input behaviour.
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)

	// Vector is the fixed vector returned by Embed when EmbedFunc is nil.
	Vector []float32

	// Err, if non-nil, is returned by Embed and EmbedBatch.
	Err error

	// Dims is returned by Dimensions. Defaults to len(Vector) when zero.
	Dims int

	// Model is returned by ModelID.
	Model string

	// EmbedCalls records every text passed to Embed, in order.
	EmbedCalls []string
}

// Ensure Provider implements embeddings.Provider at compile time.
var _ embeddings.Provider = (*Provider)(nil)

// Embed records the call and returns the configured vector or error.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.EmbedCalls = append(p.EmbedCalls, text)
	fn := p.EmbedFunc
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, text)
	}
	if p.Err != nil {
		return nil, p.Err
	}
	if p.Vector != nil {
		out := make([]float32, len(p.Vector))
		copy(out, p.Vector)
		return out, nil
	}
	return make([]float32, p.Dims), nil
}

// EmbedBatch calls Embed for each element of texts.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions returns Dims, or len(Vector) when Dims is zero.
func (p *Provider) Dimensions() int {
	if p.Dims > 0 {
		return p.Dims
	}
	return len(p.Vector)
}

// ModelID returns Model.
func (p *Provider) ModelID() string {
	return p.Model
}
