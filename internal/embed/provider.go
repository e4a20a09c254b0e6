// Package embed computes section embeddings through a pluggable provider.
package embed

import (
	"context"
	"fmt"

	"github.com/roach88/famlink/internal/ir"
)

// Provider turns texts into vectors. Embed returns one vector per input, in
// input order.
type Provider interface {
	Model() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider          string  `yaml:"provider"`
	Model             string  `yaml:"model"`
	APIKey            string  `yaml:"-"`
	BaseURL           string  `yaml:"base_url"`
	Dimensions        int     `yaml:"dimensions"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// New builds the provider named by cfg.Provider ("openai" or "hash").
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAI(cfg)
	case "hash", "":
		return NewHash(cfg.Model, cfg.Dimensions), nil
	}
	return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
}

// ContentHash is the digest a stored embedding is keyed on. Equivalent
// Unicode encodings of a text share a hash.
func ContentHash(text string) string {
	return ir.ContentHash(text)
}
