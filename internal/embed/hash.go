package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// DefaultHashDimensions is the vector size of the hash provider.
const DefaultHashDimensions = 64

// HashProvider derives unit vectors from token hashes. Equal texts always
// embed identically and texts sharing tokens point in similar directions.
// It needs no network and is used offline and in tests.
type HashProvider struct {
	model string
	dims  int
	fold  cases.Caser
}

// NewHash returns a hash provider. Zero dims means DefaultHashDimensions.
func NewHash(model string, dims int) *HashProvider {
	if model == "" {
		model = "hash"
	}
	if dims <= 0 {
		dims = DefaultHashDimensions
	}
	return &HashProvider{model: model, dims: dims, fold: cases.Fold()}
}

// Model returns the configured model name.
func (p *HashProvider) Model() string { return p.model }

// Embed hashes every token of each text into the vector and normalizes it.
func (p *HashProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = p.vector(t)
	}
	return out, nil
}

func (p *HashProvider) vector(text string) []float32 {
	v := make([]float32, p.dims)
	for _, tok := range strings.Fields(p.fold.String(norm.NFC.String(text))) {
		sum := sha256.Sum256([]byte(tok))
		idx := binary.BigEndian.Uint32(sum[:4]) % uint32(p.dims)
		sign := float32(1)
		if sum[4]&1 == 1 {
			sign = -1
		}
		v[idx] += sign
	}
	var norm2 float64
	for _, x := range v {
		norm2 += float64(x) * float64(x)
	}
	if norm2 == 0 {
		return v
	}
	scale := float32(1 / math.Sqrt(norm2))
	for i := range v {
		v[i] *= scale
	}
	return v
}
