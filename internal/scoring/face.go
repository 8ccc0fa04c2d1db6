package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"examgate/internal/verification"
)

var ErrMalformedDescriptor = errors.New("malformed descriptor")

// FaceScorer compares JSON-encoded face embeddings by cosine similarity,
// mapped from [-1,1] onto [0,1].
type FaceScorer struct{}

// EncodeFaceVector serializes an embedding into the stored template format.
func EncodeFaceVector(v []float64) (verification.Template, error) {
	return json.Marshal(v)
}

func decodeFaceVector(raw []byte) ([]float64, error) {
	var v []float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDescriptor, err)
	}
	if len(v) == 0 {
		return nil, fmt.Errorf("%w: empty vector", ErrMalformedDescriptor)
	}
	return v, nil
}

func (FaceScorer) Score(_ context.Context, live verification.Descriptor, stored verification.Template) (float64, error) {
	a, err := decodeFaceVector(live)
	if err != nil {
		return 0, err
	}
	b, err := decodeFaceVector(stored)
	if err != nil {
		return 0, err
	}
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: vector length %d != %d", ErrMalformedDescriptor, len(a), len(b))
	}

	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return clamp01((cos + 1) / 2), nil
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
