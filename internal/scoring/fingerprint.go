package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"examgate/internal/verification"
)

// Minutiae matching tolerances.
const (
	MaxDistance = 10.0
	MaxAngle    = 30.0
)

// Minutia is a ridge ending or bifurcation.
type Minutia struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Angle float64 `json:"angle"`
	Type  string  `json:"type"`
}

// MinutiaeSet is the serialized fingerprint template.
type MinutiaeSet struct {
	Points []Minutia `json:"minutiae_points"`
}

// EncodeMinutiae serializes points into the stored template format.
func EncodeMinutiae(points []Minutia) (verification.Template, error) {
	return json.Marshal(MinutiaeSet{Points: points})
}

func decodeMinutiae(raw []byte) ([]Minutia, error) {
	var set MinutiaeSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDescriptor, err)
	}
	return set.Points, nil
}

// FingerprintScorer pairs live minutiae with stored minutiae of the same type
// within MaxDistance pixels and MaxAngle degrees. Each stored minutia pairs at
// most once. The score is pairs over the larger of the two sets.
type FingerprintScorer struct{}

func (FingerprintScorer) Score(_ context.Context, live verification.Descriptor, stored verification.Template) (float64, error) {
	a, err := decodeMinutiae(live)
	if err != nil {
		return 0, err
	}
	b, err := decodeMinutiae(stored)
	if err != nil {
		return 0, err
	}
	if len(a) == 0 || len(b) == 0 {
		return 0, nil
	}

	used := make([]bool, len(b))
	matched := 0
	for _, p := range a {
		best, bestDist := -1, math.Inf(1)
		for i, q := range b {
			if used[i] || p.Type != q.Type || angleDelta(p.Angle, q.Angle) > MaxAngle {
				continue
			}
			if d := math.Hypot(p.X-q.X, p.Y-q.Y); d <= MaxDistance && d < bestDist {
				best, bestDist = i, d
			}
		}
		if best >= 0 {
			used[best] = true
			matched++
		}
	}
	return clamp01(float64(matched) / float64(max(len(a), len(b)))), nil
}

// angleDelta is the circular difference in degrees, in [0,180].
func angleDelta(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 360)
	if d > 180 {
		d = 360 - d
	}
	return d
}
