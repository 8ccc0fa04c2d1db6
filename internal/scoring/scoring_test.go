package scoring

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"examgate/internal/verification"
)

func face(t *testing.T, v ...float64) []byte {
	t.Helper()
	raw, err := EncodeFaceVector(v)
	require.NoError(t, err)
	return raw
}

func TestFaceScorer(t *testing.T) {
	ctx := context.Background()
	s := FaceScorer{}

	same, err := s.Score(ctx, face(t, 1, 2, 3), face(t, 1, 2, 3))
	require.NoError(t, err)
	require.InDelta(t, 1.0, same, 1e-9)

	opposite, err := s.Score(ctx, face(t, 1, 0), face(t, -1, 0))
	require.NoError(t, err)
	require.InDelta(t, 0.0, opposite, 1e-9)

	orthogonal, err := s.Score(ctx, face(t, 1, 0), face(t, 0, 1))
	require.NoError(t, err)
	require.InDelta(t, 0.5, orthogonal, 1e-9)

	zero, err := s.Score(ctx, face(t, 0, 0), face(t, 1, 1))
	require.NoError(t, err)
	require.Zero(t, zero)

	again, err := s.Score(ctx, face(t, 0.3, 0.9, 0.1), face(t, 0.2, 0.8, 0.4))
	require.NoError(t, err)
	first, _ := s.Score(ctx, face(t, 0.3, 0.9, 0.1), face(t, 0.2, 0.8, 0.4))
	require.Equal(t, first, again)
}

func TestFaceScorerRejectsMalformedInput(t *testing.T) {
	ctx := context.Background()
	s := FaceScorer{}

	_, err := s.Score(ctx, verification.Descriptor("not json"), face(t, 1))
	require.ErrorIs(t, err, ErrMalformedDescriptor)

	_, err = s.Score(ctx, face(t, 1, 2), face(t, 1, 2, 3))
	require.ErrorIs(t, err, ErrMalformedDescriptor)

	_, err = s.Score(ctx, verification.Descriptor("[]"), face(t, 1))
	require.ErrorIs(t, err, ErrMalformedDescriptor)
}

func minutiae(t *testing.T, points ...Minutia) []byte {
	t.Helper()
	raw, err := EncodeMinutiae(points)
	require.NoError(t, err)
	return raw
}

func TestFingerprintScorer(t *testing.T) {
	ctx := context.Background()
	s := FingerprintScorer{}
	stored := minutiae(t,
		Minutia{X: 10, Y: 10, Angle: 350, Type: "ending"},
		Minutia{X: 50, Y: 50, Angle: 90, Type: "bifurcation"},
		Minutia{X: 90, Y: 20, Angle: 180, Type: "ending"},
		Minutia{X: 30, Y: 80, Angle: 45, Type: "ending"},
	)

	cases := []struct {
		name string
		live []byte
		want float64
	}{
		{
			"full capture",
			minutiae(t,
				Minutia{X: 12, Y: 11, Angle: 10, Type: "ending"},
				Minutia{X: 52, Y: 48, Angle: 80, Type: "bifurcation"},
				Minutia{X: 88, Y: 22, Angle: 175, Type: "ending"},
				Minutia{X: 31, Y: 79, Angle: 50, Type: "ending"},
			),
			1,
		},
		{
			"wraps angles around zero",
			minutiae(t, Minutia{X: 12, Y: 11, Angle: 10, Type: "ending"}),
			0.25,
		},
		{
			"type must agree",
			minutiae(t, Minutia{X: 50, Y: 50, Angle: 90, Type: "ending"}),
			0,
		},
		{
			"one of two within tolerance",
			minutiae(t,
				Minutia{X: 55, Y: 55, Angle: 100, Type: "bifurcation"},
				Minutia{X: 90, Y: 40, Angle: 180, Type: "ending"},
			),
			0.25,
		},
		{
			"angle outside tolerance",
			minutiae(t, Minutia{X: 90, Y: 20, Angle: 215, Type: "ending"}),
			0,
		},
		{
			"repeated point pairs once",
			minutiae(t,
				Minutia{X: 10, Y: 10, Angle: 350, Type: "ending"},
				Minutia{X: 10, Y: 10, Angle: 350, Type: "ending"},
				Minutia{X: 10, Y: 10, Angle: 350, Type: "ending"},
				Minutia{X: 10, Y: 10, Angle: 350, Type: "ending"},
			),
			0.25,
		},
		{
			"extra live points dilute the score",
			minutiae(t,
				Minutia{X: 10, Y: 10, Angle: 350, Type: "ending"},
				Minutia{X: 50, Y: 50, Angle: 90, Type: "bifurcation"},
				Minutia{X: 90, Y: 20, Angle: 180, Type: "ending"},
				Minutia{X: 30, Y: 80, Angle: 45, Type: "ending"},
				Minutia{X: 200, Y: 200, Angle: 0, Type: "ending"},
				Minutia{X: 300, Y: 300, Angle: 0, Type: "ending"},
				Minutia{X: 400, Y: 400, Angle: 0, Type: "ending"},
				Minutia{X: 500, Y: 500, Angle: 0, Type: "ending"},
			),
			0.5,
		},
		{
			"empty live set",
			minutiae(t),
			0,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.Score(ctx, tc.live, stored)
			require.NoError(t, err)
			require.InDelta(t, tc.want, got, 1e-9)
		})
	}

	_, err := s.Score(ctx, verification.Descriptor("{"), stored)
	require.ErrorIs(t, err, ErrMalformedDescriptor)
}

func TestFingerprintScorerSinglePointStaysBelowThreshold(t *testing.T) {
	ctx := context.Background()
	points := make([]Minutia, 20)
	for i := range points {
		points[i] = Minutia{X: float64(i * 25), Y: float64(i * 25), Angle: 0, Type: "ending"}
	}
	stored := minutiae(t, points...)

	got, err := FingerprintScorer{}.Score(ctx, minutiae(t, Minutia{X: 0, Y: 0, Angle: 0, Type: "ending"}), stored)
	require.NoError(t, err)
	require.Less(t, got, 0.70)

	repeated := make([]Minutia, 30)
	for i := range repeated {
		repeated[i] = Minutia{X: 0, Y: 0, Angle: 0, Type: "ending"}
	}
	got, err = FingerprintScorer{}.Score(ctx, minutiae(t, repeated...), stored)
	require.NoError(t, err)
	require.Less(t, got, 0.70)
	require.InDelta(t, 1.0/30, got, 1e-9)
}

func TestAngleDelta(t *testing.T) {
	require.InDelta(t, 20.0, angleDelta(350, 10), 1e-9)
	require.InDelta(t, 180.0, angleDelta(0, 180), 1e-9)
	require.InDelta(t, 0.0, angleDelta(720, 0), 1e-9)
}
