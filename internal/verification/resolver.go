package verification

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// DefaultAmbiguityMargin is the minimum lead the best open-identification
// candidate needs over the runner-up when both clear the threshold.
const DefaultAmbiguityMargin = 0.03

// Resolution is a successfully identified student.
type Resolution struct {
	Student Student
	Score   float64
}

// Resolver turns a live face descriptor into a single student identity.
type Resolver struct {
	templates TemplateStore
	scorer    Scorer
	threshold float64
	margin    float64
}

// NewResolver creates a resolver. A negative margin falls back to DefaultAmbiguityMargin.
func NewResolver(templates TemplateStore, scorer Scorer, threshold, margin float64) *Resolver {
	if margin < 0 {
		margin = DefaultAmbiguityMargin
	}
	return &Resolver{templates: templates, scorer: scorer, threshold: threshold, margin: margin}
}

// Threshold returns the configured face threshold.
func (r *Resolver) Threshold() float64 { return r.threshold }

// Resolve identifies the student behind live. With a non-empty assertedID the
// descriptor is verified 1:1 against that student; otherwise it is searched
// against every enrolled face template. Rejections come back as a Failure,
// collaborator faults as an error.
func (r *Resolver) Resolve(ctx context.Context, live Descriptor, assertedID string) (Resolution, *Failure, error) {
	if assertedID != "" {
		return r.verify(ctx, live, assertedID)
	}
	return r.identify(ctx, live)
}

func (r *Resolver) verify(ctx context.Context, live Descriptor, studentID string) (Resolution, *Failure, error) {
	student, err := r.templates.GetStudentTemplates(ctx, studentID)
	if errors.Is(err, ErrStudentNotFound) {
		return Resolution{}, failure(ReasonUnknownStudent), nil
	}
	if err != nil {
		return Resolution{}, nil, storeFault(err)
	}
	if len(student.FaceTemplate) == 0 {
		return Resolution{}, failure(ReasonNoEnrolledTemplate), nil
	}

	score, err := checkedScore(ctx, r.scorer, live, student.FaceTemplate)
	if err != nil {
		return Resolution{}, nil, err
	}
	if score < r.threshold {
		return Resolution{}, failureWithScore(ReasonLowConfidenceMatch, score), nil
	}
	return Resolution{Student: student, Score: score}, nil, nil
}

func (r *Resolver) identify(ctx context.Context, live Descriptor) (Resolution, *Failure, error) {
	gallery, err := r.templates.ListAllFaceTemplates(ctx)
	if err != nil {
		return Resolution{}, nil, storeFault(err)
	}

	var (
		bestID       string
		best, second = -1.0, -1.0
	)
	for _, entry := range gallery {
		if len(entry.Template) == 0 {
			continue
		}
		score, err := checkedScore(ctx, r.scorer, live, entry.Template)
		if err != nil {
			return Resolution{}, nil, err
		}
		switch {
		case score > best:
			second = best
			best, bestID = score, entry.StudentID
		case score > second:
			second = score
		}
	}

	if bestID == "" {
		return Resolution{}, failure(ReasonNoMatch), nil
	}
	if best < r.threshold {
		return Resolution{}, failureWithScore(ReasonNoMatch, best), nil
	}
	if second >= r.threshold && best-second < r.margin {
		return Resolution{}, failureWithScore(ReasonAmbiguousMatch, best), nil
	}

	student, err := r.templates.GetStudentTemplates(ctx, bestID)
	if errors.Is(err, ErrStudentNotFound) {
		return Resolution{}, failureWithScore(ReasonUnknownStudent, best), nil
	}
	if err != nil {
		return Resolution{}, nil, storeFault(err)
	}
	return Resolution{Student: student, Score: best}, nil, nil
}

// checkedScore calls the scorer and rejects values outside [0,1].
func checkedScore(ctx context.Context, scorer Scorer, live Descriptor, stored Template) (float64, error) {
	score, err := scorer.Score(ctx, live, stored)
	if err != nil {
		return 0, scorerFault(err)
	}
	if math.IsNaN(score) || score < 0 || score > 1 {
		return 0, scorerFault(fmt.Errorf("score %v out of range", score))
	}
	return score, nil
}
