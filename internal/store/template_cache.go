package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"examgate/internal/verification"
)

const galleryKey = "examgate:face_gallery"

// TemplateCache keeps the open-identification gallery in Redis. Student
// lookups always go to the backing store. Redis failures fall through to the
// backing store so the cache never changes a verdict.
type TemplateCache struct {
	next   verification.TemplateStore
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewTemplateCache wraps next. A non-positive ttl defaults to one minute.
func NewTemplateCache(next verification.TemplateStore, client *redis.Client, ttl time.Duration, logger zerolog.Logger) *TemplateCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &TemplateCache{
		next:   next,
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "template_cache").Logger(),
	}
}

func (c *TemplateCache) GetStudentTemplates(ctx context.Context, studentID string) (verification.Student, error) {
	return c.next.GetStudentTemplates(ctx, studentID)
}

func (c *TemplateCache) ListAllFaceTemplates(ctx context.Context) ([]verification.FaceTemplateEntry, error) {
	raw, err := c.client.Get(ctx, galleryKey).Bytes()
	switch {
	case err == nil:
		var entries []verification.FaceTemplateEntry
		if jsonErr := json.Unmarshal(raw, &entries); jsonErr == nil {
			return entries, nil
		}
		c.logger.Warn().Msg("discarding undecodable gallery entry")
	case !errors.Is(err, redis.Nil):
		c.logger.Warn().Err(err).Msg("gallery cache read failed")
	}

	entries, err := c.next.ListAllFaceTemplates(ctx)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(entries)
	if err == nil {
		err = c.client.Set(ctx, galleryKey, payload, c.ttl).Err()
	}
	if err != nil {
		c.logger.Warn().Err(err).Msg("gallery cache write failed")
	}
	return entries, nil
}

// Invalidate drops the cached gallery, e.g. after an enrollment change.
func (c *TemplateCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, galleryKey).Err()
}
