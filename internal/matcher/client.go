package matcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"examgate/internal/verification"
)

// Modalities understood by the matcher service.
const (
	ModalityFace        = "face"
	ModalityFingerprint = "fingerprint"
)

// Client calls the biometric matcher microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New creates a client with configurable timeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type scoreRequest struct {
	Modality   string `json:"modality"`
	Descriptor []byte `json:"descriptor"`
	Template   []byte `json:"template"`
}

// Score asks the matcher for the similarity of descriptor to template.
func (c *Client) Score(ctx context.Context, modality string, descriptor, template []byte) (float64, error) {
	body, err := json.Marshal(scoreRequest{Modality: modality, Descriptor: descriptor, Template: template})
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/score", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, fmt.Errorf("matcher request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, fmt.Errorf("matcher error %s: %s", resp.Status, string(bodyBytes))
	}

	var out struct {
		Score *float64 `json:"score"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}
	if out.Score == nil {
		return 0, fmt.Errorf("matcher response missing score")
	}
	return *out.Score, nil
}

// Health checks if the matcher service is available.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("matcher unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("matcher unhealthy: %s", resp.Status)
	}
	return nil
}

// Scorer binds the client to one modality.
type Scorer struct {
	client   *Client
	modality string
}

// NewScorer returns a verification.Scorer for modality.
func NewScorer(client *Client, modality string) *Scorer {
	return &Scorer{client: client, modality: modality}
}

func (s *Scorer) Score(ctx context.Context, live verification.Descriptor, stored verification.Template) (float64, error) {
	score, err := s.client.Score(ctx, s.modality, live, stored)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", verification.ErrScorerUnavailable, s.modality, err)
	}
	return score, nil
}
