package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/fundlane/mca-backend/internal/core/domain"
)

const (
	headerEvent = "X-Webhook-Event"
	headerID    = "X-Webhook-ID"

	// Receivers returning large bodies get truncated; we only keep enough
	// for the error message.
	maxResponseBytes = 4 << 10
)

// Sender performs the network half of webhook delivery. A circuit breaker per
// Sender keeps a flapping receiver from tying up worker slots; retry pacing
// itself belongs to the dispatcher, not here.
type Sender struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[int]
}

func NewSender(postTimeout time.Duration) *Sender {
	if postTimeout <= 0 {
		postTimeout = 30 * time.Second
	}
	breaker := gobreaker.NewCircuitBreaker[int](gobreaker.Settings{
		Name:    "webhook-post",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
	})
	return &Sender{
		client:  &http.Client{Timeout: postTimeout},
		breaker: breaker,
	}
}

// Probe checks target liveness with a HEAD request before a registration is
// accepted. Any HTTP response counts as alive; only transport errors fail.
func (s *Sender) Probe(ctx context.Context, url string) error {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, url, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	return nil
}

// Send POSTs the signed payload. Non-2xx responses are delivery failures; the
// status code comes back either way for the dispatcher's bookkeeping.
func (s *Sender) Send(ctx context.Context, wh *domain.Webhook, body []byte, token string) (int, error) {
	return s.breaker.Execute(func() (int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(body))
		if err != nil {
			return 0, fmt.Errorf("build delivery request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set(headerEvent, string(wh.Event))
		req.Header.Set(headerID, wh.ID)

		resp, err := s.client.Do(req)
		if err != nil {
			return 0, fmt.Errorf("post %s: %w", wh.URL, err)
		}
		defer resp.Body.Close()

		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return resp.StatusCode, fmt.Errorf("receiver returned %d: %s", resp.StatusCode, truncate(snippet))
		}
		return resp.StatusCode, nil
	})
}

func truncate(body []byte) string {
	const limit = 200
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
