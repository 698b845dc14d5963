package postcall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pailflow/pailflow/pkg/models"
)

// WebhookConfig configures the bounded-retry behavior of §4.4 step 7.
type WebhookConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Client       *http.Client
}

type webhookBody struct {
	WorkflowThreadID string            `json:"workflow_thread_id"`
	RoomName         string            `json:"room_name"`
	QAPairs          []models.QAPair   `json:"qa_pairs"`
	Insights         *models.Insights  `json:"insights"`
	CandidateSummary string            `json:"candidate_summary"`
	UsageStats       models.UsageStats `json:"usage_stats"`
}

// SendWebhook POSTs the result body to url, retrying on a 5xx response with
// bounded exponential backoff (≤ cfg.MaxAttempts). It returns nil on any 2xx
// response and a non-nil error if every attempt was exhausted or the
// response was a non-retryable (non-5xx) failure.
func SendWebhook(ctx context.Context, cfg WebhookConfig, url string, thread *models.WorkflowThread) error {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	delay := cfg.InitialDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	body, err := json.Marshal(webhookBody{
		WorkflowThreadID: thread.WorkflowThreadID,
		RoomName:         thread.RoomName,
		QAPairs:          thread.QAPairs,
		Insights:         thread.Insights,
		CandidateSummary: thread.CandidateSummary,
		UsageStats:       thread.UsageStats,
	})
	if err != nil {
		return fmt.Errorf("postcall: webhook: marshal body: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("postcall: webhook: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("postcall: webhook: attempt %d: %w", attempt+1, err)
			continue
		}
		status := resp.StatusCode
		resp.Body.Close()

		if status >= 200 && status < 300 {
			return nil
		}
		if status < 500 {
			return fmt.Errorf("postcall: webhook: non-retryable status %d", status)
		}
		lastErr = fmt.Errorf("postcall: webhook: attempt %d: status %d", attempt+1, status)
	}

	return fmt.Errorf("postcall: webhook: exhausted %d attempts: %w", maxAttempts, lastErr)
}
