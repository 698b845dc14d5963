package placement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// FunctionConfig configures invocation of a named remote function (§4.1).
// No client SDK for the target platform appears anywhere in the reference
// corpus, so invocation is a plain JSON-over-HTTP call against the
// platform's invoke/status endpoints, in the style of the webhook client
// used elsewhere in this module (net/http, no third-party HTTP client).
type FunctionConfig struct {
	BaseURL      string // e.g. "https://api.<platform>.example/v1"
	AppName      string
	FunctionName string
	APIKey       string
	HTTPClient   *http.Client
}

type functionInvokeRequest struct {
	RoomURL          string         `json:"room_url"`
	Token            string         `json:"token"`
	BotConfig        map[string]any `json:"bot_config"`
	WorkflowThreadID string         `json:"workflow_thread_id,omitempty"`
}

type functionInvokeResponse struct {
	InvocationID string `json:"invocation_id"`
}

// FunctionBackend invokes a named remote function by (app, function) tuple
// (§4.1 "Function" variant).
type FunctionBackend struct {
	cfg FunctionConfig
}

// NewFunctionBackend constructs a FunctionBackend, returning ErrUnavailable
// if the platform app/function name is not configured.
func NewFunctionBackend(cfg FunctionConfig) (*FunctionBackend, error) {
	if cfg.BaseURL == "" || cfg.AppName == "" || cfg.FunctionName == "" {
		return nil, &ErrUnavailable{Backend: "function"}
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &FunctionBackend{cfg: cfg}, nil
}

func (b *FunctionBackend) Name() string { return "function" }

// Spawn invokes the configured function with the session inputs and
// returns its invocation id as the handle.
func (b *FunctionBackend) Spawn(ctx context.Context, req SpawnRequest) (Handle, error) {
	body, err := json.Marshal(functionInvokeRequest{
		RoomURL:          req.RoomURL,
		Token:            req.Token,
		BotConfig:        req.BotConfig,
		WorkflowThreadID: req.WorkflowThreadID,
	})
	if err != nil {
		return Handle{}, fmt.Errorf("placement: marshal function invoke request: %w", err)
	}

	url := fmt.Sprintf("%s/apps/%s/functions/%s/invoke", b.cfg.BaseURL, b.cfg.AppName, b.cfg.FunctionName)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Handle{}, fmt.Errorf("placement: build function invoke request: %w", err)
	}
	b.setAuth(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return Handle{}, fmt.Errorf("placement: function invoke: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return Handle{}, fmt.Errorf("placement: function invoke returned status %d", resp.StatusCode)
	}

	var decoded functionInvokeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Handle{}, fmt.Errorf("placement: decode function invoke response: %w", err)
	}
	return Handle{Backend: b.Name(), Value: decoded.InvocationID}, nil
}

// IsRunning probes the invocation's status with a short, effectively
// zero-timeout request; a context deadline exceeded (or any error) is
// treated as "still running", per §4.1: "the backend's 'still-running'
// signal is a timeout-like result."
func (b *FunctionBackend) IsRunning(ctx context.Context, h Handle) (bool, error) {
	probeCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	url := fmt.Sprintf("%s/apps/%s/invocations/%s", b.cfg.BaseURL, b.cfg.AppName, h.Value)
	httpReq, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("placement: build function status request: %w", err)
	}
	b.setAuth(httpReq)

	resp, err := b.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return true, nil
		}
		return true, nil
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK, nil
}

func (b *FunctionBackend) setAuth(req *http.Request) {
	if b.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	}
}

var _ Backend = (*FunctionBackend)(nil)
