package placement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// VMConfig configures the VM placement backend: a single-use,
// auto-destroying compute unit API (§4.1). No Go SDK for the target
// platform appears in the reference corpus, so this talks to its HTTP API
// directly with net/http, matching the Function backend's approach.
type VMConfig struct {
	APIHost    string
	AppName    string
	APIKey     string
	HTTPClient *http.Client
	// PollInterval controls how often Spawn re-checks the unit's state
	// while waiting for it to reach "started".
	PollInterval time.Duration
	// StartTimeout bounds how long Spawn waits for "started" before giving up.
	StartTimeout time.Duration
}

type vmCreateRequest struct {
	Config vmUnitConfig `json:"config"`
}

type vmUnitConfig struct {
	Image       string            `json:"image"`
	Env         map[string]string `json:"env,omitempty"`
	Init        vmInit            `json:"init"`
	AutoDestroy bool              `json:"auto_destroy"`
}

type vmInit struct {
	Cmd []string `json:"cmd"`
}

type vmUnit struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// VMBackend creates single-use compute units with an auto-destroy policy
// (§4.1 "VM" variant).
type VMBackend struct {
	cfg   VMConfig
	image string
}

// NewVMBackend constructs a VMBackend, returning ErrUnavailable if the
// platform API host/app/key is not configured.
func NewVMBackend(cfg VMConfig, image string) (*VMBackend, error) {
	if cfg.APIHost == "" || cfg.AppName == "" || cfg.APIKey == "" {
		return nil, &ErrUnavailable{Backend: "vm"}
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 30 * time.Second
	}
	if image == "" {
		image = "pailflow/bot-runner:latest"
	}
	return &VMBackend{cfg: cfg, image: image}, nil
}

func (b *VMBackend) Name() string { return "vm" }

// Spawn creates a single-use unit passing room URL, token, and bot-config
// JSON as its command-line, then waits for it to reach "started".
func (b *VMBackend) Spawn(ctx context.Context, req SpawnRequest) (Handle, error) {
	botConfigJSON, err := botConfigJSON(req.BotConfig)
	if err != nil {
		return Handle{}, err
	}

	createReq := vmCreateRequest{Config: vmUnitConfig{
		Image:       b.image,
		AutoDestroy: true,
		Init: vmInit{
			Cmd: []string{"bot-runner", req.RoomURL, req.Token, botConfigJSON},
		},
	}}
	body, err := json.Marshal(createReq)
	if err != nil {
		return Handle{}, fmt.Errorf("placement: marshal vm create request: %w", err)
	}

	url := fmt.Sprintf("%s/apps/%s/machines", b.cfg.APIHost, b.cfg.AppName)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Handle{}, fmt.Errorf("placement: build vm create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return Handle{}, fmt.Errorf("placement: vm create: %w", err)
	}
	var unit vmUnit
	decodeErr := json.NewDecoder(resp.Body).Decode(&unit)
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Handle{}, fmt.Errorf("placement: vm create returned status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return Handle{}, fmt.Errorf("placement: decode vm create response: %w", decodeErr)
	}

	if err := b.awaitStarted(ctx, unit.ID); err != nil {
		return Handle{}, err
	}
	return Handle{Backend: b.Name(), Value: unit.ID}, nil
}

func (b *VMBackend) awaitStarted(ctx context.Context, unitID string) error {
	deadlineCtx, cancel := context.WithTimeout(ctx, b.cfg.StartTimeout)
	defer cancel()

	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		state, err := b.fetchState(deadlineCtx, unitID)
		if err == nil && state == "started" {
			return nil
		}
		select {
		case <-deadlineCtx.Done():
			return fmt.Errorf("placement: vm unit %s did not reach started within %s", unitID, b.cfg.StartTimeout)
		case <-ticker.C:
		}
	}
}

func (b *VMBackend) fetchState(ctx context.Context, unitID string) (string, error) {
	url := fmt.Sprintf("%s/apps/%s/machines/%s", b.cfg.APIHost, b.cfg.AppName, unitID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)

	resp, err := b.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var unit vmUnit
	if err := json.NewDecoder(resp.Body).Decode(&unit); err != nil {
		return "", err
	}
	return unit.State, nil
}

// IsRunning reports whether the unit is in the "started" state.
func (b *VMBackend) IsRunning(ctx context.Context, h Handle) (bool, error) {
	state, err := b.fetchState(ctx, h.Value)
	if err != nil {
		return false, fmt.Errorf("placement: vm status check: %w", err)
	}
	return state == "started", nil
}

var _ Backend = (*VMBackend)(nil)
