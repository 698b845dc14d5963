// Package placement implements the bot-session placement backends of §4.1:
// InProcess (in-this-process goroutine), Function (named remote function
// invocation), and VM (single-use auto-destroying compute unit).
package placement

import (
	"context"
	"encoding/json"
	"fmt"
)

// SpawnRequest carries the inputs common to every backend's spawn call.
type SpawnRequest struct {
	RoomURL          string
	Token            string
	BotConfig        map[string]any
	WorkflowThreadID string
}

// Handle opaquely identifies one spawned session for a given backend.
type Handle struct {
	Backend string
	Value   string
}

// Backend is the capability set every placement variant implements (§4.1).
type Backend interface {
	Name() string
	Spawn(ctx context.Context, req SpawnRequest) (Handle, error)
	IsRunning(ctx context.Context, h Handle) (bool, error)
}

// ErrUnavailable indicates a backend is not configured (missing credentials
// or app name) and should be skipped during fallback selection.
type ErrUnavailable struct{ Backend string }

func (e *ErrUnavailable) Error() string {
	return fmt.Sprintf("placement: backend %s is not configured", e.Backend)
}

// botConfigJSON marshals bot_config the way the VM backend needs it for
// its command-line.
func botConfigJSON(cfg map[string]any) (string, error) {
	if cfg == nil {
		return "{}", nil
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("placement: marshal bot_config: %w", err)
	}
	return string(b), nil
}
