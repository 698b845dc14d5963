// Package orchestrator implements the Bot Session Orchestrator (C1): place
// and supervise exactly one bot session per room, across the InProcess,
// Function, and VM placement backends (§4.1).
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pailflow/pailflow/pkg/persistence"
	"github.com/pailflow/pailflow/pkg/pkgerrors"
	"github.com/pailflow/pailflow/pkg/placement"
)

// fallbackOrder is the backend fallthrough sequence for remote-backend
// spawn failures (§4.1).
var fallbackOrder = []string{"function", "vm", "in_process"}

// Status mirrors get_bot_status's response shape (§4.1).
type Status struct {
	ProcessID      string
	IsRunning      bool
	RuntimeSeconds float64
	Warning        string `json:"warning,omitempty"`
}

type session struct {
	backend          placement.Backend
	handle           placement.Handle
	workflowThreadID string
	startedAt        time.Time
}

// Orchestrator implements start_bot/stop_bot/is_bot_running/get_bot_status/
// list_active_bots/cleanup_long_running_bots/cleanup (§4.1).
type Orchestrator struct {
	backends       map[string]placement.Backend
	store          persistence.Adapter
	warningAfter   time.Duration
	cleanupTimeout time.Duration
	workerAwait    time.Duration
	drainSleep     time.Duration

	mu       sync.Mutex // serializes start_bot per room (single-writer, §4.1)
	sessions map[string]*session
}

// New wires an Orchestrator. backends should be keyed by "function", "vm",
// "in_process" with only the configured/available ones present.
func New(store persistence.Adapter, backends map[string]placement.Backend, warningAfter, cleanupTimeout, workerAwait, drainSleep time.Duration) *Orchestrator {
	return &Orchestrator{
		backends:       backends,
		store:          store,
		warningAfter:   warningAfter,
		cleanupTimeout: cleanupTimeout,
		workerAwait:    workerAwait,
		drainSleep:     drainSleep,
		sessions:       make(map[string]*session),
	}
}

// StartBot implements start_bot (§4.1). roomName should already be
// extracted from roomURL's trailing path segment by the caller (the HTTP
// layer owns that parsing, per §6).
func (o *Orchestrator) StartBot(
	ctx context.Context,
	roomURL, token string,
	botConfig map[string]any,
	roomName string,
	backendHint string,
	workflowThreadID string,
) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, running := o.sessions[roomName]; running {
		// Already running or starting: not an error (duplicate_session).
		return nil
	}

	order := fallbackOrder
	if backendHint != "" {
		order = []string{backendHint}
	}

	req := placement.SpawnRequest{RoomURL: roomURL, Token: token, BotConfig: botConfig, WorkflowThreadID: workflowThreadID}

	var lastSpawnErr error
	var lastSpawnBackend string
	attempted := false
	for _, name := range order {
		backend, ok := o.backends[name]
		if !ok {
			continue
		}
		attempted = true
		handle, err := backend.Spawn(ctx, req)
		if err != nil {
			lastSpawnErr = err
			lastSpawnBackend = name
			slog.Warn("orchestrator: spawn failed, falling through", "backend", name, "room", roomName, "error", err)
			continue
		}

		o.sessions[roomName] = &session{
			backend:          backend,
			handle:           handle,
			workflowThreadID: workflowThreadID,
			startedAt:        time.Now().UTC(),
		}
		if err := o.persistBotEnabled(ctx, workflowThreadID, name == "in_process", botConfig); err != nil {
			slog.Warn("orchestrator: failed to persist bot_enabled", "workflow_thread_id", workflowThreadID, "error", err)
		}
		return nil
	}

	// placement_unavailable: no configured backend was even attempted.
	if !attempted {
		return pkgerrors.ErrPlacementUnavailable
	}
	// placement_failed(cause): every attempted backend's spawn errored.
	return pkgerrors.NewPlacementError(lastSpawnBackend, lastSpawnErr)
}

func (o *Orchestrator) persistBotEnabled(ctx context.Context, workflowThreadID string, inProcess bool, botConfig map[string]any) error {
	if workflowThreadID == "" {
		return nil
	}
	thread, err := o.store.GetWorkflowThread(ctx, workflowThreadID)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrNotFound) {
			return nil
		}
		return err
	}
	thread.WorkflowThreadID = workflowThreadID
	thread.BotEnabled = true
	if inProcess {
		thread.BotConfig = botConfig
	}
	return o.store.UpdateWorkflowThread(ctx, thread)
}

// StopBot implements stop_bot (§4.1). InProcess sessions are cancelled and
// awaited bounded by workerAwait; remote backends auto-destroy, so this is
// a no-op registration removal for them.
func (o *Orchestrator) StopBot(ctx context.Context, roomName string) bool {
	o.mu.Lock()
	sess, ok := o.sessions[roomName]
	if ok {
		delete(o.sessions, roomName)
	}
	o.mu.Unlock()
	if !ok {
		return false
	}

	if stopper, ok := sess.backend.(interface {
		Stop(context.Context, placement.Handle) error
	}); ok {
		stopCtx, cancel := context.WithTimeout(ctx, o.workerAwait)
		defer cancel()
		if err := stopper.Stop(stopCtx, sess.handle); err != nil {
			slog.Warn("orchestrator: stop_bot: backend stop failed", "room", roomName, "error", err)
		}
	}
	return true
}

// IsBotRunning implements is_bot_running (§4.1), evicting the registration
// if the backend reports the handle no longer active.
func (o *Orchestrator) IsBotRunning(ctx context.Context, roomName string) bool {
	o.mu.Lock()
	sess, ok := o.sessions[roomName]
	o.mu.Unlock()
	if !ok {
		return false
	}

	running, err := sess.backend.IsRunning(ctx, sess.handle)
	if err != nil {
		slog.Warn("orchestrator: is_bot_running: backend status check failed", "room", roomName, "error", err)
		return false
	}
	if !running {
		o.mu.Lock()
		delete(o.sessions, roomName)
		o.mu.Unlock()
	}
	return running
}

// GetBotStatus implements get_bot_status (§4.1). ok is false if no session
// is registered for roomName.
func (o *Orchestrator) GetBotStatus(ctx context.Context, roomName string) (status Status, ok bool) {
	o.mu.Lock()
	sess, found := o.sessions[roomName]
	o.mu.Unlock()
	if !found {
		return Status{}, false
	}

	running, _ := sess.backend.IsRunning(ctx, sess.handle)
	return Status{
		ProcessID:      sess.handle.Value,
		IsRunning:      running,
		RuntimeSeconds: time.Since(sess.startedAt).Seconds(),
	}, true
}

// ListActiveBots implements list_active_bots (§4.1), annotating sessions
// that have run past the configured warning threshold.
func (o *Orchestrator) ListActiveBots(ctx context.Context) map[string]Status {
	o.mu.Lock()
	snapshot := make(map[string]*session, len(o.sessions))
	for room, sess := range o.sessions {
		snapshot[room] = sess
	}
	o.mu.Unlock()

	out := make(map[string]Status, len(snapshot))
	for room, sess := range snapshot {
		running, _ := sess.backend.IsRunning(ctx, sess.handle)
		runtime := time.Since(sess.startedAt)
		st := Status{
			ProcessID:      sess.handle.Value,
			IsRunning:      running,
			RuntimeSeconds: runtime.Seconds(),
		}
		if o.warningAfter > 0 && runtime > o.warningAfter {
			st.Warning = fmt.Sprintf("session has been running for %s, exceeding the %s warning threshold", runtime.Round(time.Second), o.warningAfter)
		}
		out[room] = st
	}
	return out
}

// CleanupLongRunningBots implements cleanup_long_running_bots (§4.1),
// stopping InProcess sessions older than maxHours.
func (o *Orchestrator) CleanupLongRunningBots(ctx context.Context, maxHours float64) int {
	cutoff := time.Duration(maxHours * float64(time.Hour))

	o.mu.Lock()
	var toStop []string
	for room, sess := range o.sessions {
		if sess.backend.Name() == "in_process" && time.Since(sess.startedAt) > cutoff {
			toStop = append(toStop, room)
		}
	}
	o.mu.Unlock()

	stopped := 0
	for _, room := range toStop {
		if o.StopBot(ctx, room) {
			stopped++
		}
	}
	return stopped
}

// Cleanup implements the process-shutdown sequence of §4.1: graceful
// room-leave for every InProcess session, a drain sleep, then cancellation
// of any remaining worker tasks, all bounded, followed by clearing the
// registries. Ordering matters: abrupt cancellation before transport
// cleanup is observed to cause native-layer panics on shutdown.
func (o *Orchestrator) Cleanup(ctx context.Context, leaveRoom func(room string) error) {
	o.mu.Lock()
	rooms := make([]string, 0, len(o.sessions))
	sessions := make(map[string]*session, len(o.sessions))
	for room, sess := range o.sessions {
		rooms = append(rooms, room)
		sessions[room] = sess
	}
	o.mu.Unlock()

	for _, room := range rooms {
		if sessions[room].backend.Name() != "in_process" {
			continue
		}
		leaveCtx, cancel := context.WithTimeout(ctx, o.cleanupTimeout)
		if leaveRoom != nil {
			errCh := make(chan error, 1)
			go func() { errCh <- leaveRoom(room) }()
			select {
			case err := <-errCh:
				if err != nil {
					slog.Warn("orchestrator: cleanup: graceful room-leave failed", "room", room, "error", err)
				}
			case <-leaveCtx.Done():
				slog.Warn("orchestrator: cleanup: graceful room-leave timed out", "room", room)
			}
		}
		cancel()
	}

	time.Sleep(o.drainSleep)

	for _, sess := range sessions {
		if sess.backend.Name() != "in_process" {
			continue
		}
		if stopper, ok := sess.backend.(interface {
			Stop(context.Context, placement.Handle) error
		}); ok {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_ = stopper.Stop(stopCtx, sess.handle)
			cancel()
		}
	}

	o.mu.Lock()
	o.sessions = make(map[string]*session)
	o.mu.Unlock()
}
