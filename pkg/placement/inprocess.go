package placement

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Launcher builds and runs the actual bot session for a SpawnRequest. The
// orchestrator supplies the concrete implementation (wiring a Media
// Pipeline Runtime and bot worker); this package stays unaware of that
// domain logic, matching §4.1's "capability set" framing.
type Launcher interface {
	// Launch starts the session and returns immediately. cancel requests an
	// early stop; done is closed (with the terminal error, if any) when the
	// session has fully exited.
	Launch(ctx context.Context, req SpawnRequest) (cancel context.CancelFunc, done <-chan error)
}

type inProcessTask struct {
	cancel context.CancelFunc
	done   <-chan error
}

// InProcessBackend runs bot sessions as scheduler-managed goroutines in the
// current process (§4.1).
type InProcessBackend struct {
	launcher Launcher

	mu    sync.Mutex
	tasks map[string]*inProcessTask
}

// NewInProcessBackend wires an InProcessBackend to its Launcher.
func NewInProcessBackend(launcher Launcher) *InProcessBackend {
	return &InProcessBackend{launcher: launcher, tasks: make(map[string]*inProcessTask)}
}

func (b *InProcessBackend) Name() string { return "in_process" }

// Spawn launches the session and registers a handle carrying a task
// reference (the generated task id, per §4.1's "handle carries a task
// reference").
func (b *InProcessBackend) Spawn(ctx context.Context, req SpawnRequest) (Handle, error) {
	cancel, done := b.launcher.Launch(ctx, req)
	select {
	case err, ok := <-done:
		if ok && err != nil {
			cancel()
			return Handle{}, err
		}
	default:
	}
	taskID := uuid.NewString()

	b.mu.Lock()
	b.tasks[taskID] = &inProcessTask{cancel: cancel, done: done}
	b.mu.Unlock()

	return Handle{Backend: b.Name(), Value: taskID}, nil
}

// IsRunning reports whether the task's done channel has not yet closed.
func (b *InProcessBackend) IsRunning(_ context.Context, h Handle) (bool, error) {
	task := b.lookup(h.Value)
	if task == nil {
		return false, nil
	}
	select {
	case <-task.done:
		return false, nil
	default:
		return true, nil
	}
}

// Stop cancels the task for handle h and waits for it to exit, bounded by
// ctx's deadline, then removes the registration.
func (b *InProcessBackend) Stop(ctx context.Context, h Handle) error {
	task := b.lookup(h.Value)
	if task == nil {
		return nil
	}
	task.cancel()

	var err error
	select {
	case runErr := <-task.done:
		err = runErr
	case <-ctx.Done():
		err = fmt.Errorf("placement: in_process stop timed out waiting for task %s: %w", h.Value, ctx.Err())
	}

	b.mu.Lock()
	delete(b.tasks, h.Value)
	b.mu.Unlock()
	return err
}

func (b *InProcessBackend) lookup(taskID string) *inProcessTask {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tasks[taskID]
}

var _ Backend = (*InProcessBackend)(nil)
