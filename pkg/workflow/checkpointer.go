package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/pailflow/pailflow/pkg/persistence"
)

// Checkpointer serializes State at node boundaries and returns an opaque
// checkpoint id; the engine writes that id back into
// workflow_threads.checkpoint_id so external resumers can supply it (§4.3).
type Checkpointer interface {
	Put(ctx context.Context, workflowThreadID string, state State) (checkpointID string, err error)
	Get(ctx context.Context, workflowThreadID, checkpointID string) (State, error)
}

// SQLCheckpointer is the preferred, durable checkpointer, backed by the
// persistence adapter's checkpoints table.
type SQLCheckpointer struct {
	store persistence.Adapter
}

// NewSQLCheckpointer wires a SQLCheckpointer to its persistence adapter.
func NewSQLCheckpointer(store persistence.Adapter) *SQLCheckpointer {
	return &SQLCheckpointer{store: store}
}

func (c *SQLCheckpointer) Put(ctx context.Context, workflowThreadID string, state State) (string, error) {
	body, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("workflow: marshal checkpoint state: %w", err)
	}
	id, err := c.store.PutCheckpoint(ctx, workflowThreadID, body)
	if err != nil {
		return "", fmt.Errorf("workflow: put checkpoint: %w", err)
	}
	return id, nil
}

func (c *SQLCheckpointer) Get(ctx context.Context, workflowThreadID, checkpointID string) (State, error) {
	body, err := c.store.GetCheckpoint(ctx, workflowThreadID, checkpointID)
	if err != nil {
		return State{}, fmt.Errorf("workflow: get checkpoint: %w", err)
	}
	var state State
	if err := json.Unmarshal(body, &state); err != nil {
		return State{}, fmt.Errorf("workflow: unmarshal checkpoint state: %w", err)
	}
	return state, nil
}

var _ Checkpointer = (*SQLCheckpointer)(nil)

// InMemoryCheckpointer is the dev fallback used when no SQL persistence is
// configured. State does not survive a process restart, so resumers
// running in a different process (the common case for §4.3's resume
// protocol) will see checkpoint_missing — this is a deliberate, logged
// trade-off, never a silent one.
type InMemoryCheckpointer struct {
	mu    sync.Mutex
	store map[string]map[string]State // workflow_thread_id -> checkpoint_id -> state
}

// NewInMemoryCheckpointer constructs the fallback checkpointer, logging a
// high-severity warning: durability is lost across process restarts.
func NewInMemoryCheckpointer() *InMemoryCheckpointer {
	slog.Warn("workflow: using in-memory checkpointer — checkpoints will not survive a process restart; configure database persistence for production use")
	return &InMemoryCheckpointer{store: make(map[string]map[string]State)}
}

func (c *InMemoryCheckpointer) Put(_ context.Context, workflowThreadID string, state State) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store[workflowThreadID] == nil {
		c.store[workflowThreadID] = make(map[string]State)
	}
	id := uuid.NewString()
	c.store[workflowThreadID][id] = state
	return id, nil
}

func (c *InMemoryCheckpointer) Get(_ context.Context, workflowThreadID, checkpointID string) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byID, ok := c.store[workflowThreadID]
	if !ok {
		return State{}, fmt.Errorf("workflow: no checkpoints recorded for thread %s", workflowThreadID)
	}
	state, ok := byID[checkpointID]
	if !ok {
		return State{}, fmt.Errorf("workflow: checkpoint %s not found for thread %s", checkpointID, workflowThreadID)
	}
	return state, nil
}

var _ Checkpointer = (*InMemoryCheckpointer)(nil)
