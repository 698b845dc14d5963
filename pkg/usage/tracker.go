// Package usage implements the read-modify-write accumulator over a
// WorkflowThread's usage_stats blob (§4.6).
//
// The spec documents this as a known race under concurrent callers and
// permits, but does not require, a stronger guarantee (§9, "Open question:
// usage-tracker concurrency"). This implementation takes option (a): all
// writes for a given workflow_thread_id are serialized through a single
// per-thread mutex held for the duration of the read-modify-write, which
// removes the race for callers within this process (the metrics-tap node
// and the post-call pipeline) without requiring a store-native atomic
// increment.
package usage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pailflow/pailflow/pkg/persistence"
	"github.com/pailflow/pailflow/pkg/pkgerrors"
)

// Tracker accumulates LLM/STT/bot-call cost onto WorkflowThread.usage_stats.
type Tracker struct {
	store persistence.Adapter

	mu       sync.Mutex
	inFlight map[string]*sync.Mutex
}

// NewTracker wires a Tracker to its persistence adapter.
func NewTracker(store persistence.Adapter) *Tracker {
	return &Tracker{
		store:    store,
		inFlight: make(map[string]*sync.Mutex),
	}
}

func (t *Tracker) lockFor(threadID string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.inFlight[threadID]
	if !ok {
		m = &sync.Mutex{}
		t.inFlight[threadID] = m
	}
	return m
}

// UpdateWorkflowUsageCost implements update_workflow_usage_cost: read the
// thread, add cost_usd to total_cost_usd, optionally set traceID, write
// back the entire row. Returns false (no error) if the thread is missing,
// matching the spec's "If missing, return false."
func (t *Tracker) UpdateWorkflowUsageCost(ctx context.Context, workflowThreadID string, costUSD float64, traceID string) (bool, error) {
	perThread := t.lockFor(workflowThreadID)
	perThread.Lock()
	defer perThread.Unlock()

	thread, err := t.store.GetWorkflowThread(ctx, workflowThreadID)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("usage: get workflow thread: %w", err)
	}

	thread.UsageStats.TotalCostUSD += costUSD // I2: nondecreasing as long as costUSD >= 0
	if traceID != "" {
		thread.UsageStats.PosthogTraceID = traceID
	}

	if err := t.store.UpdateWorkflowThread(ctx, thread); err != nil {
		return false, fmt.Errorf("usage: update workflow thread: %w", err)
	}
	return true, nil
}
