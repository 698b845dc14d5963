// Package bot implements the bot worker: the goroutine that owns one Media
// Pipeline Runtime instance for the duration of a call and carries out the
// shutdown sequencing described in §4.2.
package bot

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/pailflow/pailflow/pkg/accounting"
	"github.com/pailflow/pailflow/pkg/persistence"
	"github.com/pailflow/pailflow/pkg/pipeline"
	"github.com/pailflow/pailflow/pkg/pricing"
	"github.com/pailflow/pailflow/pkg/usage"
)

// ShutdownConfig bundles the timing knobs for the shutdown sequence
// (pkg/config.BotDefaults).
type ShutdownConfig struct {
	TransportCleanupTimeout time.Duration
	TransportDrainSleep     time.Duration
}

// Runner is the media pipeline boundary a Worker drives; *pipeline.Pipeline
// satisfies it, and tests substitute a stub.
type Runner interface {
	Run(ctx context.Context) error
}

// Worker runs one bot session's Media Pipeline Runtime and, on any exit
// path, carries out the critical shutdown sequencing of §4.2.
type Worker struct {
	store    persistence.Adapter
	tracker  *usage.Tracker
	ledger   *accounting.Ledger
	shutdown ShutdownConfig

	workflowThreadID string
	transport        pipeline.Transport
	pipeline         Runner

	deregister func()
}

// NewWorker constructs a worker for one bot session. deregister removes the
// transport from the orchestrator's registry (shutdown step 8) and may be
// nil in tests.
func NewWorker(
	store persistence.Adapter,
	tracker *usage.Tracker,
	ledger *accounting.Ledger,
	shutdown ShutdownConfig,
	workflowThreadID string,
	transport pipeline.Transport,
	p Runner,
	deregister func(),
) *Worker {
	return &Worker{
		store:            store,
		tracker:          tracker,
		ledger:           ledger,
		shutdown:         shutdown,
		workflowThreadID: workflowThreadID,
		transport:        transport,
		pipeline:         p,
		deregister:       deregister,
	}
}

// Run records bot_join_time, then drives the pipeline until ctx is
// cancelled, the transport session ends, or the pipeline returns an error —
// and in every case runs the shutdown sequence before returning.
func (w *Worker) Run(ctx context.Context) error {
	now := time.Now().UTC()
	if err := w.recordJoinTime(ctx, now); err != nil {
		slog.Warn("bot: failed to record bot_join_time", "workflow_thread_id", w.workflowThreadID, "error", err)
	}

	runErr := w.pipeline.Run(ctx)

	w.shutdownSequence(context.Background(), runErr)
	return runErr
}

func (w *Worker) recordJoinTime(ctx context.Context, joinTime time.Time) error {
	thread, err := w.store.GetWorkflowThread(ctx, w.workflowThreadID)
	if err != nil {
		return err
	}
	thread.BotJoinTime = &joinTime
	return w.store.UpdateWorkflowThread(ctx, thread)
}

// shutdownSequence implements §4.2's eight-step shutdown contract. It is
// invoked on every exit path (normal completion, cancellation, error) and
// never lets a step's failure abort the remaining ones — each is logged
// and the sequence continues, matching step 7's "catch and log, never
// re-raise" instruction generalized to the whole sequence.
func (w *Worker) shutdownSequence(ctx context.Context, runErr error) {
	if runErr != nil && isBenignShutdownNoise(runErr.Error()) {
		slog.Warn("bot: pipeline exited with benign shutdown noise", "workflow_thread_id", w.workflowThreadID, "error", runErr)
	}

	leaveTime := time.Now().UTC()
	thread, err := w.store.GetWorkflowThread(ctx, w.workflowThreadID)
	if err != nil {
		slog.Error("bot: shutdown: load workflow thread failed", "workflow_thread_id", w.workflowThreadID, "error", err)
		w.cleanupTransportAndDeregister(ctx)
		return
	}

	// Steps 1-2: record bot_leave_time and bot_duration_s (I3).
	thread.BotLeaveTime = &leaveTime
	var durationS float64
	if thread.BotJoinTime != nil {
		durationS = math.Round(leaveTime.Sub(*thread.BotJoinTime).Seconds())
		thread.BotDurationS = &durationS
	}
	if err := w.store.UpdateWorkflowThread(ctx, thread); err != nil {
		slog.Error("bot: shutdown: persist leave time failed", "workflow_thread_id", w.workflowThreadID, "error", err)
	}

	// Step 3: STT cost via the Usage Tracker.
	if durationS > 0 {
		sttCost, err := pricing.CalculateSTTCost(durationS)
		if err != nil {
			slog.Warn("bot: shutdown: stt cost calculation failed", "error", err)
		} else if _, err := w.tracker.UpdateWorkflowUsageCost(ctx, w.workflowThreadID, sttCost, ""); err != nil {
			slog.Warn("bot: shutdown: stt usage recording failed", "error", err)
		}
	}

	// Step 4: primary usage-transaction attempt.
	thread, err = w.store.GetWorkflowThread(ctx, w.workflowThreadID)
	if err != nil {
		slog.Error("bot: shutdown: reload workflow thread failed", "workflow_thread_id", w.workflowThreadID, "error", err)
	} else if thread.UsageStats.TotalCostUSD > 0 && durationS > 0 {
		if _, err := w.ledger.CreateTransaction(ctx, thread); err != nil {
			slog.Warn("bot: shutdown: primary usage transaction failed, deferring to post-call pipeline", "workflow_thread_id", w.workflowThreadID, "error", err)
		}
	}

	w.cleanupTransportAndDeregister(ctx)
}

// cleanupTransportAndDeregister implements shutdown steps 5-8: bounded
// transport cleanup, a drain sleep, and deregistration.
func (w *Worker) cleanupTransportAndDeregister(ctx context.Context) {
	if w.transport != nil {
		leaveCtx, cancel := context.WithTimeout(ctx, cleanupTimeoutOrDefault(w.shutdown.TransportCleanupTimeout))
		defer cancel()
		if err := w.transport.Leave(leaveCtx); err != nil {
			slog.Warn("bot: shutdown: transport leave failed", "workflow_thread_id", w.workflowThreadID, "error", err)
		} else {
			time.Sleep(drainSleepOrDefault(w.shutdown.TransportDrainSleep))
		}
	}

	if w.deregister != nil {
		w.deregister()
	}
}

func cleanupTimeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 2 * time.Second
	}
	return d
}

func drainSleepOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 1500 * time.Millisecond
	}
	return d
}

// isBenignShutdownNoise reports whether an error message matches the
// exception classes §4.2 step 7 requires callers to swallow as warnings
// rather than treat as fatal ("panic", "rust", "Event loop is closed").
func isBenignShutdownNoise(msg string) bool {
	lower := strings.ToLower(msg)
	for _, needle := range []string{"panic", "rust", "event loop is closed"} {
		if strings.Contains(lower, needle) {
			return true
		}
	}
	return false
}
