package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pailflow/pailflow/pkg/models"
	"github.com/pailflow/pailflow/pkg/persistence"
	"github.com/pailflow/pailflow/pkg/pipeline"
	"github.com/pailflow/pailflow/pkg/pkgerrors"
)

// BotStarter is the Bot Session Orchestrator boundary join_bot calls.
type BotStarter interface {
	StartBot(ctx context.Context, roomURL, token string, botConfig map[string]any, roomName, backendHint, workflowThreadID string) error
}

// PostCallRunner is the Post-Call Pipeline boundary process_transcript and
// the resume-failure fallback path invoke.
type PostCallRunner interface {
	Run(ctx context.Context, roomName, workflowThreadID string) error
}

// Engine runs the join_bot -> interrupt -> process_transcript graph (§4.3).
type Engine struct {
	store        persistence.Adapter
	checkpointer Checkpointer
	orchestrator BotStarter
	postCall     PostCallRunner
}

// New wires an Engine. Pass an InMemoryCheckpointer only as a documented
// dev fallback; production configurations must supply a SQLCheckpointer.
func New(store persistence.Adapter, checkpointer Checkpointer, orchestrator BotStarter, postCall PostCallRunner) *Engine {
	return &Engine{store: store, checkpointer: checkpointer, orchestrator: orchestrator, postCall: postCall}
}

// Start runs join_bot and checkpoints at the static interrupt. It returns
// the workflow_thread_id and checkpoint_id an external resumer will later
// supply to Resume.
func (e *Engine) Start(ctx context.Context, roomURL, token, roomName string, botConfig map[string]any, backendHint, workflowThreadID string) (threadID, checkpointID string, err error) {
	state := State{
		RoomURL:   roomURL,
		Token:     token,
		RoomName:  roomName,
		BotConfig: botConfig,
	}

	if workflowThreadID == "" {
		workflowThreadID = uuid.NewString()
	}
	state.WorkflowThreadID = workflowThreadID

	if err := e.writePaused(ctx, state); err != nil {
		return "", "", fmt.Errorf("workflow: join_bot: persist paused state: %w", err)
	}

	if err := e.orchestrator.StartBot(ctx, roomURL, token, botConfig, roomName, backendHint, workflowThreadID); err != nil {
		state.Error = err.Error()
		_, _ = e.checkpointer.Put(ctx, workflowThreadID, state)
		return workflowThreadID, "", fmt.Errorf("workflow: join_bot: start_bot failed: %w", err)
	}

	checkpointID, err = e.checkpointer.Put(ctx, workflowThreadID, state)
	if err != nil {
		return workflowThreadID, "", fmt.Errorf("workflow: join_bot: checkpoint: %w", err)
	}
	if err := e.writeCheckpointID(ctx, workflowThreadID, checkpointID); err != nil {
		slog.Warn("workflow: failed to persist checkpoint_id", "workflow_thread_id", workflowThreadID, "error", err)
	}

	return workflowThreadID, checkpointID, nil
}

// writePaused implements join_bot steps 1-2: write workflow_thread_id and
// workflow_paused = true to the WorkflowThread row, creating it if absent.
func (e *Engine) writePaused(ctx context.Context, state State) error {
	thread, err := e.store.GetWorkflowThread(ctx, state.WorkflowThreadID)
	if err != nil {
		if !errors.Is(err, pkgerrors.ErrNotFound) {
			return err
		}
		thread = &models.WorkflowThread{WorkflowThreadID: state.WorkflowThreadID}
		thread.RoomName = state.RoomName
		thread.RoomURL = state.RoomURL
		thread.BotConfig = state.BotConfig
		thread.MeetingStatus = models.MeetingInProgress
		thread.WorkflowPaused = true
		return e.store.CreateWorkflowThread(ctx, thread)
	}
	thread.WorkflowPaused = true
	return e.store.UpdateWorkflowThread(ctx, thread)
}

func (e *Engine) writeCheckpointID(ctx context.Context, workflowThreadID, checkpointID string) error {
	thread, err := e.store.GetWorkflowThread(ctx, workflowThreadID)
	if err != nil {
		return err
	}
	thread.CheckpointID = checkpointID
	return e.store.UpdateWorkflowThread(ctx, thread)
}

// Resume implements pipeline.Resumer: read the checkpoint for
// workflowThreadID (using the thread's persisted checkpoint_id), advance to
// process_transcript, and clear workflow_paused on success. On any error,
// workflow_paused is left set for a later reaper to retry, per §4.3's
// failure semantics; callers fall back to PostCallDirect.
func (e *Engine) Resume(ctx context.Context, workflowThreadID string) error {
	thread, err := e.store.GetWorkflowThread(ctx, workflowThreadID)
	if err != nil {
		return fmt.Errorf("workflow: resume: load thread: %w", err)
	}
	if !thread.Resumable() {
		return fmt.Errorf("workflow: resume: thread %s is not resumable: %w", workflowThreadID, pkgerrors.ErrCheckpointMissing)
	}

	state, err := e.checkpointer.Get(ctx, workflowThreadID, thread.CheckpointID)
	if err != nil {
		return fmt.Errorf("workflow: resume: checkpoint %s missing or unreadable for thread %s (possible causes: in-memory store across restarts, misconfigured database, expired or deleted checkpoint): %w",
			thread.CheckpointID, workflowThreadID, errors.Join(pkgerrors.ErrCheckpointMissing, err))
	}

	if err := e.postCall.Run(ctx, state.RoomName, workflowThreadID); err != nil {
		return fmt.Errorf("workflow: resume: process_transcript failed: %w", err)
	}

	thread, err = e.store.GetWorkflowThread(ctx, workflowThreadID)
	if err != nil {
		return fmt.Errorf("workflow: resume: reload thread after process_transcript: %w", err)
	}
	thread.WorkflowPaused = false
	return e.store.UpdateWorkflowThread(ctx, thread)
}

// PostCallDirect implements pipeline.Resumer's fallback path: invoke the
// Post-Call Pipeline directly, bypassing the graph, when no paused thread
// could be found at all.
func (e *Engine) PostCallDirect(ctx context.Context, roomName, workflowThreadID string) error {
	return e.postCall.Run(ctx, roomName, workflowThreadID)
}

var _ pipeline.Resumer = (*Engine)(nil)
