package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pailflow/pailflow/pkg/models"
	"github.com/pailflow/pailflow/pkg/persistence"
	"github.com/pailflow/pailflow/pkg/pkgerrors"
)

type fakeOrchestrator struct {
	startErr error
	started  bool
}

func (f *fakeOrchestrator) StartBot(_ context.Context, _, _ string, _ map[string]any, _, _, _ string) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

type fakePostCall struct {
	calls    int
	lastRoom string
	runErr   error
}

func (f *fakePostCall) Run(_ context.Context, roomName, _ string) error {
	f.calls++
	f.lastRoom = roomName
	return f.runErr
}

func TestEngine_StartPersistsPausedThreadAndCheckspoint(t *testing.T) {
	store := persistence.NewMemoryAdapter()
	cp := NewInMemoryCheckpointer()
	orch := &fakeOrchestrator{}
	postCall := &fakePostCall{}

	engine := New(store, cp, orch, postCall)
	threadID, checkpointID, err := engine.Start(context.Background(), "https://room/r1", "tok", "r1", map[string]any{"k": "v"}, "", "")
	require.NoError(t, err)
	assert.NotEmpty(t, threadID)
	assert.NotEmpty(t, checkpointID)
	assert.True(t, orch.started)

	thread, err := store.GetWorkflowThread(context.Background(), threadID)
	require.NoError(t, err)
	assert.True(t, thread.WorkflowPaused)
	assert.Equal(t, checkpointID, thread.CheckpointID)
	assert.True(t, thread.Resumable())
}

func TestEngine_StartSurfacesOrchestratorFailure(t *testing.T) {
	store := persistence.NewMemoryAdapter()
	cp := NewInMemoryCheckpointer()
	orch := &fakeOrchestrator{startErr: errors.New("placement unavailable")}
	postCall := &fakePostCall{}

	engine := New(store, cp, orch, postCall)
	_, _, err := engine.Start(context.Background(), "https://room/r2", "", "r2", nil, "", "")
	require.Error(t, err)
}

func TestEngine_ResumeAdvancesToProcessTranscriptAndClearsPause(t *testing.T) {
	store := persistence.NewMemoryAdapter()
	cp := NewInMemoryCheckpointer()
	orch := &fakeOrchestrator{}
	postCall := &fakePostCall{}

	engine := New(store, cp, orch, postCall)
	threadID, _, err := engine.Start(context.Background(), "https://room/r3", "", "r3", nil, "", "")
	require.NoError(t, err)

	require.NoError(t, engine.Resume(context.Background(), threadID))
	assert.Equal(t, 1, postCall.calls)
	assert.Equal(t, "r3", postCall.lastRoom)

	thread, err := store.GetWorkflowThread(context.Background(), threadID)
	require.NoError(t, err)
	assert.False(t, thread.WorkflowPaused)
}

func TestEngine_ResumeNotResumableFailsWithCheckpointMissing(t *testing.T) {
	store := persistence.NewMemoryAdapter()
	cp := NewInMemoryCheckpointer()
	engine := New(store, cp, &fakeOrchestrator{}, &fakePostCall{})
	require.NoError(t, store.CreateWorkflowThread(context.Background(), &models.WorkflowThread{WorkflowThreadID: "not-paused"}))

	err := engine.Resume(context.Background(), "not-paused")
	require.Error(t, err)
	assert.ErrorIs(t, err, pkgerrors.ErrCheckpointMissing)
}

func TestEngine_PostCallDirectInvokesPostCallPipeline(t *testing.T) {
	postCall := &fakePostCall{}
	engine := New(persistence.NewMemoryAdapter(), NewInMemoryCheckpointer(), &fakeOrchestrator{}, postCall)

	require.NoError(t, engine.PostCallDirect(context.Background(), "room-x", "thread-x"))
	assert.Equal(t, 1, postCall.calls)
}
