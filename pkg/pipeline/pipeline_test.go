package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pailflow/pailflow/pkg/llm"
	"github.com/pailflow/pailflow/pkg/models"
	"github.com/pailflow/pailflow/pkg/persistence"
	"github.com/pailflow/pailflow/pkg/usage"
)

func seedPausedThread(t *testing.T, store *persistence.MemoryAdapter, roomName string) *models.WorkflowThread {
	t.Helper()
	thread := &models.WorkflowThread{
		WorkflowThreadID: "wf-" + roomName,
		RoomName:         roomName,
		BotEnabled:       true,
		WorkflowPaused:   true,
	}
	require.NoError(t, store.CreateWorkflowThread(context.Background(), thread))
	return thread
}

func TestSpeakerTracker_AutoMapsFirstUnmappedParticipant(t *testing.T) {
	join := NewJoinOrder()
	join.Append("session-1")
	join.Append("session-2")

	tracker := NewSpeakerTracker(join)

	assert.Equal(t, "session-1", tracker.Resolve("speaker-0"))
	// Same diarization id resolves to the same participant on repeat sightings.
	assert.Equal(t, "session-1", tracker.Resolve("speaker-0"))
	assert.Equal(t, "session-2", tracker.Resolve("speaker-1"))
}

func TestSpeakerTracker_BindActiveSpeakerOverridesMapping(t *testing.T) {
	join := NewJoinOrder()
	join.Append("session-1")
	tracker := NewSpeakerTracker(join)

	tracker.Resolve("speaker-0")
	assert.Equal(t, "speaker-0", tracker.LastSpeakerID())

	tracker.BindActiveSpeaker("session-1")
	assert.Equal(t, "session-1", tracker.Resolve("speaker-0"))
}

func TestJoinOrder_AppendIgnoresDuplicates(t *testing.T) {
	join := NewJoinOrder()
	join.Append("a")
	join.Append("b")
	join.Append("a")
	assert.Equal(t, []string{"a", "b"}, join.Snapshot())
}

// TestTranscriptHandler_AssistantSpeakerIsBotName covers seed scenario 1
// (a basic interview transcript with alternating bot/candidate turns).
func TestTranscriptHandler_AssistantSpeakerIsBotName(t *testing.T) {
	store := persistence.NewMemoryAdapter()
	thread := seedPausedThread(t, store, "room-1")

	join := NewJoinOrder()
	join.Append("participant-1")
	handler := NewTranscriptHandler(store, "room-1", "Interview Bot", join)
	handler.SyncParticipants([]Participant{{SessionID: "participant-1", Name: "Ada"}}, "bot-session")

	ctx := context.Background()
	require.NoError(t, handler.OnTranscriptUpdate(ctx, []TranscriptMessage{
		{Role: "assistant", Content: "Welcome, tell me about yourself."},
	}))
	require.NoError(t, handler.OnTranscriptUpdate(ctx, []TranscriptMessage{
		{Role: "user", UserID: "participant-1", Content: "I'm Ada, a software engineer."},
	}))

	text := handler.Transcript()
	assert.Contains(t, text, "Interview Bot: Welcome, tell me about yourself.")
	assert.Contains(t, text, "Ada: I'm Ada, a software engineer.")

	got, err := store.GetWorkflowThread(ctx, thread.WorkflowThreadID)
	require.NoError(t, err)
	assert.Equal(t, text, got.TranscriptText)
}

// TestTranscriptHandler_SingleParticipantFallback covers the "exactly one
// participant known" branch of §4.2.1's speaker-name resolution chain.
func TestTranscriptHandler_SingleParticipantFallback(t *testing.T) {
	store := persistence.NewMemoryAdapter()
	seedPausedThread(t, store, "room-2")

	join := NewJoinOrder()
	join.Append("participant-1")
	handler := NewTranscriptHandler(store, "room-2", "Interview Bot", join)
	handler.SyncParticipants([]Participant{{SessionID: "participant-1", Name: "Grace"}}, "bot-session")

	require.NoError(t, handler.OnTranscriptUpdate(context.Background(), []TranscriptMessage{
		{Role: "user", UserID: "unknown-id", Content: "Hello"},
	}))
	assert.Contains(t, handler.Transcript(), "Grace: Hello")
}

// TestTranscriptHandler_UnresolvedSpeakerFallsBackToUser covers the final
// "User" fallback when no participant can be matched.
func TestTranscriptHandler_UnresolvedSpeakerFallsBackToUser(t *testing.T) {
	store := persistence.NewMemoryAdapter()
	seedPausedThread(t, store, "room-3")

	join := NewJoinOrder()
	handler := NewTranscriptHandler(store, "room-3", "Interview Bot", join)

	require.NoError(t, handler.OnTranscriptUpdate(context.Background(), []TranscriptMessage{
		{Role: "user", UserID: "nobody", Content: "Hello?"},
	}))
	assert.Contains(t, handler.Transcript(), "User: Hello?")
}

func TestTranscriptHandler_ResolvesThreadIDByRoomNameOnFirstUse(t *testing.T) {
	store := persistence.NewMemoryAdapter()
	thread := seedPausedThread(t, store, "room-4")

	join := NewJoinOrder()
	handler := NewTranscriptHandler(store, "room-4", "Bot", join)

	id, err := handler.ResolveWorkflowThreadID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, thread.WorkflowThreadID, id)
	assert.Equal(t, thread.WorkflowThreadID, handler.WorkflowThreadID())
}

func TestTranscriptHandler_NoOwningThreadIsNotAnError(t *testing.T) {
	store := persistence.NewMemoryAdapter()
	join := NewJoinOrder()
	handler := NewTranscriptHandler(store, "room-nonexistent", "Bot", join)

	id, err := handler.ResolveWorkflowThreadID(context.Background())
	require.NoError(t, err)
	assert.Empty(t, id)
}

// fakeLLM returns a fixed reply and usage for every Complete call.
type fakeLLM struct {
	text             string
	promptTokens     int
	completionTokens int
}

func (f *fakeLLM) Complete(_ context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{
		Text: f.text,
		Usage: llm.Usage{
			PromptTokens:     f.promptTokens,
			CompletionTokens: f.completionTokens,
			TotalTokens:      f.promptTokens + f.completionTokens,
		},
	}, nil
}

var _ llm.Client = (*fakeLLM)(nil)

func TestPipeline_MetricsTapRecordsCostAgainstWorkflowThread(t *testing.T) {
	store := persistence.NewMemoryAdapter()
	thread := seedPausedThread(t, store, "room-5")
	tracker := usage.NewTracker(store)

	join := NewJoinOrder()
	handler := NewTranscriptHandler(store, "room-5", "Bot", join)
	speakerTracker := NewSpeakerTracker(join)

	p := NewPipeline(
		Config{AnimationFramesPerSprite: 1},
		nil, nil, nil,
		&fakeLLM{text: "hi", promptTokens: 1000, completionTokens: 1000},
		speakerTracker, handler, tracker,
		"claude-3-5-haiku", "system prompt",
		Animation{},
	)
	p.SetWorkflowThreadID(thread.WorkflowThreadID)

	p.metricsTap(context.Background(), llm.Usage{PromptTokens: 1_000_000, CompletionTokens: 1_000_000})

	got, err := store.GetWorkflowThread(context.Background(), thread.WorkflowThreadID)
	require.NoError(t, err)
	assert.Greater(t, got.UsageStats.TotalCostUSD, 0.0)
}

func TestPingPong_ExtendsSequenceForSmoothLoop(t *testing.T) {
	frames := [][]byte{{1}, {2}, {3}}
	out := pingPong(frames)
	assert.Equal(t, [][]byte{{1}, {2}, {3}, {2}}, out)
}

func TestPingPong_ShortSequenceUnchanged(t *testing.T) {
	assert.Equal(t, [][]byte{{1}}, pingPong([][]byte{{1}}))
	assert.Nil(t, pingPong(nil))
}
