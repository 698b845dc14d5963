package postcall

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pailflow/pailflow/pkg/accounting"
	"github.com/pailflow/pailflow/pkg/models"
	"github.com/pailflow/pailflow/pkg/persistence"
	"github.com/pailflow/pailflow/pkg/usage"
)

func seedThreadForPipeline(t *testing.T, store *persistence.MemoryAdapter, id string, mutate func(*models.WorkflowThread)) {
	t.Helper()
	thread := &models.WorkflowThread{
		WorkflowThreadID: id,
		RoomName:         "room-pipe",
		BotConfig: map[string]any{
			"name":             "Interviewer",
			"interview_type":   "engineering",
			"participant_name": "Jordan",
		},
		TranscriptText: "[2026-01-01T00:00:00Z] Interviewer: What is your experience with Go?\n" +
			"[2026-01-01T00:00:05Z] Participant 1: Five years.\n",
		Metadata: map[string]any{},
	}
	if mutate != nil {
		mutate(thread)
	}
	require.NoError(t, store.CreateWorkflowThread(context.Background(), thread))
}

func TestPipeline_Run_ParsesInsightsAndPersistsFinalState(t *testing.T) {
	store := persistence.NewMemoryAdapter()
	seedThreadForPipeline(t, store, "wf-run-1", nil)

	client := &fakeLLM{text: `{"overall_score":7,"strengths":["clarity"],"weaknesses":[],"question_assessments":[{"question":"What is your experience with Go?","answer":"Five years.","score":7,"notes":"good"}]}`}

	p := New(Config{
		Store:   store,
		LLM:     client,
		Model:   "claude-sonnet-4-6",
		Tracker: usage.NewTracker(store),
	})

	err := p.Run(context.Background(), "room-pipe", "wf-run-1")
	require.NoError(t, err)

	thread, err := store.GetWorkflowThread(context.Background(), "wf-run-1")
	require.NoError(t, err)
	assert.True(t, thread.TranscriptProcessed)
	assert.Len(t, thread.QAPairs, 1)
	assert.Equal(t, float64(7), thread.Insights.OverallScore)
	assert.Contains(t, thread.CandidateSummary, "Jordan")
	assert.False(t, thread.EmailSent)
	assert.False(t, thread.WebhookSent)
}

func TestPipeline_Run_SendsEmailAndWebhookWhenConfigured(t *testing.T) {
	store := persistence.NewMemoryAdapter()

	var webhookCalls int
	webhookServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		webhookCalls++
		w.WriteHeader(http.StatusOK)
	}))
	defer webhookServer.Close()

	var emailCalls int
	emailServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		emailCalls++
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"e1"}`))
	}))
	defer emailServer.Close()

	seedThreadForPipeline(t, store, "wf-run-2", func(th *models.WorkflowThread) {
		th.WebhookCallbackURL = webhookServer.URL
		th.EmailResultsTo = "candidate@example.com"
	})

	client := &fakeLLM{text: "not json"}
	p := New(Config{
		Store:   store,
		LLM:     client,
		Model:   "claude-sonnet-4-6",
		Tracker: usage.NewTracker(store),
		Email:   EmailConfig{APIKey: "key", Client: emailServer.Client(), BaseURL: emailServer.URL},
		Webhook: WebhookConfig{Client: webhookServer.Client()},
	})

	err := p.Run(context.Background(), "room-pipe", "wf-run-2")
	require.NoError(t, err)

	thread, err := store.GetWorkflowThread(context.Background(), "wf-run-2")
	require.NoError(t, err)
	assert.True(t, thread.WebhookSent)
	assert.True(t, thread.EmailSent)
	assert.Equal(t, 1, webhookCalls)
	assert.Equal(t, 1, emailCalls)
}

func TestPipeline_Run_AlreadySentFlagsAreNotResent(t *testing.T) {
	store := persistence.NewMemoryAdapter()
	var webhookCalls int
	webhookServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		webhookCalls++
		w.WriteHeader(http.StatusOK)
	}))
	defer webhookServer.Close()

	seedThreadForPipeline(t, store, "wf-run-3", func(th *models.WorkflowThread) {
		th.WebhookCallbackURL = webhookServer.URL
		th.WebhookSent = true
	})

	p := New(Config{
		Store:   store,
		LLM:     &fakeLLM{text: "not json"},
		Model:   "claude-sonnet-4-6",
		Tracker: usage.NewTracker(store),
		Webhook: WebhookConfig{Client: webhookServer.Client()},
	})

	require.NoError(t, p.Run(context.Background(), "room-pipe", "wf-run-3"))
	assert.Equal(t, 0, webhookCalls)
}

func TestPipeline_Run_ResolvesThreadByRoomNameWhenIDUnknown(t *testing.T) {
	store := persistence.NewMemoryAdapter()
	seedThreadForPipeline(t, store, "wf-run-4", func(th *models.WorkflowThread) {
		th.WorkflowPaused = true
		th.CheckpointID = "cp-1"
	})

	p := New(Config{
		Store:   store,
		LLM:     &fakeLLM{text: "not json"},
		Model:   "claude-sonnet-4-6",
		Tracker: usage.NewTracker(store),
	})

	err := p.Run(context.Background(), "room-pipe", "")
	require.NoError(t, err)
}

func TestPipeline_Run_CreatesSecondaryUsageTransaction(t *testing.T) {
	store := persistence.NewMemoryAdapter()
	store.SeedUser(&models.User{ID: "user-1", UnkeyID: "key-1", CreditBalance: 10})
	seedThreadForPipeline(t, store, "wf-run-5", func(th *models.WorkflowThread) {
		th.UnkeyKeyID = "key-1"
		d := 120.0
		th.BotDurationS = &d
	})

	p := New(Config{
		Store:   store,
		LLM:     &fakeLLM{text: "not json"},
		Model:   "claude-sonnet-4-6",
		Tracker: usage.NewTracker(store),
		Ledger:  accounting.NewLedger(store, 0.15),
	})

	require.NoError(t, p.Run(context.Background(), "room-pipe", "wf-run-5"))

	has, err := store.HasUsageTransaction(context.Background(), "wf-run-5")
	require.NoError(t, err)
	assert.True(t, has)
}
