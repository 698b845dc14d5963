package postcall

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pailflow/pailflow/pkg/models"
)

func sampleThread() *models.WorkflowThread {
	return &models.WorkflowThread{
		WorkflowThreadID: "wf-1",
		RoomName:         "room-1",
		QAPairs:          sampleQAPairs(),
		Insights:         &models.Insights{OverallScore: 7},
		CandidateSummary: "summary text",
	}
}

func TestSendWebhook_SuccessOnFirstAttempt(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := SendWebhook(context.Background(), WebhookConfig{Client: server.Client(), InitialDelay: time.Millisecond}, server.URL, sampleThread())
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls)
}

func TestSendWebhook_RetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := SendWebhook(context.Background(), WebhookConfig{Client: server.Client(), InitialDelay: time.Millisecond, MaxAttempts: 3}, server.URL, sampleThread())
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls)
}

func TestSendWebhook_ExhaustsAttemptsOnPersistent5xx(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	err := SendWebhook(context.Background(), WebhookConfig{Client: server.Client(), InitialDelay: time.Millisecond, MaxAttempts: 3}, server.URL, sampleThread())
	require.Error(t, err)
	assert.Equal(t, int32(3), calls)
}

func TestSendWebhook_4xxIsNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	err := SendWebhook(context.Background(), WebhookConfig{Client: server.Client(), InitialDelay: time.Millisecond, MaxAttempts: 3}, server.URL, sampleThread())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls)
}
