package postcall

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendSummaryEmail_MissingAPIKeyIsAnError(t *testing.T) {
	err := SendSummaryEmail(context.Background(), EmailConfig{}, "a@example.com", "engineering", "Jordan", "summary")
	require.Error(t, err)
}

func TestSendSummaryEmail_NonSuccessStatusIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	cfg := EmailConfig{APIKey: "key", Client: server.Client(), BaseURL: server.URL}
	err := SendSummaryEmail(context.Background(), cfg, "a@example.com", "engineering", "Jordan", "summary")
	require.Error(t, err)
}

func TestSendSummaryEmail_SuccessReturnsNil(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"abc"}`))
	}))
	defer server.Close()

	cfg := EmailConfig{APIKey: "key-123", Client: server.Client(), BaseURL: server.URL}
	err := SendSummaryEmail(context.Background(), cfg, "a@example.com", "engineering", "Jordan", "summary")
	require.NoError(t, err)
	assert.Equal(t, "Bearer key-123", gotAuth)
}
