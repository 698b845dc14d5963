package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopVerifier_RejectsEmptyToken(t *testing.T) {
	_, ok, err := NoopVerifier{}.Verify(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNoopVerifier_AcceptsAnyNonEmptyToken(t *testing.T) {
	id, ok, err := NoopVerifier{}.Verify(context.Background(), "tok-123")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tok-123", id)
}

func TestHTTPKeyVerifier_ResolvesKeyIDOnValidToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body verifyRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "tok-abc", body.Key)
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(verifyResponse{Valid: true, KeyID: "key-1"})
	}))
	defer server.Close()

	v := NewHTTPKeyVerifier(server.URL, server.Client())
	id, ok, err := v.Verify(context.Background(), "tok-abc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "key-1", id)
}

func TestHTTPKeyVerifier_RejectsInvalidToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(verifyResponse{Valid: false})
	}))
	defer server.Close()

	v := NewHTTPKeyVerifier(server.URL, server.Client())
	_, ok, err := v.Verify(context.Background(), "tok-bad")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBearerAuth_MissingHeaderIsUnauthorized(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/protected", BearerAuth(NoopVerifier{}), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBearerAuth_ValidTokenSetsUnkeyKeyID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/protected", BearerAuth(NoopVerifier{}), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"unkey_key_id": unkeyKeyIDFrom(c)})
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer my-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "my-token")
}
