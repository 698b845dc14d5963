package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// unkeyKeyIDContextKey is the gin context key BearerAuth stores the
// resolved unkey_key_id under, per §6's "Authentication contract".
const unkeyKeyIDContextKey = "unkey_key_id"

// KeyVerifier resolves an opaque bearer token to a unkey_key_id. Handlers
// downstream use the id to look up the billing identity via the ledger.
type KeyVerifier interface {
	Verify(ctx context.Context, token string) (unkeyKeyID string, ok bool, err error)
}

// NoopVerifier accepts any non-empty token verbatim as the key id. Used
// when no external key-verification service is configured.
type NoopVerifier struct{}

func (NoopVerifier) Verify(_ context.Context, token string) (string, bool, error) {
	if token == "" {
		return "", false, nil
	}
	return token, true, nil
}

// HTTPKeyVerifier verifies bearer tokens against an external
// key-verification service (§6: "POST to its verify endpoint").
type HTTPKeyVerifier struct {
	VerifyURL string
	Client    *http.Client
}

// NewHTTPKeyVerifier builds an HTTPKeyVerifier. A nil client defaults to a
// 5s-timeout http.Client.
func NewHTTPKeyVerifier(verifyURL string, client *http.Client) *HTTPKeyVerifier {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPKeyVerifier{VerifyURL: verifyURL, Client: client}
}

type verifyRequest struct {
	Key string `json:"key"`
}

type verifyResponse struct {
	Valid bool   `json:"valid"`
	KeyID string `json:"key_id"`
}

// Verify posts the token to the configured verification endpoint.
func (v *HTTPKeyVerifier) Verify(ctx context.Context, token string) (string, bool, error) {
	body, err := json.Marshal(verifyRequest{Key: token})
	if err != nil {
		return "", false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.VerifyURL, strings.NewReader(string(body)))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.Client.Do(req)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", false, nil
	}

	var parsed verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", false, err
	}
	if !parsed.Valid {
		return "", false, nil
	}
	return parsed.KeyID, true, nil
}

// BearerAuth builds gin middleware enforcing the Authorization: Bearer
// <token> contract (§6). On success it stores the resolved unkey_key_id in
// the gin context so downstream handlers can resolve the billing user.
func BearerAuth(verifier KeyVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, hasPrefix := strings.CutPrefix(header, "Bearer ")
		if header == "" || !hasPrefix || token == "" {
			writeError(c, http.StatusUnauthorized, "unauthorized", "missing or malformed Authorization header")
			c.Abort()
			return
		}

		unkeyKeyID, ok, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			writeError(c, http.StatusUnauthorized, "unauthorized", "key verification failed")
			c.Abort()
			return
		}
		if !ok {
			writeError(c, http.StatusUnauthorized, "unauthorized", "invalid bearer token")
			c.Abort()
			return
		}

		c.Set(unkeyKeyIDContextKey, unkeyKeyID)
		c.Next()
	}
}

// unkeyKeyIDFrom reads the unkey_key_id set by BearerAuth.
func unkeyKeyIDFrom(c *gin.Context) string {
	v, _ := c.Get(unkeyKeyIDContextKey)
	s, _ := v.(string)
	return s
}
