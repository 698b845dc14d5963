package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testField(t *testing.T) *Field {
	t.Helper()
	f, err := NewField("a-passphrase-that-is-at-least-32-chars-long")
	require.NoError(t, err)
	return f
}

func TestField_EncryptDecryptRoundTrip(t *testing.T) {
	f := testField(t)

	plaintext := "candidate@example.com"
	ct, err := f.Encrypt(plaintext)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ct, cipherPrefix))
	assert.NotEqual(t, plaintext, ct)

	got, err := f.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestField_EncryptEmptyString(t *testing.T) {
	f := testField(t)
	ct, err := f.Encrypt("")
	require.NoError(t, err)
	assert.Equal(t, "", ct)
}

func TestField_DecryptPlaintextFallsBackGracefully(t *testing.T) {
	// I1: rows written before encryption was enabled must remain readable.
	f := testField(t)
	got, err := f.Decrypt("plain-old-value@example.com")
	require.NoError(t, err)
	assert.Equal(t, "plain-old-value@example.com", got)
}

func TestField_DecryptCorruptedCiphertextFallsBack(t *testing.T) {
	f := testField(t)
	got, err := f.Decrypt(cipherPrefix + "not-valid-base64!!!")
	require.NoError(t, err)
	assert.Equal(t, cipherPrefix+"not-valid-base64!!!", got)
}

func TestField_DecryptWithWrongKeyFallsBack(t *testing.T) {
	f1 := testField(t)
	f2, err := NewField("a-different-passphrase-at-least-32-chars!!")
	require.NoError(t, err)

	ct, err := f1.Encrypt("secret-value")
	require.NoError(t, err)

	got, err := f2.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, ct, got, "undecryptable ciphertext must be returned verbatim, not error")
}

func TestNewField_RejectsShortPassphrase(t *testing.T) {
	_, err := NewField("too-short")
	assert.Error(t, err)
}

func TestIsEncrypted(t *testing.T) {
	f := testField(t)
	ct, err := f.Encrypt("hello")
	require.NoError(t, err)
	assert.True(t, IsEncrypted(ct))
	assert.False(t, IsEncrypted("hello"))
}
