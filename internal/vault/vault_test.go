package vault

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretRoundTrip(t *testing.T) {
	v := New()

	cleartext := []byte("hunter2-api-key")
	require.NoError(t, v.Store("github-token", "api-key", cleartext, map[string]string{"provider": "github"}, 0))

	tok, err := v.IssueToken("github-token", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	resolved, err := v.Resolve(tok)
	require.NoError(t, err)
	assert.Equal(t, cleartext, append([]byte(nil), resolved...), "resolved cleartext must match the original exactly")
}

func TestResolveUnknownToken(t *testing.T) {
	v := New()

	_, err := v.Resolve("not-a-token")
	var credErr *CredentialError
	require.ErrorAs(t, err, &credErr)
}

func TestTokenExpiry(t *testing.T) {
	v := New()
	require.NoError(t, v.Store("s1", "password", []byte("pw"), nil, 0))

	tok, err := v.IssueToken("s1", time.Nanosecond)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = v.Resolve(tok)
	var credErr *CredentialError
	require.ErrorAs(t, err, &credErr, "resolving after expiry must fail, never return cleartext")
	assert.Contains(t, credErr.Error(), "expired")
}

func TestSecretExpiry(t *testing.T) {
	v := New()
	require.NoError(t, v.Store("s1", "password", []byte("pw"), nil, time.Nanosecond))

	tok, err := v.IssueToken("s1", time.Minute)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = v.Resolve(tok)
	require.Error(t, err)
}

func TestDeleteInvalidatesTokens(t *testing.T) {
	v := New()
	require.NoError(t, v.Store("s1", "password", []byte("pw"), nil, 0))

	tok, err := v.IssueToken("s1", 0)
	require.NoError(t, err)

	v.Delete("s1")

	_, err = v.Resolve(tok)
	require.Error(t, err)
}

func TestIssueTokenUnknownSecret(t *testing.T) {
	v := New()

	_, err := v.IssueToken("missing", time.Minute)
	var credErr *CredentialError
	require.True(t, errors.As(err, &credErr))
	assert.Equal(t, "missing", credErr.SecretID)
}

func TestProcessIsolation(t *testing.T) {
	// Two vaults have distinct root keys; a secret stored in one is not
	// reachable through the other even with a colliding token namespace.
	v1 := New()
	v2 := New()

	require.NoError(t, v1.Store("s1", "password", []byte("pw"), nil, 0))
	tok, err := v1.IssueToken("s1", time.Minute)
	require.NoError(t, err)

	_, err = v2.Resolve(tok)
	require.Error(t, err)
}

func TestMask(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"abc", "***"},
		{"secret", "******"},
		{"supersecret", "su*******et"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Mask(tt.in))
	}
}
