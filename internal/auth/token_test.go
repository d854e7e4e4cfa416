package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyKnownPatterns(t *testing.T) {
	cases := []struct {
		token  string
		userID string
		roles  []string
	}{
		{"jwt-admin-abc", "admin-user-789", []string{"admin", "trader", "viewer"}},
		{"trader-session", "trader-user-123", []string{"trader", "viewer"}},
		{"viewer-token", "viewer-user-456", []string{"viewer"}},
		{"demo", "demo-user-001", []string{"viewer"}},
	}
	for _, tc := range cases {
		p, err := Verify(tc.token)
		require.NoError(t, err, tc.token)
		assert.Equal(t, tc.userID, p.UserID)
		assert.Equal(t, tc.roles, p.Roles)
	}
}

func TestVerifyFallbackDerivesFromPrefix(t *testing.T) {
	p, err := Verify("opaque-bearer-string")
	require.NoError(t, err)
	assert.Equal(t, "authenticated-user-opaque-b", p.UserID)
	assert.Equal(t, []string{"viewer"}, p.Roles)

	short, err := Verify("abc")
	require.NoError(t, err)
	assert.Equal(t, "authenticated-user-abc", short.UserID)
}

func TestVerifyRejectsEmptyToken(t *testing.T) {
	_, err := Verify("")
	assert.Error(t, err)
}

func TestHasRole(t *testing.T) {
	p := Principal{UserID: "u", Roles: []string{"trader", "viewer"}}
	assert.True(t, p.HasRole("trader"))
	assert.False(t, p.HasRole("admin"))
}

func TestResumeTokenDeterministic(t *testing.T) {
	a := NewResumeToken("trader-user-123", "dev-1", 1700000000000, "secret")
	b := NewResumeToken("trader-user-123", "dev-1", 1700000000000, "secret")
	c := NewResumeToken("trader-user-123", "dev-1", 1700000000001, "secret")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.False(t, a.IsZero())
	assert.True(t, ResumeToken{}.IsZero())
}

func TestResumeTokenWireForm(t *testing.T) {
	tok := NewResumeToken("u", "d", 42, "s")
	hexForm := tok.Hex()
	assert.Len(t, hexForm, 32)

	parsed, err := ParseResumeToken(hexForm)
	require.NoError(t, err)
	assert.Equal(t, tok, parsed)
}

func TestParseResumeTokenRejectsBadInput(t *testing.T) {
	_, err := ParseResumeToken("short")
	assert.Error(t, err)

	_, err = ParseResumeToken("zz" + NewResumeToken("u", "d", 1, "s").Hex()[2:])
	assert.Error(t, err)
}
