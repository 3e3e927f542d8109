package identity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/devaloi/giftline/internal/domain"
)

func TestIssueAndAuthenticate(t *testing.T) {
	t.Parallel()
	j, err := NewJWT([]byte("test-secret"), time.Hour)
	require.NoError(t, err)

	token, err := j.IssueToken("alice")
	require.NoError(t, err)

	user, err := j.Authenticate(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, "alice", user)
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	t.Parallel()
	j, err := NewJWT([]byte("test-secret"), time.Hour)
	require.NoError(t, err)
	other, err := NewJWT([]byte("other-secret"), time.Hour)
	require.NoError(t, err)

	forged, err := other.IssueToken("alice")
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: "alice"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"empty":    "",
		"garbage":  "not-a-token",
		"forged":   forged,
		"alg none": unsigned,
	} {
		_, err := j.Authenticate(context.Background(), token)
		require.ErrorIs(t, err, domain.ErrUnauthenticated, name)
	}
}

func TestAuthenticateExpired(t *testing.T) {
	t.Parallel()
	j, err := NewJWT([]byte("test-secret"), time.Minute)
	require.NoError(t, err)

	issued := time.Now().Add(-time.Hour)
	j.now = func() time.Time { return issued }
	token, err := j.IssueToken("alice")
	require.NoError(t, err)

	j.now = time.Now
	_, err = j.Authenticate(context.Background(), token)
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestNewJWTRequiresSecret(t *testing.T) {
	t.Parallel()
	_, err := NewJWT(nil, time.Hour)
	require.Error(t, err)
}
