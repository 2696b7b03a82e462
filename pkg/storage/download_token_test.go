package storage

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadSignerRoundTrip(t *testing.T) {
	signer := NewDownloadSigner("secret", time.Hour)
	token, expiresAt, err := signer.Issue("export-1", "grievances/export-1.csv")
	require.NoError(t, err)

	grant, err := signer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "export-1", grant.ExportID)
	assert.Equal(t, "grievances/export-1.csv", grant.Path)
	assert.True(t, grant.ExpiresAt.Equal(expiresAt))
}

func TestDownloadSignerExpired(t *testing.T) {
	signer := NewDownloadSigner("secret", time.Minute)
	issuedAt := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	signer.now = func() time.Time { return issuedAt }
	token, _, err := signer.Issue("export-1", "grievances/export-1.pdf")
	require.NoError(t, err)

	signer.now = func() time.Time { return issuedAt.Add(2 * time.Minute) }
	_, err = signer.Verify(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestDownloadSignerRejectsTamperingAndForeignTokens(t *testing.T) {
	signer := NewDownloadSigner("secret", time.Hour)
	token, _, err := signer.Issue("export-1", "grievances/export-1.csv")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	parts[1] = base64.RawURLEncoding.EncodeToString([]byte(`{"path":"../../etc/passwd","jti":"export-1","aud":["export-download"],"exp":4102444800}`))
	_, err = signer.Verify(strings.Join(parts, "."))
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, err = NewDownloadSigner("other", time.Hour).Verify(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	session, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ID:        "export-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = signer.Verify(session)
	assert.ErrorIs(t, err, ErrTokenInvalid, "tokens without the download audience are refused")
}

func TestDownloadSignerWithoutSecret(t *testing.T) {
	_, _, err := NewDownloadSigner("", time.Hour).Issue("e", "p")
	assert.ErrorIs(t, err, ErrSignerNotConfigured)
}
