package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const downloadAudience = "export-download"

var (
	// ErrTokenInvalid covers malformed, tampered, expired or foreign tokens.
	ErrTokenInvalid = errors.New("storage: download token invalid")
	// ErrSignerNotConfigured is returned when no secret was supplied.
	ErrSignerNotConfigured = errors.New("storage: download signing secret missing")
)

// DownloadGrant is what a valid download token unlocks.
type DownloadGrant struct {
	ExportID  string
	Path      string
	ExpiresAt time.Time
}

type downloadClaims struct {
	Path string `json:"path"`
	jwt.RegisteredClaims
}

// DownloadSigner issues short lived HS256 tokens naming one stored export. The audience keeps them
// from being accepted as session tokens and the other way round.
type DownloadSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewDownloadSigner defaults ttl to 24h.
func NewDownloadSigner(secret string, ttl time.Duration) *DownloadSigner {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &DownloadSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a grant for path.
func (s *DownloadSigner) Issue(exportID, path string) (string, time.Time, error) {
	if len(s.secret) == 0 {
		return "", time.Time{}, ErrSignerNotConfigured
	}
	if exportID == "" || path == "" {
		return "", time.Time{}, fmt.Errorf("export id and path are required")
	}
	issued := s.now()
	expiresAt := issued.Add(s.ttl).Truncate(time.Second)
	claims := downloadClaims{
		Path: path,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        exportID,
			Audience:  jwt.ClaimStrings{downloadAudience},
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign download token: %w", err)
	}
	return token, expiresAt, nil
}

// Verify checks signature, audience and expiry.
func (s *DownloadSigner) Verify(token string) (DownloadGrant, error) {
	if len(s.secret) == 0 {
		return DownloadGrant{}, ErrSignerNotConfigured
	}
	var claims downloadClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(downloadAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return DownloadGrant{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if claims.ID == "" || claims.Path == "" {
		return DownloadGrant{}, ErrTokenInvalid
	}
	return DownloadGrant{ExportID: claims.ID, Path: claims.Path, ExpiresAt: claims.ExpiresAt.Time}, nil
}
