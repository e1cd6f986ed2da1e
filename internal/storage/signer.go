package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// urlSigner issues and verifies the tokens carried by local presigned URLs.
// A token binds one key to an expiry; it is verified without touching the filesystem.
type urlSigner struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

func newURLSigner(secret string, expiry time.Duration) (*urlSigner, error) {
	if secret == "" {
		return nil, errors.New("signing secret is required")
	}
	if expiry < time.Second {
		return nil, fmt.Errorf("presign expiry %s is below one second", expiry)
	}
	return &urlSigner{secret: []byte(secret), expiry: expiry, now: time.Now}, nil
}

// sign returns a token for key and the instant it stops being valid.
func (s *urlSigner) sign(key string) (string, time.Time, error) {
	issued := s.now()
	// JWT expiry has whole-second precision; round up so the token never
	// lapses before issued+expiry.
	deadline := issued.Add(s.expiry)
	if whole := deadline.Truncate(time.Second); !whole.Equal(deadline) {
		deadline = whole.Add(time.Second)
	}
	expires := jwt.NewNumericDate(deadline)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   key,
		IssuedAt:  jwt.NewNumericDate(issued),
		ExpiresAt: expires,
		ID:        uuid.NewString(),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign url token: %w", err)
	}
	return signed, expires.Time, nil
}

// verify checks that raw was issued for key and has not expired.
func (s *urlSigner) verify(raw, key string) error {
	_, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithSubject(key),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return nil
}
