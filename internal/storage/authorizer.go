package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Authorizer is the local backend's access check. It decides whether token may write
// or read key and returns an error wrapping ErrUnauthorized when it may not.
type Authorizer interface {
	Authorize(ctx context.Context, token, key string) error
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, token, key string) error

// Authorize calls f.
func (f AuthorizerFunc) Authorize(ctx context.Context, token, key string) error {
	return f(ctx, token, key)
}

// KeyPrefixClaim restricts a token to keys below the given prefix when present.
const KeyPrefixClaim = "key_prefix"

// JWTAuthorizer accepts HS256 tokens signed with Secret. A "Bearer " prefix is tolerated.
type JWTAuthorizer struct {
	Secret string
}

// Authorize validates token and, if it carries a key_prefix claim, checks that key lies under it.
func (a JWTAuthorizer) Authorize(_ context.Context, token, key string) error {
	raw := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if raw == "" {
		return fmt.Errorf("%w: missing token", ErrUnauthorized)
	}
	if a.Secret == "" {
		return fmt.Errorf("%w: authorizer has no secret", ErrUnauthorized)
	}

	parsed, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(a.Secret), nil
	})
	if err != nil || !parsed.Valid {
		return fmt.Errorf("%w: invalid or expired token", ErrUnauthorized)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return fmt.Errorf("%w: invalid token claims", ErrUnauthorized)
	}
	if prefix, _ := claims[KeyPrefixClaim].(string); prefix != "" {
		prefix = strings.TrimSuffix(prefix, "/") + "/"
		if !strings.HasPrefix(key, prefix) {
			return fmt.Errorf("%w: key %q outside token scope", ErrUnauthorized, key)
		}
	}
	return nil
}

// errUnauthorized normalizes authorizer failures so callers can always match ErrUnauthorized.
func errUnauthorized(err error) error {
	if errors.Is(err, ErrUnauthorized) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnauthorized, err)
}
