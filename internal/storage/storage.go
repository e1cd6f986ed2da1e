// Package storage stores opaque payloads under string keys and issues access URLs for them.
// The backend (local filesystem or an S3-compatible object store) is chosen once by New
// and every Storage operation dispatches to it.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Kind identifies a storage backend implementation.
type Kind string

const (
	KindLocal  Kind = "local-filesystem"
	KindRemote Kind = "remote-object-storage"
)

// ParseKind normalizes a configured backend name. The short names "file-system" and "s3"
// are accepted as aliases. Unknown names are returned as-is together with ErrUnsupportedBackend.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(KindLocal), "file-system", "filesystem", "local":
		return KindLocal, nil
	case string(KindRemote), "s3", "minio":
		return KindRemote, nil
	default:
		return Kind(s), fmt.Errorf("%w: %q", ErrUnsupportedBackend, s)
	}
}

// URLKind tells whether an AccessURL needs independent authorization or carries its own.
type URLKind string

const (
	// URLDirect is long-lived and only valid while the caller is authorized by the serving layer.
	URLDirect URLKind = "direct"
	// URLPresigned embeds a signature and is valid on its own until ExpiresAt.
	URLPresigned URLKind = "presigned"
)

// AccessURL is a URL to a stored payload.
type AccessURL struct {
	URL       string    `json:"url"`
	Kind      URLKind   `json:"kind"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// UploadResult describes a stored payload.
type UploadResult struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Size   int64  `json:"size"`
	ETag   string `json:"etag,omitempty"`
}

// Backend is implemented by each concrete store.
type Backend interface {
	// Bucket names the logical container: the root directory or the bucket name.
	Bucket() string
	// Upload stores size bytes read from body under key. size may be -1 when unknown.
	// Either the whole payload becomes visible at key or nothing does.
	Upload(ctx context.Context, key string, body io.Reader, size int64, authToken string) (*UploadResult, error)
	// Delete removes the payload stored under key.
	Delete(ctx context.Context, key string) error
	// URL returns the backend's default access URL for key.
	URL(ctx context.Context, key string) (AccessURL, error)
	// PresignedURL returns a time-limited URL that needs no further credentials.
	PresignedURL(ctx context.Context, key string) (AccessURL, error)
	// UploadMiddleware returns a handler wrapper ingesting multipart uploads into the backend.
	UploadMiddleware() func(http.Handler) http.Handler
}

// Config selects and configures the backend.
type Config struct {
	Kind           string
	Local          LocalConfig
	Remote         MinioConfig
	MaxUploadBytes int64
}

// Storage dispatches to the backend resolved at construction. It is safe for concurrent use.
type Storage struct {
	kind    Kind
	backend Backend
}

// New resolves the configured backend. For an unknown kind the returned Storage is still
// usable and fails every operation with ErrUnsupportedBackend.
func New(ctx context.Context, cfg Config) (*Storage, error) {
	kind, err := ParseKind(cfg.Kind)
	if err != nil {
		return &Storage{kind: kind}, err
	}

	var backend Backend
	switch kind {
	case KindLocal:
		local := cfg.Local
		local.MaxUploadBytes = cfg.MaxUploadBytes
		backend, err = NewLocalStorage(local)
	case KindRemote:
		remote := cfg.Remote
		remote.MaxUploadBytes = cfg.MaxUploadBytes
		backend, err = NewMinioStorage(ctx, remote)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s storage: %w", kind, err)
	}

	return &Storage{kind: kind, backend: backend}, nil
}

// NewWithBackend wraps an already constructed backend.
func NewWithBackend(kind Kind, backend Backend) *Storage {
	return &Storage{kind: kind, backend: backend}
}

// Kind reports the resolved backend kind.
func (s *Storage) Kind() Kind {
	return s.kind
}

func (s *Storage) resolve() (Backend, error) {
	if s == nil || s.backend == nil {
		var kind Kind
		if s != nil {
			kind = s.kind
		}
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, kind)
	}
	return s.backend, nil
}

// GetURL returns the backend's default URL for key. For the local backend it is a direct
// URL; for the remote backend it is the same presigned URL GetPresignedURL returns.
func (s *Storage) GetURL(ctx context.Context, key string) (AccessURL, error) {
	b, err := s.resolve()
	if err != nil {
		return AccessURL{}, err
	}
	return b.URL(ctx, key)
}

// GetPresignedURL returns a time-limited URL for key.
func (s *Storage) GetPresignedURL(ctx context.Context, key string) (AccessURL, error) {
	b, err := s.resolve()
	if err != nil {
		return AccessURL{}, err
	}
	return b.PresignedURL(ctx, key)
}

// Upload stores contents under key. authToken is forwarded untouched to the backend;
// only the local backend consults it.
func (s *Storage) Upload(ctx context.Context, key string, contents []byte, authToken string) (*UploadResult, error) {
	b, err := s.resolve()
	if err != nil {
		return nil, err
	}
	return b.Upload(ctx, key, bytes.NewReader(contents), int64(len(contents)), authToken)
}

// Delete removes the payload stored under key.
func (s *Storage) Delete(ctx context.Context, key string) error {
	b, err := s.resolve()
	if err != nil {
		return err
	}
	return b.Delete(ctx, key)
}

// UploadMiddleware returns the backend's multipart ingest middleware.
func (s *Storage) UploadMiddleware() (func(http.Handler) http.Handler, error) {
	b, err := s.resolve()
	if err != nil {
		return nil, err
	}
	return b.UploadMiddleware(), nil
}

// FileServer returns the handler serving direct and presigned URLs when the backend
// serves its own files (the local backend does, object stores serve themselves).
func (s *Storage) FileServer() (http.Handler, bool) {
	b, err := s.resolve()
	if err != nil {
		return nil, false
	}
	fs, ok := b.(interface{ Handler() http.Handler })
	if !ok {
		return nil, false
	}
	return fs.Handler(), true
}
