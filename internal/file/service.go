// Package file exposes the storage facade to the UI: URL issuance and uploads
// keyed by caller-chosen storage keys.
package file

import (
	"context"

	"github.com/gridfiles/service/internal/storage"
)

// Store is the part of the storage facade the file endpoints use.
type Store interface {
	GetURL(ctx context.Context, key string) (storage.AccessURL, error)
	GetPresignedURL(ctx context.Context, key string) (storage.AccessURL, error)
	Upload(ctx context.Context, key string, contents []byte, authToken string) (*storage.UploadResult, error)
	Delete(ctx context.Context, key string) error
}

// Service passes file operations through to the storage facade.
type Service struct {
	store Store
}

// NewService creates a new file Service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// GetFileURL returns the backend's default URL for key.
func (s *Service) GetFileURL(ctx context.Context, key string) (storage.AccessURL, error) {
	return s.store.GetURL(ctx, key)
}

// GetPresignedFileURL returns a time-limited URL for key.
func (s *Service) GetPresignedFileURL(ctx context.Context, key string) (storage.AccessURL, error) {
	return s.store.GetPresignedURL(ctx, key)
}

// UploadFile stores contents under key, forwarding authToken to the backend.
func (s *Service) UploadFile(ctx context.Context, key string, contents []byte, authToken string) (*storage.UploadResult, error) {
	return s.store.Upload(ctx, key, contents, authToken)
}

// DeleteFile removes the payload stored under key.
func (s *Service) DeleteFile(ctx context.Context, key string) error {
	return s.store.Delete(ctx, key)
}
