package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/gridfiles/service/internal/response"
)

// DefaultPresignExpiry is used when no presign expiry is configured.
const DefaultPresignExpiry = time.Hour

// LocalConfig configures LocalStorage.
type LocalConfig struct {
	// Root is the directory payloads are written under.
	Root string
	// PublicBase is the externally visible URL the Handler is mounted at,
	// e.g. "http://localhost:8080/storage".
	PublicBase string
	// SigningSecret signs presigned URLs.
	SigningSecret string
	PresignExpiry time.Duration
	// Authorizer is consulted for uploads and direct reads.
	Authorizer     Authorizer
	MaxUploadBytes int64
}

// LocalStorage keeps payloads as files below a root directory and serves them itself.
type LocalStorage struct {
	root           string
	publicBase     string
	signer         *urlSigner
	authz          Authorizer
	maxUploadBytes int64
}

// NewLocalStorage creates the root directory if needed and returns a ready LocalStorage.
func NewLocalStorage(cfg LocalConfig) (*LocalStorage, error) {
	if cfg.Root == "" {
		cfg.Root = "./data"
	}
	if strings.TrimSpace(cfg.PublicBase) == "" {
		return nil, errors.New("public base url is required")
	}
	if cfg.Authorizer == nil {
		return nil, errors.New("authorizer is required")
	}
	if cfg.PresignExpiry == 0 {
		cfg.PresignExpiry = DefaultPresignExpiry
	}

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %q: %w", cfg.Root, err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create root %q: %w", root, err)
	}

	signer, err := newURLSigner(cfg.SigningSecret, cfg.PresignExpiry)
	if err != nil {
		return nil, err
	}

	log.Info().Str("root", root).Msg("storage: using local filesystem")

	return &LocalStorage{
		root:           root,
		publicBase:     strings.TrimRight(cfg.PublicBase, "/"),
		signer:         signer,
		authz:          cfg.Authorizer,
		maxUploadBytes: cfg.MaxUploadBytes,
	}, nil
}

// Bucket returns the absolute root directory.
func (s *LocalStorage) Bucket() string {
	return s.root
}

func (s *LocalStorage) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// Upload writes body to a temporary file next to the destination and renames it into
// place, so readers see either the previous payload or the complete new one.
func (s *LocalStorage) Upload(ctx context.Context, key string, body io.Reader, size int64, authToken string) (*UploadResult, error) {
	k, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(ctx, authToken, k); err != nil {
		return nil, errUnauthorized(err)
	}

	dst := s.path(k)
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		if isPathConflict(err) {
			return nil, fmt.Errorf("%w: %q is below an existing file: %w", ErrInvalidKey, k, err)
		}
		return nil, fmt.Errorf("%w: create directory for %q: %w", ErrBackendUnavailable, k, err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("%w: create temp file for %q: %w", ErrBackendUnavailable, k, err)
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	written, err := io.Copy(tmp, body)
	if err != nil {
		return nil, fmt.Errorf("%w: write %q: %w", ErrBackendUnavailable, k, err)
	}
	if size >= 0 && written != size {
		return nil, fmt.Errorf("%w: write %q: got %d of %d bytes", ErrBackendUnavailable, k, written, size)
	}
	if err := tmp.Sync(); err != nil {
		return nil, fmt.Errorf("%w: sync %q: %w", ErrBackendUnavailable, k, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("%w: close %q: %w", ErrBackendUnavailable, k, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: upload %q: %w", ErrBackendUnavailable, k, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		if isPathConflict(err) {
			return nil, fmt.Errorf("%w: %q is an existing directory: %w", ErrInvalidKey, k, err)
		}
		return nil, fmt.Errorf("%w: commit %q: %w", ErrBackendUnavailable, k, err)
	}
	committed = true

	return &UploadResult{Bucket: s.root, Key: k, Size: written}, nil
}

// isPathConflict reports errors caused by the key colliding with the existing tree:
// a directory where the file should go, or a file where a directory is needed.
func isPathConflict(err error) bool {
	return errors.Is(err, syscall.ENOTDIR) || errors.Is(err, syscall.EISDIR) ||
		errors.Is(err, syscall.EEXIST) || errors.Is(err, syscall.ENOTEMPTY)
}

// Delete removes the file stored under key.
func (s *LocalStorage) Delete(_ context.Context, key string) error {
	k, err := cleanKey(key)
	if err != nil {
		return err
	}
	if err := os.Remove(s.path(k)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %q", ErrNotFound, k)
		}
		return fmt.Errorf("%w: delete %q: %w", ErrBackendUnavailable, k, err)
	}
	return nil
}

// Open returns the file stored under key. The caller closes it.
func (s *LocalStorage) Open(key string) (*os.File, error) {
	k, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(s.path(k))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, k)
		}
		return nil, fmt.Errorf("%w: open %q: %w", ErrBackendUnavailable, k, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat %q: %w", ErrBackendUnavailable, k, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%w: %q", ErrNotFound, k)
	}
	return f, nil
}

func (s *LocalStorage) stat(key string) (string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(s.path(k))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %q", ErrNotFound, k)
		}
		return "", fmt.Errorf("%w: stat %q: %w", ErrBackendUnavailable, k, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %q", ErrNotFound, k)
	}
	return k, nil
}

func (s *LocalStorage) objectURL(key string) string {
	return s.publicBase + "/" + (&url.URL{Path: key}).EscapedPath()
}

// URL returns a direct URL served by Handler. Fetching it requires a bearer token
// the Authorizer accepts.
func (s *LocalStorage) URL(_ context.Context, key string) (AccessURL, error) {
	k, err := s.stat(key)
	if err != nil {
		return AccessURL{}, err
	}
	return AccessURL{URL: s.objectURL(k), Kind: URLDirect}, nil
}

// PresignedURL returns the direct URL plus a signed token binding key to an expiry.
func (s *LocalStorage) PresignedURL(_ context.Context, key string) (AccessURL, error) {
	k, err := s.stat(key)
	if err != nil {
		return AccessURL{}, err
	}
	token, expires, err := s.signer.sign(k)
	if err != nil {
		return AccessURL{}, err
	}
	q := url.Values{"token": []string{token}}
	return AccessURL{
		URL:       s.objectURL(k) + "?" + q.Encode(),
		Kind:      URLPresigned,
		ExpiresAt: expires,
	}, nil
}

// UploadMiddleware streams the multipart file part straight to disk.
func (s *LocalStorage) UploadMiddleware() func(http.Handler) http.Handler {
	return ingestMultipart(func(ctx context.Context, key string, body io.Reader, authToken string) (*UploadResult, error) {
		return s.Upload(ctx, key, body, -1, authToken)
	}, s.maxUploadBytes)
}

// Handler serves the URLs issued by URL and PresignedURL. Mount it at PublicBase.
func (s *LocalStorage) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/*", s.serveFile)
	r.Head("/*", s.serveFile)
	return r
}

func (s *LocalStorage) serveFile(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if r.URL.RawPath != "" {
		if unescaped, err := url.PathUnescape(key); err == nil {
			key = unescaped
		}
	}
	k, err := cleanKey(key)
	if err != nil {
		response.BadRequest(w, "invalid key")
		return
	}

	if token := r.URL.Query().Get("token"); token != "" {
		if err := s.signer.verify(token, k); err != nil {
			response.Forbidden(w, "invalid or expired signature")
			return
		}
	} else if err := s.authz.Authorize(r.Context(), BearerToken(r), k); err != nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	f, err := s.Open(k)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(w, "file not found")
			return
		}
		log.Error().Err(err).Str("key", k).Msg("open stored file")
		response.InternalError(w)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		response.InternalError(w)
		return
	}
	w.Header().Set("Cache-Control", "private, no-store")
	http.ServeContent(w, r, path.Base(k), info.ModTime(), f)
}
