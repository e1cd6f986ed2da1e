package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultRemoteTimeout bounds each call to the object store.
	DefaultRemoteTimeout = 30 * time.Second

	// maxPresignExpiry is the longest validity SigV4 presigned URLs allow.
	maxPresignExpiry = 7 * 24 * time.Hour

	// streamPartSize caps memory per streamed upload; minio-go buffers one part at a time.
	streamPartSize = 16 << 20
)

// MinioConfig configures MinioStorage. Any S3-compatible endpoint works
// (MinIO, AWS S3, Cloudflare R2, ArvanCloud).
type MinioConfig struct {
	Endpoint       string // host[:port], no scheme
	AccessKey      string
	SecretKey      string
	Bucket         string
	Region         string
	UseSSL         bool
	PresignExpiry  time.Duration
	Timeout        time.Duration
	MaxUploadBytes int64
}

func (cfg MinioConfig) validate() error {
	switch {
	case strings.TrimSpace(cfg.Endpoint) == "":
		return errors.New("object storage endpoint is required")
	case strings.Contains(cfg.Endpoint, "://"):
		return errors.New("object storage endpoint must not include a scheme")
	case strings.TrimSpace(cfg.Bucket) == "":
		return errors.New("object storage bucket is required")
	case cfg.AccessKey == "" || cfg.SecretKey == "":
		return errors.New("object storage credentials are required")
	case cfg.PresignExpiry != 0 && (cfg.PresignExpiry < time.Second || cfg.PresignExpiry > maxPresignExpiry):
		return fmt.Errorf("presign expiry %s outside 1s..%s", cfg.PresignExpiry, maxPresignExpiry)
	}
	return nil
}

// objectClient is the subset of *minio.Client MinioStorage uses.
type objectClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

// MinioStorage stores payloads as objects in an S3-compatible bucket.
type MinioStorage struct {
	client         objectClient
	bucket         string
	expiry         time.Duration
	timeout        time.Duration
	maxUploadBytes int64
	now            func() time.Time
}

// NewMinioStorage creates a MinIO client and ensures the bucket exists.
func NewMinioStorage(ctx context.Context, cfg MinioConfig) (*MinioStorage, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return newMinioStorage(ctx, client, cfg)
}

func newMinioStorage(ctx context.Context, client objectClient, cfg MinioConfig) (*MinioStorage, error) {
	if cfg.PresignExpiry == 0 {
		cfg.PresignExpiry = DefaultPresignExpiry
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRemoteTimeout
	}

	s := &MinioStorage{
		client:         client,
		bucket:         cfg.Bucket,
		expiry:         cfg.PresignExpiry,
		timeout:        cfg.Timeout,
		maxUploadBytes: cfg.MaxUploadBytes,
		now:            time.Now,
	}
	if err := s.ensureBucket(ctx, cfg.Region); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MinioStorage) ensureBucket(ctx context.Context, region string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return classify("check bucket", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return classify("create bucket", s.bucket, err)
	}
	log.Info().Str("bucket", s.bucket).Msg("storage: created bucket")
	return nil
}

// Bucket returns the bucket name.
func (s *MinioStorage) Bucket() string {
	return s.bucket
}

// Upload puts the payload in a single PutObject call. authToken is ignored; the
// object store authenticates the service with its own credentials.
func (s *MinioStorage) Upload(ctx context.Context, key string, body io.Reader, size int64, _ string) (*UploadResult, error) {
	k, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.put(ctx, k, body, size)
}

// stream uploads a body of unknown length part by part. A large body may take longer
// than the per-call timeout, so the timeout applies to stalls instead: the upload is
// canceled once no bytes were consumed for that long.
func (s *MinioStorage) stream(ctx context.Context, key string, body io.Reader, _ string) (*UploadResult, error) {
	k, err := cleanKey(key)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	watched := newIdleReader(body, s.timeout, func() { cancel(errStalled) })
	defer watched.stop()

	res, err := s.put(ctx, k, watched, -1)
	if err != nil && errors.Is(context.Cause(ctx), errStalled) {
		return nil, fmt.Errorf("%w: put object %q: %w after %s", ErrBackendUnavailable, k, errStalled, s.timeout)
	}
	return res, err
}

var errStalled = errors.New("upload made no progress")

// idleReader calls onIdle when no Read has returned data for the idle duration.
type idleReader struct {
	r     io.Reader
	idle  time.Duration
	timer *time.Timer
}

func newIdleReader(r io.Reader, idle time.Duration, onIdle func()) *idleReader {
	return &idleReader{r: r, idle: idle, timer: time.AfterFunc(idle, onIdle)}
}

func (ir *idleReader) Read(p []byte) (int, error) {
	n, err := ir.r.Read(p)
	if n > 0 {
		ir.timer.Reset(ir.idle)
	}
	return n, err
}

func (ir *idleReader) stop() {
	ir.timer.Stop()
}

func (s *MinioStorage) put(ctx context.Context, key string, body io.Reader, size int64) (*UploadResult, error) {
	opts := minio.PutObjectOptions{ContentType: "application/octet-stream"}
	if size < 0 {
		opts.PartSize = streamPartSize
	}

	info, err := s.client.PutObject(ctx, s.bucket, key, body, size, opts)
	if err != nil {
		return nil, classify("put object", key, err)
	}

	res := &UploadResult{Bucket: info.Bucket, Key: info.Key, Size: info.Size, ETag: info.ETag}
	if res.Bucket == "" {
		res.Bucket = s.bucket
	}
	if res.Key == "" {
		res.Key = key
	}
	return res, nil
}

// Delete removes the object stored under key.
func (s *MinioStorage) Delete(ctx context.Context, key string) error {
	k, err := cleanKey(key)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.client.StatObject(ctx, s.bucket, k, minio.StatObjectOptions{}); err != nil {
		return classify("stat object", k, err)
	}
	if err := s.client.RemoveObject(ctx, s.bucket, k, minio.RemoveObjectOptions{}); err != nil {
		return classify("remove object", k, err)
	}
	return nil
}

// URL is the same as PresignedURL: the bucket has no public URL, so callers must not
// treat the result as long-lived.
func (s *MinioStorage) URL(ctx context.Context, key string) (AccessURL, error) {
	return s.PresignedURL(ctx, key)
}

// PresignedURL returns a SigV4 presigned GET URL valid for the configured expiry.
func (s *MinioStorage) PresignedURL(ctx context.Context, key string) (AccessURL, error) {
	k, err := cleanKey(key)
	if err != nil {
		return AccessURL{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.client.StatObject(ctx, s.bucket, k, minio.StatObjectOptions{}); err != nil {
		return AccessURL{}, classify("stat object", k, err)
	}

	issued := s.now()
	u, err := s.client.PresignedGetObject(ctx, s.bucket, k, s.expiry, nil)
	if err != nil {
		return AccessURL{}, classify("presign object", k, err)
	}
	return AccessURL{URL: u.String(), Kind: URLPresigned, ExpiresAt: issued.Add(s.expiry)}, nil
}

// UploadMiddleware streams the multipart file part directly into the bucket.
func (s *MinioStorage) UploadMiddleware() func(http.Handler) http.Handler {
	return ingestMultipart(s.stream, s.maxUploadBytes)
}

// classify maps object store failures onto the storage error kinds.
func classify(op, key string, err error) error {
	kind := ErrBackendUnavailable

	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey":
		kind = ErrNotFound
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
		kind = ErrUnauthorized
	default:
		switch resp.StatusCode {
		case http.StatusNotFound:
			if resp.Code != "NoSuchBucket" {
				kind = ErrNotFound
			}
		case http.StatusUnauthorized, http.StatusForbidden:
			kind = ErrUnauthorized
		}
	}

	return fmt.Errorf("%w: %s %q: %w", kind, op, key, err)
}
