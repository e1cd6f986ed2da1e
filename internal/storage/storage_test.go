package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend records what the facade forwards to it.
type fakeBackend struct {
	err       error
	gotKey    string
	gotBody   string
	gotSize   int64
	gotToken  string
	urlCalls  int
	presigned int
}

func (f *fakeBackend) Bucket() string { return "fake" }

func (f *fakeBackend) Upload(_ context.Context, key string, body io.Reader, size int64, authToken string) (*UploadResult, error) {
	b, _ := io.ReadAll(body)
	f.gotKey, f.gotBody, f.gotSize, f.gotToken = key, string(b), size, authToken
	if f.err != nil {
		return nil, f.err
	}
	return &UploadResult{Bucket: "fake", Key: key, Size: size}, nil
}

func (f *fakeBackend) Delete(_ context.Context, key string) error {
	f.gotKey = key
	return f.err
}

func (f *fakeBackend) URL(_ context.Context, key string) (AccessURL, error) {
	f.urlCalls++
	f.gotKey = key
	if f.err != nil {
		return AccessURL{}, f.err
	}
	return AccessURL{URL: "https://fake/" + key, Kind: URLDirect}, nil
}

func (f *fakeBackend) PresignedURL(_ context.Context, key string) (AccessURL, error) {
	f.presigned++
	f.gotKey = key
	if f.err != nil {
		return AccessURL{}, f.err
	}
	return AccessURL{URL: "https://fake/" + key + "?sig=1", Kind: URLPresigned, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (f *fakeBackend) UploadMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler { return next }
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{in: "local-filesystem", want: KindLocal},
		{in: "file-system", want: KindLocal},
		{in: " Local ", want: KindLocal},
		{in: "remote-object-storage", want: KindRemote},
		{in: "s3", want: KindRemote},
		{in: "S3", want: KindRemote},
		{in: "minio", want: KindRemote},
		{in: "gcs", want: Kind("gcs"), wantErr: true},
		{in: "", want: Kind(""), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseKind(tt.in)
			assert.Equal(t, tt.want, got)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedBackend)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNew_UnsupportedBackendFailsEveryOperation(t *testing.T) {
	ctx := context.Background()

	s, err := New(ctx, Config{Kind: "ftp"})
	require.ErrorIs(t, err, ErrUnsupportedBackend)
	require.NotNil(t, s)
	assert.Equal(t, Kind("ftp"), s.Kind())

	_, err = s.GetURL(ctx, "a")
	assert.ErrorIs(t, err, ErrUnsupportedBackend)

	_, err = s.GetPresignedURL(ctx, "a")
	assert.ErrorIs(t, err, ErrUnsupportedBackend)

	res, err := s.Upload(ctx, "a", []byte("x"), "tok")
	assert.ErrorIs(t, err, ErrUnsupportedBackend)
	assert.Nil(t, res)

	mw, err := s.UploadMiddleware()
	assert.ErrorIs(t, err, ErrUnsupportedBackend)
	assert.Nil(t, mw)

	assert.ErrorIs(t, s.Delete(ctx, "a"), ErrUnsupportedBackend)

	_, ok := s.FileServer()
	assert.False(t, ok)
}

func TestStorage_NilFailsWithUnsupportedBackend(t *testing.T) {
	var s *Storage

	_, err := s.GetURL(context.Background(), "a")
	assert.ErrorIs(t, err, ErrUnsupportedBackend)

	_, err = (&Storage{}).Upload(context.Background(), "a", nil, "")
	assert.ErrorIs(t, err, ErrUnsupportedBackend)
}

func TestNew_Local(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	s, err := New(ctx, Config{
		Kind: "file-system",
		Local: LocalConfig{
			Root:          root,
			PublicBase:    testPublicBase,
			SigningSecret: "sign",
			Authorizer:    JWTAuthorizer{Secret: testJWTSecret},
		},
		MaxUploadBytes: 1 << 20,
	})
	require.NoError(t, err)
	assert.Equal(t, KindLocal, s.Kind())

	res, err := s.Upload(ctx, "sheets/42/a.png", []byte("PNGDATA"), userToken(t))
	require.NoError(t, err)
	assert.Equal(t, root, res.Bucket)
	assert.Equal(t, "sheets/42/a.png", res.Key)

	u, err := s.GetURL(ctx, "sheets/42/a.png")
	require.NoError(t, err)
	assert.Equal(t, URLDirect, u.Kind)

	p, err := s.GetPresignedURL(ctx, "sheets/42/a.png")
	require.NoError(t, err)
	assert.Equal(t, URLPresigned, p.Kind)
	assert.NotEqual(t, u.URL, p.URL)

	_, ok := s.FileServer()
	assert.True(t, ok)

	local := s.backend.(*LocalStorage)
	assert.Equal(t, int64(1<<20), local.maxUploadBytes)
}

func TestNew_LocalMisconfigured(t *testing.T) {
	s, err := New(context.Background(), Config{
		Kind:  string(KindLocal),
		Local: LocalConfig{Root: t.TempDir(), PublicBase: testPublicBase, SigningSecret: "sign"},
	})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnsupportedBackend)
	assert.Nil(t, s)
}

func TestNew_RemoteMisconfigured(t *testing.T) {
	_, err := New(context.Background(), Config{
		Kind:   "s3",
		Remote: MinioConfig{Endpoint: "https://s3.example.com", Bucket: "b", AccessKey: "a", SecretKey: "s"},
	})
	assert.ErrorContains(t, err, "scheme")
}

func TestStorage_DispatchesToBackend(t *testing.T) {
	ctx := context.Background()
	fake := &fakeBackend{}
	s := NewWithBackend(KindRemote, fake)

	res, err := s.Upload(ctx, "x/y.csv", []byte("a,b,c"), "tok")
	require.NoError(t, err)
	assert.Equal(t, &UploadResult{Bucket: "fake", Key: "x/y.csv", Size: 5}, res)
	assert.Equal(t, "a,b,c", fake.gotBody)
	assert.Equal(t, int64(5), fake.gotSize)
	assert.Equal(t, "tok", fake.gotToken)

	_, err = s.GetURL(ctx, "x/y.csv")
	require.NoError(t, err)
	_, err = s.GetPresignedURL(ctx, "x/y.csv")
	require.NoError(t, err)
	assert.Equal(t, 1, fake.urlCalls)
	assert.Equal(t, 1, fake.presigned)

	mw, err := s.UploadMiddleware()
	require.NoError(t, err)
	assert.NotNil(t, mw)

	_, ok := s.FileServer()
	assert.False(t, ok, "fake backend serves no files")
}

func TestStorage_PropagatesBackendErrorsUnchanged(t *testing.T) {
	ctx := context.Background()
	for _, kind := range []error{ErrInvalidKey, ErrUnauthorized, ErrBackendUnavailable, ErrNotFound} {
		t.Run(kind.Error(), func(t *testing.T) {
			backendErr := fmt.Errorf("%w: detail", kind)
			s := NewWithBackend(KindLocal, &fakeBackend{err: backendErr})

			_, err := s.GetURL(ctx, "k")
			assert.Same(t, backendErr, err)

			_, err = s.GetPresignedURL(ctx, "k")
			assert.Same(t, backendErr, err)

			_, err = s.Upload(ctx, "k", []byte("x"), "")
			assert.Same(t, backendErr, err)

			assert.Same(t, backendErr, s.Delete(ctx, "k"))
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{fmt.Errorf("%w: x", ErrInvalidKey), http.StatusBadRequest},
		{fmt.Errorf("%w: x", ErrUnauthorized), http.StatusUnauthorized},
		{fmt.Errorf("%w: x", ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: x", ErrBackendUnavailable), http.StatusServiceUnavailable},
		{ErrUnsupportedBackend, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), "%v", tt.err)
	}
}
