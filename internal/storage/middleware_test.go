package storage

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type multipartField struct {
	name, filename, value string
}

func multipartBody(t *testing.T, fields ...multipartField) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for _, f := range fields {
		if f.filename == "" {
			require.NoError(t, mw.WriteField(f.name, f.value))
			continue
		}
		fw, err := mw.CreateFormFile(f.name, f.filename)
		require.NoError(t, err)
		_, err = fw.Write([]byte(f.value))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

// runUpload sends the body through the middleware and reports the result seen by next.
func runUpload(t *testing.T, mw func(http.Handler) http.Handler, body *bytes.Buffer, contentType, bearer string) (*httptest.ResponseRecorder, *UploadResult, bool) {
	t.Helper()
	var (
		got    *UploadResult
		called bool
	)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		got, _ = UploadFromContext(r.Context())
		w.WriteHeader(http.StatusCreated)
	})

	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	mw(next).ServeHTTP(rec, req)
	return rec, got, called
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.False(t, env.Success)
	return env.Error
}

func TestUploadMiddleware_StoresUnderKeyField(t *testing.T) {
	s := newTestLocal(t)
	body, ct := multipartBody(t,
		multipartField{name: KeyField, value: "sheets/42/a.png"},
		multipartField{name: FileField, filename: "a.png", value: "PNGDATA"},
	)

	rec, res, called := runUpload(t, s.UploadMiddleware(), body, ct, userToken(t))

	assert.Equal(t, http.StatusCreated, rec.Code)
	require.True(t, called)
	require.NotNil(t, res)
	assert.Equal(t, "sheets/42/a.png", res.Key)
	assert.Equal(t, int64(7), res.Size)
	assert.Equal(t, "PNGDATA", readStored(t, s, "sheets/42/a.png"))
}

func TestUploadMiddleware_GeneratesKey(t *testing.T) {
	s := newTestLocal(t)
	body, ct := multipartBody(t, multipartField{name: FileField, filename: "Photo.PNG", value: "PNGDATA"})

	rec, res, _ := runUpload(t, s.UploadMiddleware(), body, ct, userToken(t))

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, res)
	assert.Regexp(t, `^uploads/[0-9a-f-]{36}\.png$`, res.Key)
	assert.Equal(t, "PNGDATA", readStored(t, s, res.Key))
}

func TestUploadMiddleware_DropsOddExtensions(t *testing.T) {
	assert.Regexp(t, `^uploads/[0-9a-f-]{36}$`, generateKey("archive.tar.<script>"))
	assert.Regexp(t, `^uploads/[0-9a-f-]{36}$`, generateKey(""))
	assert.Regexp(t, `^uploads/[0-9a-f-]{36}\.csv$`, generateKey("data.csv"))
}

func TestUploadMiddleware_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		fields     []multipartField
		bearer     bool
		wantStatus int
	}{
		{
			name:       "missing file part",
			fields:     []multipartField{{name: KeyField, value: "a.txt"}},
			bearer:     true,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "no bearer",
			fields:     []multipartField{{name: FileField, filename: "a.txt", value: "x"}},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "traversal key",
			fields: []multipartField{
				{name: KeyField, value: "../x"},
				{name: FileField, filename: "a.txt", value: "x"},
			},
			bearer:     true,
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "oversized key field",
			fields: []multipartField{
				{name: KeyField, value: strings.Repeat("k", maxKeyLength+1)},
				{name: FileField, filename: "a.txt", value: "x"},
			},
			bearer:     true,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestLocal(t)
			body, ct := multipartBody(t, tt.fields...)
			bearer := ""
			if tt.bearer {
				bearer = userToken(t)
			}

			rec, _, called := runUpload(t, s.UploadMiddleware(), body, ct, bearer)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.False(t, called, "next must not run")
			assert.NotEmpty(t, errorBody(t, rec))
		})
	}
}

func TestUploadMiddleware_RequiresMultipart(t *testing.T) {
	s := newTestLocal(t)

	rec, _, called := runUpload(t, s.UploadMiddleware(), bytes.NewBufferString(`{"key":"a"}`), "application/json", userToken(t))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, called)
}

func TestUploadMiddleware_EnforcesMaxBytes(t *testing.T) {
	s := newTestLocal(t)
	s.maxUploadBytes = 1024
	body, ct := multipartBody(t,
		multipartField{name: KeyField, value: "big.bin"},
		multipartField{name: FileField, filename: "big.bin", value: strings.Repeat("x", 8<<10)},
	)

	rec, _, called := runUpload(t, s.UploadMiddleware(), body, ct, userToken(t))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.False(t, called)
	assert.Contains(t, errorBody(t, rec), "1024")

	_, err := s.stat("big.bin")
	assert.ErrorIs(t, err, ErrNotFound, "partial upload must not be committed")
}

func TestUploadMiddleware_EnforcesMaxBytesInKeyField(t *testing.T) {
	s := newTestLocal(t)
	s.maxUploadBytes = 300
	body, ct := multipartBody(t,
		multipartField{name: KeyField, value: strings.Repeat("k", 900)},
		multipartField{name: FileField, filename: "a.txt", value: "x"},
	)

	rec, _, called := runUpload(t, s.UploadMiddleware(), body, ct, userToken(t))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.False(t, called)
}

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"Bearer":       "",
		"":             "",
	}
	for header, want := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		assert.Equal(t, want, BearerToken(r), "header %q", header)
	}
}
