package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gridfiles/service/internal/response"
)

const (
	// KeyField is the optional multipart text field naming the destination key.
	// It must come before the file part.
	KeyField = "key"
	// FileField is the multipart field carrying the payload.
	FileField = "file"

	maxKeyLength = 1024
)

var extPattern = regexp.MustCompile(`^\.[a-z0-9]{1,10}$`)

type uploadContextKey struct{}

// UploadFromContext returns the result attached by an upload middleware.
func UploadFromContext(ctx context.Context) (*UploadResult, bool) {
	res, ok := ctx.Value(uploadContextKey{}).(*UploadResult)
	return res, ok && res != nil
}

// WithUpload attaches res to ctx the way the upload middleware does.
func WithUpload(ctx context.Context, res *UploadResult) context.Context {
	return context.WithValue(ctx, uploadContextKey{}, res)
}

// streamFunc writes one streamed payload of unknown length to a backend.
type streamFunc func(ctx context.Context, key string, body io.Reader, authToken string) (*UploadResult, error)

// ingestMultipart reads the request body part by part and hands the file part to put
// as a stream, so the payload is never buffered whole. The next handler only runs after
// put succeeded.
func ingestMultipart(put streamFunc, maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxBytes > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}

			mr, err := r.MultipartReader()
			if err != nil {
				response.BadRequest(w, "multipart/form-data body required")
				return
			}

			var key string
			for {
				part, err := mr.NextPart()
				if err == io.EOF {
					break
				}
				if err != nil {
					writeUploadError(w, "", err)
					return
				}

				switch {
				case part.FormName() == KeyField && part.FileName() == "":
					key, err = readTextPart(part, maxKeyLength)
					part.Close()
					if err != nil {
						writeUploadError(w, "", err)
						return
					}

				case part.FormName() == FileField || part.FileName() != "":
					if key == "" {
						key = generateKey(part.FileName())
					}
					res, err := put(r.Context(), key, part, BearerToken(r))
					part.Close()
					if err != nil {
						writeUploadError(w, key, err)
						return
					}
					log.Info().Str("bucket", res.Bucket).Str("key", res.Key).Int64("size", res.Size).Msg("upload stored")
					next.ServeHTTP(w, r.WithContext(WithUpload(r.Context(), res)))
					return

				default:
					part.Close()
				}
			}

			response.BadRequest(w, "file part required")
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func readTextPart(part io.Reader, limit int64) (string, error) {
	b, err := io.ReadAll(io.LimitReader(part, limit+1))
	if err != nil {
		return "", fmt.Errorf("read %s field: %w", KeyField, err)
	}
	if int64(len(b)) > limit {
		return "", fmt.Errorf("%w: %s field exceeds %d bytes", ErrInvalidKey, KeyField, limit)
	}
	return strings.TrimSpace(string(b)), nil
}

func generateKey(filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if !extPattern.MatchString(ext) {
		ext = ""
	}
	return "uploads/" + uuid.NewString() + ext
}

func writeUploadError(w http.ResponseWriter, key string, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		response.Error(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
		return
	}

	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		// Anything unclassified at this point came from parsing the request body.
		response.BadRequest(w, "malformed multipart body")
		return
	}
	log.Warn().Err(err).Str("key", key).Int("status", status).Msg("upload rejected")
	response.Error(w, status, ErrorMessage(err))
}

// ErrorMessage returns a client-safe message for a storage error.
func ErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidKey):
		return "invalid key"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotFound):
		return "not found"
	case errors.Is(err, ErrBackendUnavailable):
		return "storage backend unavailable"
	case errors.Is(err, ErrUnsupportedBackend):
		return "storage backend not configured"
	default:
		return "internal server error"
	}
}
