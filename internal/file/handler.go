package file

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/gridfiles/service/internal/middleware"
	"github.com/gridfiles/service/internal/response"
	"github.com/gridfiles/service/internal/storage"
)

// maxJSONUploadBytes bounds POST /files bodies; larger payloads go through /files/upload.
const maxJSONUploadBytes = 32 << 20

// Handler holds HTTP handlers for file endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a new file Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type uploadRequest struct {
	Key      string `json:"key"      example:"sheets/42/a.png"`
	Contents string `json:"contents" example:"PNGDATA"`
	// Encoding is "" for raw text or "base64".
	Encoding string `json:"encoding,omitempty" example:"base64"`
}

// GetURL godoc
//
//	@Summary		Get file URL
//	@Description	Returns the default URL for a stored file. Local storage returns a direct URL that needs a bearer token; object storage returns a presigned URL.
//	@Tags			files
//	@Produce		json
//	@Security		BearerAuth
//	@Param			key	query		string	true	"Storage key"
//	@Success		200	{object}	response.Envelope{data=storage.AccessURL}
//	@Failure		400	{object}	response.Envelope
//	@Failure		401	{object}	response.Envelope
//	@Failure		404	{object}	response.Envelope
//	@Failure		503	{object}	response.Envelope
//	@Router			/files/url [get]
func (h *Handler) GetURL(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		response.BadRequest(w, "key is required")
		return
	}

	u, err := h.svc.GetFileURL(r.Context(), key)
	if err != nil {
		writeError(w, key, err)
		return
	}
	response.OK(w, u)
}

// GetPresignedURL godoc
//
//	@Summary		Get presigned file URL
//	@Description	Returns a time-limited URL that can be fetched without credentials until expiresAt.
//	@Tags			files
//	@Produce		json
//	@Security		BearerAuth
//	@Param			key	query		string	true	"Storage key"
//	@Success		200	{object}	response.Envelope{data=storage.AccessURL}
//	@Failure		400	{object}	response.Envelope
//	@Failure		401	{object}	response.Envelope
//	@Failure		404	{object}	response.Envelope
//	@Failure		503	{object}	response.Envelope
//	@Router			/files/presigned-url [get]
func (h *Handler) GetPresignedURL(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		response.BadRequest(w, "key is required")
		return
	}

	u, err := h.svc.GetPresignedFileURL(r.Context(), key)
	if err != nil {
		writeError(w, key, err)
		return
	}
	response.OK(w, u)
}

// Upload godoc
//
//	@Summary		Upload file contents
//	@Description	Stores the given contents under key, overwriting any previous payload. The caller's bearer token is forwarded to the storage backend's access check.
//	@Tags			files
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body		uploadRequest	true	"Key and contents"
//	@Success		201		{object}	response.Envelope{data=storage.UploadResult}
//	@Failure		400		{object}	response.Envelope
//	@Failure		401		{object}	response.Envelope
//	@Failure		503		{object}	response.Envelope
//	@Router			/files [post]
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONUploadBytes)).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Key) == "" {
		response.BadRequest(w, "key is required")
		return
	}

	contents := []byte(req.Contents)
	switch req.Encoding {
	case "":
	case "base64":
		decoded, err := base64.StdEncoding.DecodeString(req.Contents)
		if err != nil {
			response.BadRequest(w, "contents are not valid base64")
			return
		}
		contents = decoded
	default:
		response.BadRequest(w, "unsupported encoding")
		return
	}

	res, err := h.svc.UploadFile(r.Context(), req.Key, contents, middleware.TokenFrom(r.Context()))
	if err != nil {
		writeError(w, req.Key, err)
		return
	}
	response.Created(w, res)
}

// Uploaded godoc
//
//	@Summary		Upload file (multipart)
//	@Description	Streams a multipart/form-data upload into storage. Send an optional "key" field before the "file" part; without it a key under uploads/ is generated.
//	@Tags			files
//	@Accept			multipart/form-data
//	@Produce		json
//	@Security		BearerAuth
//	@Param			key		formData	string	false	"Storage key"
//	@Param			file	formData	file	true	"Payload"
//	@Success		201		{object}	response.Envelope{data=storage.UploadResult}
//	@Failure		400		{object}	response.Envelope
//	@Failure		401		{object}	response.Envelope
//	@Failure		413		{object}	response.Envelope
//	@Failure		503		{object}	response.Envelope
//	@Router			/files/upload [post]
func (h *Handler) Uploaded(w http.ResponseWriter, r *http.Request) {
	res, ok := storage.UploadFromContext(r.Context())
	if !ok {
		response.InternalError(w)
		return
	}
	response.Created(w, res)
}

// Delete godoc
//
//	@Summary		Delete file
//	@Tags			files
//	@Security		BearerAuth
//	@Param			key	query	string	true	"Storage key"
//	@Success		204
//	@Failure		400	{object}	response.Envelope
//	@Failure		404	{object}	response.Envelope
//	@Failure		503	{object}	response.Envelope
//	@Router			/files [delete]
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		response.BadRequest(w, "key is required")
		return
	}
	if err := h.svc.DeleteFile(r.Context(), key); err != nil {
		writeError(w, key, err)
		return
	}
	response.NoContent(w)
}

func writeError(w http.ResponseWriter, key string, err error) {
	status := storage.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("key", key).Msg("file operation failed")
	}
	response.Error(w, status, storage.ErrorMessage(err))
}
