package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
		msg    string
	}{
		{"bad request", func(w http.ResponseWriter) { BadRequest(w, "key is required") }, http.StatusBadRequest, "key is required"},
		{"unauthorized", func(w http.ResponseWriter) { Unauthorized(w, "unauthorized") }, http.StatusUnauthorized, "unauthorized"},
		{"forbidden", func(w http.ResponseWriter) { Forbidden(w, "invalid signature") }, http.StatusForbidden, "invalid signature"},
		{"not found", func(w http.ResponseWriter) { NotFound(w, "file not found") }, http.StatusNotFound, "file not found"},
		{"internal", InternalError, http.StatusInternalServerError, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var env Envelope
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
			assert.False(t, env.Success)
			assert.Equal(t, tt.msg, env.Error)
			assert.Nil(t, env.Data)
		})
	}
}

func TestSuccessHelpers(t *testing.T) {
	rec := httptest.NewRecorder()
	Created(rec, map[string]string{"key": "a.png"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"success":true,"data":{"key":"a.png"}}`, rec.Body.String())

	rec = httptest.NewRecorder()
	OK(rec, "x")
	assert.JSONEq(t, `{"success":true,"data":"x"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	NoContent(rec)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}
