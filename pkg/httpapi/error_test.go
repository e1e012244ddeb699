package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteError(rec, http.StatusConflict, "IMPORT_INVALID_STATE", "bad state", map[string]string{"request_id": "r1"}))

	require.Equal(t, http.StatusConflict, rec.Code)
	var env ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.Equal(t, "IMPORT_INVALID_STATE", env.Code)
	require.Equal(t, "r1", env.Meta["request_id"])
}

func TestEnsureRequestID(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	id := EnsureRequestID(r, "X-Request-ID")
	require.NotEmpty(t, id)
	require.Equal(t, id, EnsureRequestID(r, "X-Request-ID"))
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Reason string `json:"reason"`
	}
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reason":"dup"}`))
	require.NoError(t, DecodeJSON(r, &dst))
	require.Equal(t, "dup", dst.Reason)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"unknown":1}`))
	require.Error(t, DecodeJSON(r, &dst))

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(``))
	require.ErrorIs(t, DecodeJSON(r, &dst), ErrEmptyBody)
}
