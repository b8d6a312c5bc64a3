package httputil

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/vertexfit/internal/monitoring"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp["error"]
}

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]float64{"chi2": 1.5})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"chi2":1.5}`, rec.Body.String())

	rec = httptest.NewRecorder()
	WriteJSONOK(rec, []int{1, 2})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[1,2]`, rec.Body.String())
}

func TestErrorResponses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
		msg    string
	}{
		{"json error", func(w http.ResponseWriter) { WriteJSONError(w, http.StatusBadRequest, "bad seed") }, http.StatusBadRequest, "bad seed"},
		{"not found", func(w http.ResponseWriter) { NotFound(w, "run not found") }, http.StatusNotFound, "run not found"},
		{"method", func(w http.ResponseWriter) { MethodNotAllowed(w, http.MethodGet) }, http.StatusMethodNotAllowed, "method not allowed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			tt.write(rec)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.msg, decodeError(t, rec))
		})
	}

	rec := httptest.NewRecorder()
	MethodNotAllowed(rec, http.MethodGet, http.MethodHead)
	assert.Equal(t, []string{http.MethodGet, http.MethodHead}, rec.Header().Values("Allow"))
}

func TestLoggedResponses(t *testing.T) {
	var logged []string
	monitoring.SetLogger(func(format string, v ...interface{}) { logged = append(logged, format) })
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	rec := httptest.NewRecorder()
	InternalServerError(rec, "query failed", errors.New("disk I/O error"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "query failed", decodeError(t, rec))

	// NaN cannot be encoded; the failure is logged after the header is sent.
	rec = httptest.NewRecorder()
	WriteJSONOK(rec, math.NaN())
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, logged, 2)
}
