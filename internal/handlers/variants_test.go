package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteRendered(t *testing.T) {
	rec := httptest.NewRecorder()
	writeRendered(rec, "req-1", "text/csv", func(w io.Writer) error {
		_, err := io.WriteString(w, "id,sequence\nv1,AKT\n")
		return err
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Equal(t, "19", rec.Header().Get("Content-Length"))
	assert.Equal(t, "id,sequence\nv1,AKT\n", rec.Body.String())
}

func TestWriteRenderedFailureDiscardsPartialBody(t *testing.T) {
	rec := httptest.NewRecorder()
	writeRendered(rec, "req-2", "text/csv", func(w io.Writer) error {
		_, _ = io.WriteString(w, "id,sequence\nv1,")
		return errors.New("disk full")
	})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotContains(t, rec.Body.String(), "id,sequence")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "req-2", body["req_id"])
	assert.Equal(t, "disk full", body["error"])
}
