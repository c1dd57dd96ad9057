package responsewriter_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/session-exporter/internal/middleware/responsewriter"
)

func TestResponseWriterMiddleware(t *testing.T) {
	var calledNextHandler bool

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)

	var injected *responsewriter.Recorder
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calledNextHandler = true

		var err error
		injected, err = responsewriter.RecorderFromContext(r.Context())
		//nolint:testifylint
		require.NoError(t, err)
		assert.Same(t, injected, w, "handler writes through the recorder")

		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	})

	responsewriter.ResponseWriterMiddleware(next).ServeHTTP(rec, req)

	require.True(t, calledNextHandler)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "short and stout", rec.Body.String())
	assert.Equal(t, http.StatusTeapot, injected.Status())
	assert.Equal(t, int64(len("short and stout")), injected.BytesWritten())
}

func TestRecorder(t *testing.T) {
	t.Run("Defaults to 200", func(t *testing.T) {
		rec := responsewriter.NewRecorder(httptest.NewRecorder())
		assert.Equal(t, http.StatusOK, rec.Status())

		_, err := rec.Write([]byte("x"))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.Status())
	})

	t.Run("Keeps the first status", func(t *testing.T) {
		rec := responsewriter.NewRecorder(httptest.NewRecorder())
		rec.WriteHeader(http.StatusNotFound)
		rec.WriteHeader(http.StatusInternalServerError)
		assert.Equal(t, http.StatusNotFound, rec.Status())
	})

	t.Run("Unwrap", func(t *testing.T) {
		inner := httptest.NewRecorder()
		assert.Same(t, inner, responsewriter.NewRecorder(inner).Unwrap())
	})
}

func TestRecorderFromContext(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		rec := responsewriter.NewRecorder(httptest.NewRecorder())
		ctx := context.WithValue(context.Background(), responsewriter.ResponseWriterKey, rec)

		got, err := responsewriter.RecorderFromContext(ctx)
		require.NoError(t, err)
		assert.Same(t, rec, got)
	})

	t.Run("Failure_KeyNotFound", func(t *testing.T) {
		_, err := responsewriter.RecorderFromContext(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found in context")
	})

	t.Run("Failure_WrongType", func(t *testing.T) {
		ctx := context.WithValue(context.Background(), responsewriter.ResponseWriterKey, httptest.NewRecorder())
		_, err := responsewriter.RecorderFromContext(ctx)
		require.Error(t, err)
	})
}
