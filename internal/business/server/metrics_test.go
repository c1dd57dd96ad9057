package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/session-exporter/internal/config"
	"github.com/openkcm/session-exporter/internal/middleware/responsewriter"
)

func testConfig() *config.Config {
	return &config.Config{
		BaseConfig: commoncfg.BaseConfig{
			Application: commoncfg.Application{
				Name:        "test-app",
				Environment: "test",
			},
		},
	}
}

func TestInitMeters(t *testing.T) {
	err := initMeters(t.Context(), testConfig())
	require.NoError(t, err)
	assert.NotNil(t, counter)
	assert.NotNil(t, hist)
}

func TestNewTraceMiddleware(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, initMeters(context.Background(), cfg))

	t.Run("wraps handler", func(t *testing.T) {
		handlerCalled := false
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handlerCalled = true
			w.WriteHeader(http.StatusAccepted)
		})

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("User-Agent", "test-agent")
		w := httptest.NewRecorder()

		newTraceMiddleware(cfg, "TestOperation")(next).ServeHTTP(w, req)

		assert.True(t, handlerCalled)
		assert.Equal(t, http.StatusAccepted, w.Code)
	})

	t.Run("reuses the recorder from the context", func(t *testing.T) {
		var seen http.ResponseWriter
		next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			seen = w
			w.WriteHeader(http.StatusNotFound)
		})

		var injected *responsewriter.Recorder
		capture := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var err error
			injected, err = responsewriter.RecorderFromContext(r.Context())
			require.NoError(t, err)
			newTraceMiddleware(cfg, "RecorderOperation")(next).ServeHTTP(w, r)
		})

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		responsewriter.ResponseWriterMiddleware(capture).ServeHTTP(httptest.NewRecorder(), req)

		assert.Same(t, injected, seen)
		assert.Equal(t, http.StatusNotFound, injected.Status())
	})

	t.Run("extracts parent trace context from headers", func(t *testing.T) {
		contextChecked := false
		next := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			contextChecked = r.Context() != nil
		})

		req := httptest.NewRequest(http.MethodGet, "/trace-test", nil)
		req.Header.Set("Traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")

		newTraceMiddleware(cfg, "TraceOperation")(next).ServeHTTP(httptest.NewRecorder(), req)

		assert.True(t, contextChecked)
	})

	t.Run("handles multiple sequential requests", func(t *testing.T) {
		calls := 0
		handler := newTraceMiddleware(cfg, "SequentialOperation")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			calls++
		}))

		for range 5 {
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/seq", nil))
		}

		assert.Equal(t, 5, calls)
	})
}
