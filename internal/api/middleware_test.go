package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/genricoloni/presenced/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestObserver(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	m := metrics.New()

	r := chi.NewRouter()
	r.Use(RequestObserver(zap.New(core), m))
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello"))
	})
	r.Get("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	r.Get("/metrics", m.Handler().ServeHTTP)

	for _, path := range []string{"/items/42", "/broken"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 2)
	first := entries[0].ContextMap()
	assert.Equal(t, "/items/{id}", first["route"])
	assert.EqualValues(t, http.StatusOK, first["status"])
	assert.EqualValues(t, 5, first["size"])
	assert.EqualValues(t, http.StatusBadGateway, entries[1].ContextMap()["status"])

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "presenced_api_requests_total 2"), body)
	assert.True(t, strings.Contains(body, "presenced_api_errors_total 1"), body)
}

func TestRequestObserver_NilMetrics(t *testing.T) {
	h := RequestObserver(zap.NewNop(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
