package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ObservePublish(nil)
	m.ObservePublish(nil)
	m.ObservePublish(errors.New("boom"))
	m.ObserveConnect(errors.New("no socket"))
	m.IncSkipped()
	m.SetSessionActive(true)
	m.SetActiveSources(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.publishesTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.publishesTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectsTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.skippedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionActive))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.activeSources))
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObservePublish(nil)
		m.ObserveConnect(nil)
		m.ObserveSave(nil)
		m.IncClears()
		m.IncSkipped()
		m.IncQueryErrors()
		m.SetSessionActive(true)
		m.SetActiveSources(1)
	})
}

func TestMetrics_ObserveRequest(t *testing.T) {
	m := New()
	for _, status := range []int{http.StatusOK, http.StatusBadRequest, http.StatusOK, http.StatusBadGateway} {
		m.ObserveRequest(status)
	}

	assert.Equal(t, 4.0, testutil.ToFloat64(m.requestsTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.errorsTotal))
}

func TestHandler_ServesRegistry(t *testing.T) {
	m := New()
	m.IncClears()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "presenced_clears_total 1"))
}
