package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ClaimRecorded("daily", "success")
	m.ClaimRecorded("daily", "success")
	m.ClaimRecorded("daily", "cooldown")
	m.CacheFallback("weekly")
	m.StreaksReset("daily", 4)
	m.StreaksReset("daily", 0)
	m.LedgerError("claim")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.claims.WithLabelValues("daily", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.claims.WithLabelValues("daily", "cooldown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheFallbacks.WithLabelValues("weekly")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.streakResets.WithLabelValues("daily")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerErrors.WithLabelValues("claim")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveRequest("/users/{address}/claims", http.MethodGet, http.StatusOK, 0.01)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `apx_claims_requests_total{method="GET",route="/users/{address}/claims",status="OK"} 1`)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ClaimRecorded("daily", "success")
	m.CacheFallback("daily")
	m.StreaksReset("daily", 1)
	m.LedgerError("read")
	m.ObserveRequest("/", http.MethodGet, http.StatusOK, 0)
	assert.Nil(t, m.Registry())
}
