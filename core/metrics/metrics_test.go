package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := New(reg).(*promRecorder)

	rec.ObserveEvent("message", "ok")
	rec.ObserveEvent("message", "ok")
	rec.IncTransition("absent", "inactive")
	rec.ObservePayment("reserve", errors.New("rejected"), 120*time.Millisecond)
	rec.IncConfirm("bad_request")
	rec.SetArmedTimers(3)
	rec.IncExpired()
	rec.IncOutbound("push", nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(rec.events.WithLabelValues("message", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.transitions.WithLabelValues("absent", "inactive")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.payCalls.WithLabelValues("reserve", "fail")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.confirms.WithLabelValues("bad_request")))
	assert.Equal(t, 3.0, testutil.ToFloat64(rec.timers))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.expired))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.outbound.WithLabelValues("push", "ok")))
}

func TestHandlerExposesNamespace(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := New(reg)
	rec.ObserveHTTP("/webhook", 200, 5*time.Millisecond)

	rr := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `paygate_http_requests_total{code="200",route="/webhook"} 1`))
}
