package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestHTTPMiddlewareRecordsRequest(t *testing.T) {
	m := New("pi5_engine_test_http")
	handler := HTTPMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/instances", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodPost, "/instances", "201")))
}

func TestSyncEventBusAddsOnlyDelta(t *testing.T) {
	m := New("pi5_engine_test_bus")
	last := map[string]int64{}
	m.SyncEventBus(map[string]int64{"instanceLog": 3}, map[string]int64{}, last, last)
	assert.Equal(t, float64(3), testutil.ToFloat64(m.EventsPublishedTotal.WithLabelValues("instanceLog")))

	last["instanceLog"] = 3
	m.SyncEventBus(map[string]int64{"instanceLog": 5}, map[string]int64{}, last, last)
	assert.Equal(t, float64(5), testutil.ToFloat64(m.EventsPublishedTotal.WithLabelValues("instanceLog")))
}
