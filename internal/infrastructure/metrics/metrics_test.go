package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-dali/internal/bridges/dali"
)

type fakeGateway struct {
	stats     dali.GatewayStats
	connected bool
}

func (f *fakeGateway) IsConnected() bool        { return f.connected }
func (f *fakeGateway) Stats() dali.GatewayStats { return f.stats }

func gathered(t *testing.T, c *Collector, name string) float64 {
	t.Helper()
	families, err := c.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		m := mf.GetMetric()[0]
		if m.GetHistogram() != nil {
			return float64(m.GetHistogram().GetSampleCount())
		}
		if m.GetCounter() != nil {
			return m.GetCounter().GetValue()
		}
		return m.GetGauge().GetValue()
	}
	t.Fatalf("metric %s not gathered", name)
	return 0
}

func TestWriteCommissioningRun(t *testing.T) {
	c := New()

	c.WriteCommissioningRun("run-1", "done", 3, 0, 75, 1, 2*time.Second)
	c.WriteCommissioningRun("run-2", "pool_exhausted", 1, 2, 30, 0, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.runs.WithLabelValues("done")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runs.WithLabelValues("pool_exhausted")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.assigned))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.unassigned))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.verifyFailures))
	assert.Equal(t, 2.0, gathered(t, c, "graylogic_dali_commissioning_probes"))
}

func TestWriteDeviceMetric(t *testing.T) {
	c := New()

	c.WriteDeviceMetric("dali-light-3", "brightness", 254)
	c.WriteDeviceMetric("dali-light-3", "brightness", 100)

	assert.Equal(t, 100.0, testutil.ToFloat64(c.levels.WithLabelValues("dali-light-3", "brightness")))
}

func TestRegisterGatewayReadsStatsAtScrape(t *testing.T) {
	c := New()
	gw := &fakeGateway{connected: true, stats: dali.GatewayStats{FramesTx: 10, RepliesRx: 9, ErrorsTotal: 1}}
	c.RegisterGateway(gw)

	assert.Equal(t, 10.0, gathered(t, c, "graylogic_dali_gateway_frames_sent_total"))
	assert.Equal(t, 1.0, gathered(t, c, "graylogic_dali_gateway_connected"))

	gw.stats.FramesTx = 25
	gw.connected = false
	assert.Equal(t, 25.0, gathered(t, c, "graylogic_dali_gateway_frames_sent_total"))
	assert.Equal(t, 0.0, gathered(t, c, "graylogic_dali_gateway_connected"))
}

func TestHandlerServesExpositionFormat(t *testing.T) {
	c := New()
	c.WriteCommissioningRun("run-1", "done", 2, 0, 50, 0, time.Second)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), `graylogic_dali_commissioning_runs_total{outcome="done"} 1`), string(body))
	assert.Contains(t, string(body), "go_goroutines")
}

func TestCollectorsAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.WriteCommissioningRun("run-1", "done", 1, 0, 25, 0, time.Second)

	assert.Equal(t, 0.0, testutil.ToFloat64(b.runs.WithLabelValues("done")))
}
