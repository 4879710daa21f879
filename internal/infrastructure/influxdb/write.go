package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by this package.
const (
	measurementDevice        = "device_metrics"
	measurementCommissioning = "dali_commissioning"
)

// WriteDeviceMetric records one value for a device, e.g. the brightness of
// a DALI light. The write is batched and non-blocking.
//
//	client.WriteDeviceMetric("dali-light-3", "brightness", 254)
func (c *Client) WriteDeviceMetric(deviceID string, measurement string, value float64) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(deviceMetricPoint(deviceID, measurement, value, time.Now()))
}

// WriteCommissioningRun records the summary of one commissioning run.
// Outcome is the only tag; the run ID is a field so each run does not
// open a new series.
func (c *Client) WriteCommissioningRun(runID, outcome string, assigned, unassigned, probes, verifyFailures int, duration time.Duration) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(commissioningPoint(runID, outcome, assigned, unassigned, probes, verifyFailures, duration, time.Now()))
}

func deviceMetricPoint(deviceID, measurement string, value float64, ts time.Time) *write.Point {
	return write.NewPoint(
		measurementDevice,
		map[string]string{
			"device_id":   deviceID,
			"measurement": measurement,
		},
		map[string]interface{}{
			"value": value,
		},
		ts,
	)
}

func commissioningPoint(runID, outcome string, assigned, unassigned, probes, verifyFailures int, duration time.Duration, ts time.Time) *write.Point {
	return write.NewPoint(
		measurementCommissioning,
		map[string]string{
			"outcome": outcome,
		},
		map[string]interface{}{
			"run_id":          runID,
			"assigned":        assigned,
			"unassigned":      unassigned,
			"probes":          probes,
			"verify_failures": verifyFailures,
			"duration_ms":     duration.Milliseconds(),
		},
		ts,
	)
}
