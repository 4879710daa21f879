// Package influxdb writes DALI time-series data to InfluxDB.
//
// It wraps influxdb-client-go v2 and records two measurements:
//   - device_metrics: light and group brightness written by the MQTT bridge
//   - dali_commissioning: one point per commissioning run with its outcome,
//     assignment counts, COMPARE probes and duration
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without metrics
//	}
//	defer client.Close()
//
// Writes are batched and non-blocking; errors arrive through SetOnError.
// All methods are safe for concurrent use.
package influxdb
