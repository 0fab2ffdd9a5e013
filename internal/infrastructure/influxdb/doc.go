// Package influxdb provides InfluxDB connectivity for LoxBridge.
//
// It wraps the official influxdb-client-go v2 library with LoxBridge's
// patterns for connection management, metric writing, and health
// monitoring.
//
// # Purpose
//
// This package handles time-series storage of Miniserver telemetry:
// every numeric state change observed on the event stream can be
// recorded as a point tagged with the control's identity, room, and
// category, giving dashboards like Grafana a queryable history.
//
// Writes are non-blocking and batched by the underlying client; errors
// surface asynchronously via SetOnError.
package influxdb
