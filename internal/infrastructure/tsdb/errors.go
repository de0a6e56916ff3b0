package tsdb

import "errors"

// ErrUnhealthy is returned when the InfluxDB instance does not answer
// its health check.
var ErrUnhealthy = errors.New("tsdb: influxdb unhealthy")
