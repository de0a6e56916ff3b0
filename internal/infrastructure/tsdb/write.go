package tsdb

import (
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/sortline/sortline-core/internal/telemetry"
)

// WriteSensorReading mirrors one sensor snapshot. Each channel becomes
// a field on a single point tagged with the reporting device.
func (c *Client) WriteSensorReading(r telemetry.SensorReading) {
	if len(r.Channels) == 0 {
		return
	}

	fields := make(map[string]any, len(r.Channels))
	for name, value := range r.Channels {
		fields[name] = value
	}

	point := influxdb2.NewPoint(
		"sensor_reading",
		map[string]string{"device_id": r.DeviceID},
		fields,
		r.Timestamp,
	)
	c.writeAPI.WritePoint(point)
}

// WriteClassification mirrors one scored capture.
func (c *Client) WriteClassification(r telemetry.ClassificationRecord) {
	point := influxdb2.NewPoint(
		"classification",
		map[string]string{
			"device_id": r.DeviceID,
			"material":  string(r.Material),
		},
		map[string]any{
			"confidence": r.Confidence,
			"position":   r.Position,
		},
		r.Timestamp,
	)
	c.writeAPI.WritePoint(point)
}
