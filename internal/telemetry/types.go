package telemetry

import "time"

// SensorReading is one sensor snapshot posted by a controller. Channels
// carry named numeric values; boolean sensors report 0/1.
type SensorReading struct {
	DeviceID  string             `json:"device_id"`
	Timestamp time.Time          `json:"timestamp"`
	Channels  map[string]float64 `json:"channels"`
}

// Origin reports which device produced the reading.
func (r SensorReading) Origin() string { return r.DeviceID }

// Material is the class assigned to a captured item.
type Material string

const (
	MaterialGlass   Material = "glass"
	MaterialPlastic Material = "plastic"
	MaterialMetal   Material = "metal"
	MaterialUnknown Material = "unknown"
)

// ClassificationRecord is one scored capture and the actuation it
// resulted in.
type ClassificationRecord struct {
	DeviceID   string    `json:"device_id"`
	Material   Material  `json:"material_label"`
	Confidence float64   `json:"confidence"`
	Position   int       `json:"resulting_position"`
	Timestamp  time.Time `json:"timestamp"`
}

// Origin reports which device produced the record.
func (r ClassificationRecord) Origin() string { return r.DeviceID }

// Summary aggregates classification records for operator-facing views.
type Summary struct {
	Total          int              `json:"total"`
	ByMaterial     map[Material]int `json:"by_material"`
	MeanConfidence float64          `json:"mean_confidence"`
	LastAt         time.Time        `json:"last_at,omitempty"`
}
