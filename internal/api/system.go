package api

import (
	"net/http"
	"time"

	"github.com/sortline/sortline-core/internal/device"
	"github.com/sortline/sortline-core/internal/telemetry"
)

// SystemStatus is the aggregate snapshot served by GET /system/status
// and published on the heartbeat topic.
type SystemStatus struct {
	Timestamp            string                          `json:"timestamp"`
	Devices              device.Counts                   `json:"devices"`
	DevicesByType        map[device.Type]int             `json:"devices_by_type"`
	PendingCommands      int                             `json:"pending_commands"`
	QueueDepths          map[string]int                  `json:"queue_depths,omitempty"`
	LatestSensorReading  *telemetry.SensorReading        `json:"latest_sensor_reading,omitempty"`
	LatestClassification *telemetry.ClassificationRecord `json:"latest_classification,omitempty"`
	Connections          ConnectionStats                 `json:"connections"`
}

// Snapshot assembles the current system status.
func Snapshot(registry *device.Registry, queue *device.Queue, sensors *telemetry.Log[telemetry.SensorReading], classifications *telemetry.Log[telemetry.ClassificationRecord], hub *Hub) SystemStatus {
	depths := queue.Depths()
	total := 0
	for _, n := range depths {
		total += n
	}

	status := SystemStatus{
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		Devices:         registry.Counts(),
		DevicesByType:   registry.TypeCounts(),
		PendingCommands: total,
		QueueDepths:     depths,
		Connections:     hub.Stats(),
	}

	if reading, ok := sensors.Latest(); ok {
		status.LatestSensorReading = &reading
	}
	if record, ok := classifications.Latest(); ok {
		status.LatestClassification = &record
	}

	return status
}

// handleSystemStatus serves the aggregate snapshot.
func (s *Server) handleSystemStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Snapshot(s.registry, s.queue, s.sensors, s.classifications, s.hub))
}

// handleDiscover triggers an immediate discovery sweep, registers
// everything found, and returns the results grouped by role.
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	if s.scanner == nil || s.targets == nil {
		writeServiceUnavailable(w, "discovery is not configured")
		return
	}

	targets, err := s.targets()
	if err != nil {
		writeInternalError(w, "building discovery targets failed")
		return
	}

	result := s.scanner.Scan(r.Context(), targets)

	for _, found := range append(result.Cameras, result.Controllers...) {
		if _, err := s.registry.Register(r.Context(), found.ID, found.Type, found.Address); err != nil {
			s.logger.Warn("registering discovered device failed",
				"device_id", found.ID, "address", found.Address, "error", err)
		}
	}

	s.hub.Publish(TopicDeviceStatus, map[string]any{
		"event":       "discovery",
		"cameras":     result.Cameras,
		"controllers": result.Controllers,
		"scanned":     result.Scanned,
		"elapsed_ms":  result.ElapsedMS,
	})

	writeJSON(w, http.StatusOK, result)
}
