package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	WebSocket     WSMetrics        `json:"websocket"`
	MQTT          MQTTMetrics      `json:"mqtt"`
	Devices       DeviceMetrics    `json:"devices"`
	Queue         QueueMetrics     `json:"queue"`
	Telemetry     TelemetryMetrics `json:"telemetry"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains observer connection statistics.
type WSMetrics struct {
	ConnectedClients int            `json:"connected_clients"`
	Groups           map[string]int `json:"groups"`
}

// MQTTMetrics contains MQTT bridge statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// DeviceMetrics contains device registry statistics.
type DeviceMetrics struct {
	Total   int            `json:"total"`
	Online  int            `json:"online"`
	Offline int            `json:"offline"`
	Error   int            `json:"error"`
	ByType  map[string]int `json:"by_type"`
}

// QueueMetrics contains command queue statistics.
type QueueMetrics struct {
	TotalPending int            `json:"total_pending"`
	PerDevice    map[string]int `json:"per_device,omitempty"`
}

// TelemetryMetrics contains rolling log fill levels.
type TelemetryMetrics struct {
	SensorEntries         int `json:"sensor_entries"`
	ClassificationEntries int `json:"classification_entries"`
}

// handleMetrics returns comprehensive system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	hubStats := s.hub.Stats()

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: hubStats.Total,
			Groups:           hubStats.Groups,
		},
		Telemetry: TelemetryMetrics{
			SensorEntries:         s.sensors.Len(),
			ClassificationEntries: s.classifications.Len(),
		},
	}

	if s.mqtt != nil {
		metrics.MQTT = MQTTMetrics{Connected: s.mqtt.IsConnected()}
	}

	counts := s.registry.Counts()
	metrics.Devices = DeviceMetrics{
		Total:   counts.Total,
		Online:  counts.Online,
		Offline: counts.Offline,
		Error:   counts.Error,
		ByType:  make(map[string]int),
	}
	for typ, n := range s.registry.TypeCounts() {
		metrics.Devices.ByType[string(typ)] = n
	}

	depths := s.queue.Depths()
	metrics.Queue = QueueMetrics{PerDevice: depths}
	for _, n := range depths {
		metrics.Queue.TotalPending += n
	}

	writeJSON(w, http.StatusOK, metrics)
}
