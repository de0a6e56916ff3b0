package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sortline/sortline-core/internal/classifier"
	"github.com/sortline/sortline-core/internal/device"
	"github.com/sortline/sortline-core/internal/telemetry"
)

// moveActuatorDurationMS is how long a diverter holds its position
// before the controller recentres it.
const moveActuatorDurationMS = 2000

type sensorIngestRequest struct {
	DeviceID   string             `json:"device_id"`
	DeviceType string             `json:"device_type,omitempty"`
	Address    string             `json:"address,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
	Channels   map[string]float64 `json:"channels"`
	Health     *device.Telemetry  `json:"health,omitempty"`
}

// handleSensorIngest is the device poll endpoint. One POST both
// delivers a sensor reading and collects everything queued for the
// device: the pending command list is drained atomically into the
// response. Unknown devices are implicitly registered and any sender
// is forced online, since a device that is talking is alive.
func (s *Server) handleSensorIngest(w http.ResponseWriter, r *http.Request) {
	var req sensorIngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	typ := device.Type(req.DeviceType)
	if req.DeviceType == "" {
		// Sensor posts come from controller units.
		typ = device.TypeController
	}

	var health device.Telemetry
	if req.Health != nil {
		health = *req.Health
	}

	d, created, err := s.registry.UpdateFromTelemetry(req.DeviceID, typ, req.Address, health)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}
	if created {
		s.logger.Info("device implicitly registered from sensor push", "device_id", d.ID)
	}

	reading := telemetry.SensorReading{
		DeviceID:  req.DeviceID,
		Timestamp: req.Timestamp,
		Channels:  req.Channels,
	}
	if reading.Timestamp.IsZero() {
		reading.Timestamp = time.Now().UTC()
	}
	s.sensors.Append(reading)

	if s.tsdb != nil {
		s.tsdb.WriteSensorReading(reading)
	}

	s.hub.Publish(TopicSensorData, reading)

	pending := s.queue.Drain(req.DeviceID)
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id":        req.DeviceID,
		"pending_commands": pending,
	})
}

type classificationIngestRequest struct {
	DeviceID   string    `json:"device_id"`
	Material   string    `json:"material"`
	Confidence float64   `json:"confidence"`
	Position   int       `json:"resulting_position"`
	Timestamp  time.Time `json:"timestamp"`
}

// handleClassificationIngest records a classification reported by a
// camera, publishes it, and queues the matching diverter move for the
// reporting device.
func (s *Server) handleClassificationIngest(w http.ResponseWriter, r *http.Request) {
	var req classificationIngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	// A classification push is proof of liveness, same as sensor data.
	if _, _, err := s.registry.UpdateFromTelemetry(req.DeviceID, device.TypeCamera, "", device.Telemetry{}); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	record := telemetry.ClassificationRecord{
		DeviceID:   req.DeviceID,
		Material:   telemetry.Material(req.Material),
		Confidence: req.Confidence,
		Position:   req.Position,
		Timestamp:  req.Timestamp,
	}
	if record.Position == 0 {
		record.Position = classifier.ActuatorPosition(record.Material)
	}

	record = s.recordClassification(record, req.DeviceID)

	writeJSON(w, http.StatusCreated, record)
}

// recordClassification appends a classification record to the log,
// mirrors it, publishes it, and queues the automatic move-actuator
// command for the target device. Shared by the ingest endpoint and the
// capture-classify pipeline.
func (s *Server) recordClassification(record telemetry.ClassificationRecord, targetID string) telemetry.ClassificationRecord {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	s.classifications.Append(record)

	if s.tsdb != nil {
		s.tsdb.WriteClassification(record)
	}

	s.hub.Publish(TopicClassification, record)

	params := map[string]any{
		"position":    record.Position,
		"duration_ms": moveActuatorDurationMS,
		"material":    string(record.Material),
	}
	if _, err := s.queue.Enqueue(targetID, device.CommandMoveActuator, params, 1); err != nil {
		// The target may have never registered; the classification still
		// stands, the actuation just has nowhere to go.
		if !errors.Is(err, device.ErrDeviceNotFound) {
			s.logger.Warn("automatic actuation enqueue failed",
				"device_id", targetID, "error", err)
		} else {
			s.logger.Debug("no actuation target for classification", "device_id", targetID)
		}
	}

	return record
}

// handleListClassifications returns recent classification records with
// summary statistics, optionally filtered to one device.
func (s *Server) handleListClassifications(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50)
	deviceID := r.URL.Query().Get("device_id")

	records := s.classifications.Query(deviceID, limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"classifications": records,
		"count":           len(records),
		"summary":         telemetry.Summarize(records),
	})
}
