package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sortline/sortline-core/internal/classifier"
	"github.com/sortline/sortline-core/internal/device"
	"github.com/sortline/sortline-core/internal/telemetry"
)

// defaultCommandPriority is used when a caller omits priority.
// 1 is highest; operator-initiated commands sit mid-range so automatic
// actuation can pre-empt them.
const defaultCommandPriority = 5

type registerDeviceRequest struct {
	DeviceID   string `json:"device_id"`
	Address    string `json:"address"`
	DeviceType string `json:"device_type"`
}

// handleRegisterDevice registers a device, probing it for liveness.
// An unreachable device still registers, as offline.
func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	d, err := s.registry.Register(r.Context(), req.DeviceID, device.Type(req.DeviceType), req.Address)
	if err != nil {
		if errors.Is(err, device.ErrInvalidDevice) {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
			return
		}
		writeInternalError(w, "registration failed")
		return
	}

	writeJSON(w, http.StatusCreated, d)
}

// handleListDevices returns all devices, optionally filtered by type.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.registry.List()

	if filter := r.URL.Query().Get("type"); filter != "" {
		filtered := devices[:0]
		for _, d := range devices {
			if string(d.Type) == filter {
				filtered = append(filtered, d)
			}
		}
		devices = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns one device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	d, err := s.registry.Get(id)
	if err != nil {
		writeNotFound(w, fmt.Sprintf("device %s not found", id))
		return
	}

	writeJSON(w, http.StatusOK, d)
}

type enqueueCommandRequest struct {
	Kind       string         `json:"kind"`
	Parameters map[string]any `json:"parameters"`
	Priority   int            `json:"priority"`
}

// handleEnqueueCommand queues a command for the device's next poll.
func (s *Server) handleEnqueueCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req enqueueCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	priority := req.Priority
	if priority == 0 {
		priority = defaultCommandPriority
	}

	cmd, err := s.queue.Enqueue(id, device.CommandKind(req.Kind), req.Parameters, priority)
	if err != nil {
		switch {
		case errors.Is(err, device.ErrDeviceNotFound):
			writeNotFound(w, fmt.Sprintf("device %s not found", id))
		case errors.Is(err, device.ErrInvalidCommand), errors.Is(err, device.ErrInvalidDevice):
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		default:
			writeInternalError(w, "enqueue failed")
		}
		return
	}

	writeJSON(w, http.StatusCreated, cmd)
}

// handlePendingCommands returns the device's queued commands without
// draining them.
func (s *Server) handlePendingCommands(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if !s.registry.Has(id) {
		writeNotFound(w, fmt.Sprintf("device %s not found", id))
		return
	}

	pending := s.queue.Pending(id)
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id":        id,
		"pending_commands": pending,
		"count":            len(pending),
	})
}

// handleDeviceSensors returns recent sensor readings for one device.
func (s *Server) handleDeviceSensors(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if !s.registry.Has(id) {
		writeNotFound(w, fmt.Sprintf("device %s not found", id))
		return
	}

	limit := parseLimit(r, 50)
	readings := s.sensors.Query(id, limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"readings":  readings,
		"count":     len(readings),
	})
}

// handleCapture proxies a capture request to a camera device and
// streams the image back.
func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	d, err := s.registry.Get(id)
	if err != nil {
		writeNotFound(w, fmt.Sprintf("device %s not found", id))
		return
	}
	if d.Type != device.TypeCamera {
		writeBadRequest(w, fmt.Sprintf("device %s is not a camera", id))
		return
	}

	img, contentType, err := s.fetchCapture(r, d.Address)
	if err != nil {
		s.logger.Warn("capture failed", "device_id", id, "error", err)
		writeBadGateway(w, fmt.Sprintf("capture from %s failed", id))
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // Best-effort write to response
	w.Write(img)
}

// fetchCapture pulls one frame from a camera's capture endpoint.
func (s *Server) fetchCapture(r *http.Request, address string) ([]byte, string, error) {
	url := fmt.Sprintf("http://%s/capture", address)
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := s.deviceClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("camera returned %d", resp.StatusCode)
	}

	img, err := io.ReadAll(io.LimitReader(resp.Body, maxCaptureBytes))
	if err != nil {
		return nil, "", err
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return img, contentType, nil
}

// maxCaptureBytes bounds a proxied camera frame (4 MB).
const maxCaptureBytes = 4 << 20

type classifyRequest struct {
	// TargetID names the controller whose diverter should move. Defaults
	// to the capturing device when the line pairs each camera with its
	// own actuator stage.
	TargetID string `json:"target_id,omitempty"`
}

// handleClassify runs the full capture-score-actuate pipeline for one
// camera: pull a frame, score it against the external classifier,
// record the result, publish it, and queue the diverter move.
func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if s.scorer == nil {
		writeServiceUnavailable(w, "classifier is not configured")
		return
	}

	d, err := s.registry.Get(id)
	if err != nil {
		writeNotFound(w, fmt.Sprintf("device %s not found", id))
		return
	}
	if d.Type != device.TypeCamera {
		writeBadRequest(w, fmt.Sprintf("device %s is not a camera", id))
		return
	}

	var req classifyRequest
	if r.Body != nil {
		//nolint:errcheck // Empty body is fine; TargetID stays defaulted
		json.NewDecoder(r.Body).Decode(&req)
	}
	targetID := req.TargetID
	if targetID == "" {
		targetID = id
	}

	img, _, err := s.fetchCapture(r, d.Address)
	if err != nil {
		s.logger.Warn("capture for classification failed", "device_id", id, "error", err)
		writeBadGateway(w, fmt.Sprintf("capture from %s failed", id))
		return
	}

	outcome, err := s.scorer.Score(r.Context(), img)
	if err != nil {
		s.logger.Warn("scoring failed", "device_id", id, "error", err)
		writeBadGateway(w, "classification scoring failed")
		return
	}

	record := s.recordClassification(telemetry.ClassificationRecord{
		DeviceID:   id,
		Material:   outcome.Material,
		Confidence: outcome.Confidence,
		Position:   classifier.ActuatorPosition(outcome.Material),
	}, targetID)

	writeJSON(w, http.StatusOK, record)
}

// parseLimit reads a ?limit=N query parameter with a fallback.
func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return fallback
	}
	return limit
}
