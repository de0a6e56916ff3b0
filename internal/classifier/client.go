// Package classifier scores captured images against an external
// classification service and maps material categories to actuator
// positions on the sorting line.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/sortline/sortline-core/internal/infrastructure/logging"
	"github.com/sortline/sortline-core/internal/telemetry"
)

// ErrScoringFailed is returned when the scoring service cannot produce
// a usable result.
var ErrScoringFailed = errors.New("classifier: scoring failed")

// Outcome is a scored capture.
type Outcome struct {
	Material   telemetry.Material
	Confidence float64
}

// Scorer assigns a material category to an image.
type Scorer interface {
	Score(ctx context.Context, image []byte) (Outcome, error)
}

// HTTPScorer scores images against an external HTTP classification
// service, retrying transient failures.
type HTTPScorer struct {
	url      string
	client   *http.Client
	attempts int
	logger   *logging.Logger
}

// NewHTTPScorer creates a scorer for the given service URL with a
// per-attempt timeout and a bounded retry count.
func NewHTTPScorer(url string, timeout time.Duration, attempts int, logger *logging.Logger) *HTTPScorer {
	if attempts < 1 {
		attempts = 1
	}
	return &HTTPScorer{
		url:      url,
		client:   &http.Client{Timeout: timeout},
		attempts: attempts,
		logger:   logger.With("component", "classifier"),
	}
}

// scoreResponse is the scoring service's reply.
type scoreResponse struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Score posts the image as a multipart upload and parses the assigned
// label. Labels outside the known material classes are normalized to
// MaterialUnknown rather than treated as errors.
func (s *HTTPScorer) Score(ctx context.Context, image []byte) (Outcome, error) {
	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		outcome, err := s.scoreOnce(ctx, image)
		if err == nil {
			return outcome, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		s.logger.Warn("scoring attempt failed",
			"attempt", attempt, "attempts", s.attempts, "error", err)
	}
	return Outcome{}, fmt.Errorf("%w: %v", ErrScoringFailed, lastErr)
}

func (s *HTTPScorer) scoreOnce(ctx context.Context, image []byte) (Outcome, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("image", "capture.jpg")
	if err != nil {
		return Outcome{}, fmt.Errorf("building upload: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return Outcome{}, fmt.Errorf("building upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return Outcome{}, fmt.Errorf("building upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, &body)
	if err != nil {
		return Outcome{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		return Outcome{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Outcome{}, fmt.Errorf("scoring service returned %d", resp.StatusCode)
	}

	var result scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Outcome{}, fmt.Errorf("parsing response: %w", err)
	}

	return Outcome{
		Material:   normalizeMaterial(result.Label),
		Confidence: result.Confidence,
	}, nil
}

// normalizeMaterial maps the service's label string to a known
// material class.
func normalizeMaterial(raw string) telemetry.Material {
	switch telemetry.Material(raw) {
	case telemetry.MaterialGlass, telemetry.MaterialPlastic, telemetry.MaterialMetal:
		return telemetry.Material(raw)
	default:
		return telemetry.MaterialUnknown
	}
}

// Servo angles for the diverter, one lane per material. Unrecognized
// material takes the centre position and passes through.
const (
	PositionGlass   = 45
	PositionPlastic = 90
	PositionMetal   = 135
	PositionDefault = 90
)

// ActuatorPosition returns the servo angle the diverter should move to
// for a material class.
func ActuatorPosition(m telemetry.Material) int {
	switch m {
	case telemetry.MaterialGlass:
		return PositionGlass
	case telemetry.MaterialPlastic:
		return PositionPlastic
	case telemetry.MaterialMetal:
		return PositionMetal
	default:
		return PositionDefault
	}
}
