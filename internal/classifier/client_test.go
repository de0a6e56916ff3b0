package classifier

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sortline/sortline-core/internal/infrastructure/config"
	"github.com/sortline/sortline-core/internal/infrastructure/logging"
	"github.com/sortline/sortline-core/internal/telemetry"
)

func testScorerLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text"}, "test")
}

func TestScoreParsesMultipartAndResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("expected multipart upload: %v", err)
		}
		if _, _, err := r.FormFile("image"); err != nil {
			t.Errorf("expected image form file: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"label":"metal","confidence":0.93}`))
	}))
	defer srv.Close()

	scorer := NewHTTPScorer(srv.URL, 2*time.Second, 1, testScorerLogger())

	outcome, err := scorer.Score(context.Background(), []byte("jpegbytes"))
	if err != nil {
		t.Fatalf("Score() error: %v", err)
	}
	if outcome.Material != telemetry.MaterialMetal {
		t.Errorf("expected metal, got %s", outcome.Material)
	}
	if outcome.Confidence != 0.93 {
		t.Errorf("expected confidence 0.93, got %v", outcome.Confidence)
	}
}

func TestScoreRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"label":"glass","confidence":0.8}`))
	}))
	defer srv.Close()

	scorer := NewHTTPScorer(srv.URL, 2*time.Second, 3, testScorerLogger())

	outcome, err := scorer.Score(context.Background(), []byte("jpegbytes"))
	if err != nil {
		t.Fatalf("Score() error after retries: %v", err)
	}
	if outcome.Material != telemetry.MaterialGlass {
		t.Errorf("expected glass, got %s", outcome.Material)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestScoreExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	scorer := NewHTTPScorer(srv.URL, 2*time.Second, 2, testScorerLogger())

	if _, err := scorer.Score(context.Background(), []byte("jpegbytes")); !errors.Is(err, ErrScoringFailed) {
		t.Errorf("expected ErrScoringFailed, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestScoreNormalizesUnknownLabel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"label":"cardboard","confidence":0.5}`))
	}))
	defer srv.Close()

	scorer := NewHTTPScorer(srv.URL, 2*time.Second, 1, testScorerLogger())

	outcome, err := scorer.Score(context.Background(), []byte("jpegbytes"))
	if err != nil {
		t.Fatalf("Score() error: %v", err)
	}
	if outcome.Material != telemetry.MaterialUnknown {
		t.Errorf("expected unknown, got %s", outcome.Material)
	}
}

func TestActuatorPosition(t *testing.T) {
	cases := []struct {
		material telemetry.Material
		want     int
	}{
		{telemetry.MaterialGlass, 45},
		{telemetry.MaterialPlastic, 90},
		{telemetry.MaterialMetal, 135},
		{telemetry.MaterialUnknown, 90},
		{telemetry.Material("cardboard"), 90},
	}

	for _, tc := range cases {
		if got := ActuatorPosition(tc.material); got != tc.want {
			t.Errorf("ActuatorPosition(%s) = %d, want %d", tc.material, got, tc.want)
		}
	}
}
