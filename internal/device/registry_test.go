package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sortline/sortline-core/internal/infrastructure/config"
	"github.com/sortline/sortline-core/internal/infrastructure/logging"
)

// fakeProber answers probes from a script of errors, one per call.
// Successful probes carry the configured report.
type fakeProber struct {
	mu     sync.Mutex
	errs   []error
	report ProbeReport
	calls  int
}

func (p *fakeProber) Probe(ctx context.Context, address string) (ProbeReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.errs) == 0 {
		return p.report, nil
	}
	err := p.errs[0]
	p.errs = p.errs[1:]
	if err != nil {
		return ProbeReport{}, err
	}
	return p.report, nil
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text"}, "test")
}

func testRegistry(t *testing.T, prober Prober, attempts int) *Registry {
	t.Helper()
	return NewRegistry(prober, attempts, testLogger())
}

func TestRegisterOnline(t *testing.T) {
	r := testRegistry(t, &fakeProber{}, 3)

	d, err := r.Register(context.Background(), "cam-01", TypeCamera, "192.168.1.10")
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if d.Status != StatusOnline {
		t.Errorf("expected online, got %s", d.Status)
	}
	if d.RegisteredAt.IsZero() || d.LastSeen.IsZero() {
		t.Error("expected timestamps to be set")
	}
}

func TestRegisterStoresProbedTelemetry(t *testing.T) {
	prober := &fakeProber{report: ProbeReport{
		Role: "camera",
		Telemetry: Telemetry{
			WiFiRSSI:      -42,
			UptimeSeconds: 123,
			FreeHeapBytes: 45678,
		},
	}}
	r := testRegistry(t, prober, 1)

	d, err := r.Register(context.Background(), "cam-01", TypeCamera, "192.168.1.10")
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if d.Telemetry.WiFiRSSI != -42 || d.Telemetry.UptimeSeconds != 123 || d.Telemetry.FreeHeapBytes != 45678 {
		t.Errorf("telemetry not taken from probe report: %+v", d.Telemetry)
	}
}

func TestRegisterOfflineLeavesTelemetryZero(t *testing.T) {
	probeErr := errors.New("connection refused")
	prober := &fakeProber{
		errs:   []error{probeErr},
		report: ProbeReport{Telemetry: Telemetry{WiFiRSSI: -42}},
	}
	r := testRegistry(t, prober, 1)

	d, err := r.Register(context.Background(), "cam-01", TypeCamera, "192.0.2.1")
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if d.Telemetry != (Telemetry{}) {
		t.Errorf("offline registration must not invent telemetry: %+v", d.Telemetry)
	}
}

func TestRegisterProbeFailureRegistersOffline(t *testing.T) {
	probeErr := errors.New("connection refused")
	prober := &fakeProber{errs: []error{probeErr, probeErr, probeErr}}
	r := testRegistry(t, prober, 3)

	d, err := r.Register(context.Background(), "ctl-01", TypeController, "192.168.1.20")
	if err != nil {
		t.Fatalf("Register() should not surface probe failures, got: %v", err)
	}
	if d.Status != StatusOffline {
		t.Errorf("expected offline after failed probes, got %s", d.Status)
	}
	if prober.calls != 3 {
		t.Errorf("expected 3 probe attempts, got %d", prober.calls)
	}
}

func TestRegisterRetriesUntilSuccess(t *testing.T) {
	prober := &fakeProber{errs: []error{errors.New("timeout"), nil}}
	r := testRegistry(t, prober, 3)

	d, err := r.Register(context.Background(), "cam-02", TypeCamera, "192.168.1.11")
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if d.Status != StatusOnline {
		t.Errorf("expected online after retry, got %s", d.Status)
	}
	if prober.calls != 2 {
		t.Errorf("expected 2 probe attempts, got %d", prober.calls)
	}
}

func TestRegisterValidation(t *testing.T) {
	r := testRegistry(t, &fakeProber{}, 1)

	cases := []struct {
		name    string
		id      string
		typ     Type
		address string
	}{
		{"empty id", "", TypeCamera, "192.168.1.10"},
		{"bad id", "cam 01!", TypeCamera, "192.168.1.10"},
		{"bad type", "cam-01", Type("sensor"), "192.168.1.10"},
		{"empty address", "cam-01", TypeCamera, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Register(context.Background(), tc.id, tc.typ, tc.address)
			if !errors.Is(err, ErrInvalidDevice) {
				t.Errorf("expected ErrInvalidDevice, got %v", err)
			}
		})
	}
}

func TestRegisterExistingUpdatesAddress(t *testing.T) {
	r := testRegistry(t, &fakeProber{}, 1)
	ctx := context.Background()

	first, err := r.Register(ctx, "cam-01", TypeCamera, "192.168.1.10")
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	second, err := r.Register(ctx, "cam-01", TypeCamera, "192.168.1.99")
	if err != nil {
		t.Fatalf("re-Register() error: %v", err)
	}
	if second.Address != "192.168.1.99" {
		t.Errorf("expected updated address, got %s", second.Address)
	}
	if !second.RegisteredAt.Equal(first.RegisteredAt) {
		t.Error("expected RegisteredAt to survive re-registration")
	}

	if c := r.Counts(); c.Total != 1 {
		t.Errorf("expected 1 device after re-registration, got %d", c.Total)
	}
}

func TestUpdateFromTelemetryCreatesAndForcesOnline(t *testing.T) {
	r := testRegistry(t, &fakeProber{}, 1)

	tel := Telemetry{WiFiRSSI: -61, UptimeSeconds: 120, FreeHeapBytes: 180000}
	d, created, err := r.UpdateFromTelemetry("ctl-07", TypeController, "192.168.1.30", tel)
	if err != nil {
		t.Fatalf("UpdateFromTelemetry() error: %v", err)
	}
	if !created {
		t.Error("expected implicit creation")
	}
	if d.Status != StatusOnline {
		t.Errorf("expected online, got %s", d.Status)
	}
	if d.Telemetry.WiFiRSSI != -61 {
		t.Errorf("expected telemetry to be stored, got %+v", d.Telemetry)
	}
}

func TestTelemetryOverridesOfflineStatus(t *testing.T) {
	prober := &fakeProber{errs: []error{errors.New("down")}}
	r := testRegistry(t, prober, 1)
	ctx := context.Background()

	if _, err := r.Register(ctx, "cam-01", TypeCamera, "192.168.1.10"); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	d, created, err := r.UpdateFromTelemetry("cam-01", TypeCamera, "", Telemetry{})
	if err != nil {
		t.Fatalf("UpdateFromTelemetry() error: %v", err)
	}
	if created {
		t.Error("expected existing device, not a new one")
	}
	if d.Status != StatusOnline {
		t.Errorf("telemetry must force online, got %s", d.Status)
	}
	if d.Address != "192.168.1.10" {
		t.Errorf("empty telemetry address must not clobber the stored one, got %s", d.Address)
	}
}

func TestGetNotFound(t *testing.T) {
	r := testRegistry(t, &fakeProber{}, 1)
	if _, err := r.Get("ghost"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	r := testRegistry(t, &fakeProber{}, 1)
	ctx := context.Background()

	if _, err := r.Register(ctx, "cam-01", TypeCamera, "192.168.1.10"); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	d, err := r.Get("cam-01")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	d.Status = StatusError

	fresh, err := r.Get("cam-01")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if fresh.Status == StatusError {
		t.Error("mutating a returned device must not affect the registry")
	}
}

func TestListSortedByID(t *testing.T) {
	r := testRegistry(t, &fakeProber{}, 1)
	ctx := context.Background()

	for _, id := range []string{"ctl-02", "cam-01", "cam-03"} {
		typ := TypeCamera
		if id[:3] == "ctl" {
			typ = TypeController
		}
		if _, err := r.Register(ctx, id, typ, "192.168.1.10"); err != nil {
			t.Fatalf("Register(%s) error: %v", id, err)
		}
	}

	list := r.List()
	want := []string{"cam-01", "cam-03", "ctl-02"}
	if len(list) != len(want) {
		t.Fatalf("expected %d devices, got %d", len(want), len(list))
	}
	for i, id := range want {
		if list[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, list[i].ID)
		}
	}
}

func TestMarkStale(t *testing.T) {
	r := testRegistry(t, &fakeProber{}, 1)
	ctx := context.Background()

	base := time.Now()
	r.now = func() time.Time { return base }

	if _, err := r.Register(ctx, "cam-01", TypeCamera, "192.168.1.10"); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if _, err := r.Register(ctx, "ctl-01", TypeController, "192.168.1.20"); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	// ctl-01 checks in later; cam-01 goes quiet.
	r.now = func() time.Time { return base.Add(8 * time.Minute) }
	if _, _, err := r.UpdateFromTelemetry("ctl-01", TypeController, "", Telemetry{}); err != nil {
		t.Fatalf("UpdateFromTelemetry() error: %v", err)
	}

	r.now = func() time.Time { return base.Add(12 * time.Minute) }
	stale := r.MarkStale(10 * time.Minute)

	if len(stale) != 1 || stale[0] != "cam-01" {
		t.Fatalf("expected [cam-01] stale, got %v", stale)
	}

	d, _ := r.Get("cam-01")
	if d.Status != StatusOffline {
		t.Errorf("expected cam-01 offline, got %s", d.Status)
	}
	d, _ = r.Get("ctl-01")
	if d.Status != StatusOnline {
		t.Errorf("expected ctl-01 still online, got %s", d.Status)
	}

	// Second sweep is a no-op: offline devices are not re-marked.
	if again := r.MarkStale(10 * time.Minute); len(again) != 0 {
		t.Errorf("expected no devices on second sweep, got %v", again)
	}
}

func TestCounts(t *testing.T) {
	prober := &fakeProber{errs: []error{nil, errors.New("down")}}
	r := testRegistry(t, prober, 1)
	ctx := context.Background()

	if _, err := r.Register(ctx, "cam-01", TypeCamera, "192.168.1.10"); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if _, err := r.Register(ctx, "ctl-01", TypeController, "192.168.1.20"); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if err := r.SetStatus("ctl-01", StatusError); err != nil {
		t.Fatalf("SetStatus() error: %v", err)
	}

	c := r.Counts()
	if c.Total != 2 || c.Online != 1 || c.Error != 1 || c.Offline != 0 {
		t.Errorf("unexpected counts: %+v", c)
	}

	byType := r.TypeCounts()
	if byType[TypeCamera] != 1 || byType[TypeController] != 1 {
		t.Errorf("unexpected type counts: %v", byType)
	}
}

func TestSetStatusNotFound(t *testing.T) {
	r := testRegistry(t, &fakeProber{}, 1)
	if err := r.SetStatus("ghost", StatusError); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound, got %v", err)
	}
}
