package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sortline/sortline-core/internal/api"
	"github.com/sortline/sortline-core/internal/device"
	"github.com/sortline/sortline-core/internal/discovery"
	"github.com/sortline/sortline-core/internal/infrastructure/config"
	"github.com/sortline/sortline-core/internal/infrastructure/logging"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	topic string
	data  any
}

func (p *fakePublisher) Publish(topic string, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{topic: topic, data: data})
}

func (p *fakePublisher) byTopic(topic string) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedEvent
	for _, e := range p.events {
		if e.topic == topic {
			out = append(out, e)
		}
	}
	return out
}

type fakeScanner struct {
	result discovery.Result
}

func (s *fakeScanner) Scan(_ context.Context, targets []string) discovery.Result {
	r := s.result
	r.Scanned = len(targets)
	return r
}

type okProber struct{}

func (okProber) Probe(context.Context, string) (device.ProbeReport, error) {
	return device.ProbeReport{}, nil
}

type downProber struct{}

func (downProber) Probe(context.Context, string) (device.ProbeReport, error) {
	return device.ProbeReport{}, errors.New("unreachable")
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text"}, "test")
}

func testScheduler(t *testing.T, registry *device.Registry, scanner Scanner, pub *fakePublisher) *Scheduler {
	t.Helper()
	return New(Deps{
		Config:     config.SchedulerConfig{DiscoveryInterval: 5, StaleSweepInterval: 5, HeartbeatInterval: 1},
		StaleAfter: time.Nanosecond,
		Registry:   registry,
		Scanner:    scanner,
		Targets:    func() ([]string, error) { return []string{"192.168.1.10"}, nil },
		Publisher:  pub,
		Snapshot:   func() any { return map[string]any{"ok": true} },
		Logger:     testLogger(),
	})
}

func TestRunDiscoveryRegistersAndPublishes(t *testing.T) {
	registry := device.NewRegistry(okProber{}, 1, testLogger())
	scanner := &fakeScanner{result: discovery.Result{
		Cameras:     []discovery.Found{{ID: "cam-01", Type: device.TypeCamera, Address: "192.168.1.10"}},
		Controllers: []discovery.Found{{ID: "ctl-01", Type: device.TypeController, Address: "192.168.1.20"}},
	}}
	pub := &fakePublisher{}

	s := testScheduler(t, registry, scanner, pub)
	s.runDiscovery(context.Background())

	if !registry.Has("cam-01") || !registry.Has("ctl-01") {
		t.Error("expected discovered devices to be registered")
	}

	events := pub.byTopic(api.TopicDeviceStatus)
	if len(events) != 1 {
		t.Fatalf("expected 1 device-status event, got %d", len(events))
	}
}

func TestRunStaleSweepPublishesOnlyOnChange(t *testing.T) {
	registry := device.NewRegistry(okProber{}, 1, testLogger())
	pub := &fakePublisher{}
	s := testScheduler(t, registry, &fakeScanner{}, pub)

	// Nothing registered: a sweep must stay silent.
	s.runStaleSweep()
	if got := pub.byTopic(api.TopicDeviceStatus); len(got) != 0 {
		t.Fatalf("expected no events for a no-op sweep, got %d", len(got))
	}

	if _, err := registry.Register(context.Background(), "ctl-01", device.TypeController, "192.168.1.20"); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	// StaleAfter is a nanosecond, so the device is already quiet.
	time.Sleep(time.Millisecond)
	s.runStaleSweep()
	if got := pub.byTopic(api.TopicDeviceStatus); len(got) != 1 {
		t.Fatalf("expected 1 event after a real transition, got %d", len(got))
	}

	// The device is offline now; a second sweep changes nothing.
	s.runStaleSweep()
	if got := pub.byTopic(api.TopicDeviceStatus); len(got) != 1 {
		t.Errorf("expected no further events, got %d", len(got))
	}
}

func TestHeartbeatPublishesUnconditionally(t *testing.T) {
	registry := device.NewRegistry(downProber{}, 1, testLogger())
	pub := &fakePublisher{}
	s := testScheduler(t, registry, nil, pub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Close()

	deadline := time.After(3 * time.Second)
	for {
		if len(pub.byTopic(api.TopicSystemStatus)) >= 1 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("expected a heartbeat within 3s")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestCloseStopsLoops(t *testing.T) {
	registry := device.NewRegistry(okProber{}, 1, testLogger())
	pub := &fakePublisher{}
	s := testScheduler(t, registry, &fakeScanner{}, pub)

	s.Start(context.Background())

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close() did not return; loops leaked")
	}
}
