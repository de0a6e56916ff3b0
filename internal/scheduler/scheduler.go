// Package scheduler runs the periodic background loops of the
// coordination hub: discovery sweeps, staleness sweeps, and the
// system-status heartbeat. Each loop has its own cadence and none
// blocks the others.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sortline/sortline-core/internal/api"
	"github.com/sortline/sortline-core/internal/device"
	"github.com/sortline/sortline-core/internal/discovery"
	"github.com/sortline/sortline-core/internal/infrastructure/config"
	"github.com/sortline/sortline-core/internal/infrastructure/logging"
)

// Publisher delivers events to observers.
type Publisher interface {
	Publish(topic string, data any)
}

// Scanner runs one discovery sweep over candidate addresses.
type Scanner interface {
	Scan(ctx context.Context, targets []string) discovery.Result
}

// Deps holds the collaborators the scheduler drives.
type Deps struct {
	Config     config.SchedulerConfig
	StaleAfter time.Duration
	Registry   *device.Registry
	Scanner    Scanner
	Targets    func() ([]string, error)
	Publisher  Publisher
	Snapshot   func() any
	Logger     *logging.Logger
}

// Scheduler owns the three background loops. Start launches them;
// Close stops them and waits for them to exit.
type Scheduler struct {
	cfg        config.SchedulerConfig
	staleAfter time.Duration
	registry   *device.Registry
	scanner    Scanner
	targets    func() ([]string, error)
	publisher  Publisher
	snapshot   func() any
	logger     *logging.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler. Discovery is skipped entirely when no
// scanner or target source is configured; the other loops always run.
func New(deps Deps) *Scheduler {
	return &Scheduler{
		cfg:        deps.Config,
		staleAfter: deps.StaleAfter,
		registry:   deps.Registry,
		scanner:    deps.Scanner,
		targets:    deps.Targets,
		publisher:  deps.Publisher,
		snapshot:   deps.Snapshot,
		logger:     deps.Logger.With("component", "scheduler"),
	}
}

// Start launches the background loops. An initial discovery sweep runs
// immediately so the registry is populated at startup rather than on
// the first tick.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	if s.scanner != nil && s.targets != nil {
		s.wg.Add(1)
		go s.discoveryLoop(ctx)
	} else {
		s.logger.Info("discovery loop disabled")
	}

	s.wg.Add(2)
	go s.staleLoop(ctx)
	go s.heartbeatLoop(ctx)
}

// Close stops the loops and waits for them to exit.
func (s *Scheduler) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) discoveryLoop(ctx context.Context) {
	defer s.wg.Done()

	s.runDiscovery(ctx)

	ticker := time.NewTicker(s.cfg.GetDiscoveryInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runDiscovery(ctx)
		}
	}
}

// runDiscovery sweeps the configured range and registers everything
// that answered.
func (s *Scheduler) runDiscovery(ctx context.Context) {
	targets, err := s.targets()
	if err != nil {
		s.logger.Error("building discovery targets failed", "error", err)
		return
	}

	result := s.scanner.Scan(ctx, targets)

	for _, found := range append(result.Cameras, result.Controllers...) {
		if _, err := s.registry.Register(ctx, found.ID, found.Type, found.Address); err != nil {
			s.logger.Warn("registering discovered device failed",
				"device_id", found.ID, "address", found.Address, "error", err)
		}
	}

	s.publisher.Publish(api.TopicDeviceStatus, map[string]any{
		"event":       "discovery",
		"cameras":     result.Cameras,
		"controllers": result.Controllers,
		"scanned":     result.Scanned,
		"elapsed_ms":  result.ElapsedMS,
	})
}

func (s *Scheduler) staleLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.GetStaleSweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runStaleSweep()
		}
	}
}

// runStaleSweep demotes quiet devices and publishes only when
// something actually changed, so observers are not spammed with
// no-op sweeps.
func (s *Scheduler) runStaleSweep() {
	stale := s.registry.MarkStale(s.staleAfter)
	if len(stale) == 0 {
		return
	}

	s.publisher.Publish(api.TopicDeviceStatus, map[string]any{
		"event":        "stale",
		"went_offline": stale,
	})
}

func (s *Scheduler) heartbeatLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.GetHeartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.publisher.Publish(api.TopicSystemStatus, s.snapshot())
		}
	}
}
