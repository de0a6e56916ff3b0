package device

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sortline/sortline-core/internal/infrastructure/logging"
)

// Registry tracks the devices known to the line. It is safe for
// concurrent use and holds all state in memory.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*Device

	prober        Prober
	probeAttempts int
	logger        *logging.Logger

	now func() time.Time
}

// NewRegistry creates an empty registry. The prober is used to check
// liveness during registration; probeAttempts bounds its retries.
func NewRegistry(prober Prober, probeAttempts int, logger *logging.Logger) *Registry {
	if probeAttempts < 1 {
		probeAttempts = 1
	}
	return &Registry{
		devices:       make(map[string]*Device),
		prober:        prober,
		probeAttempts: probeAttempts,
		logger:        logger.With("component", "registry"),
		now:           time.Now,
	}
}

// Register adds a device, probing its status endpoint to decide its
// initial liveness. Registering an existing ID updates its address and
// type and re-probes. A probe failure registers the device offline; it
// is never surfaced as an error.
func (r *Registry) Register(ctx context.Context, id string, typ Type, address string) (*Device, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if err := ValidateType(typ); err != nil {
		return nil, err
	}
	if err := ValidateAddress(address); err != nil {
		return nil, err
	}

	status := StatusOffline
	var report ProbeReport
	if rep, err := r.probe(ctx, address); err != nil {
		r.logger.Warn("registration probe failed, registering offline",
			"device_id", id, "address", address, "error", err)
	} else {
		status = StatusOnline
		report = rep
	}

	if report.Role != "" && report.Role != string(typ) {
		r.logger.Warn("device self-reports a different role",
			"device_id", id, "requested", typ, "reported", report.Role)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	d, ok := r.devices[id]
	if !ok {
		d = &Device{ID: id, RegisteredAt: now}
		r.devices[id] = d
	}
	d.Type = typ
	d.Address = address
	d.Status = status
	d.UpdatedAt = now
	if status == StatusOnline {
		d.LastSeen = now
		d.Telemetry = report.Telemetry
	}

	r.logger.Info("device registered",
		"device_id", id, "type", typ, "address", address, "status", status)

	snapshot := *d
	return &snapshot, nil
}

// probe retries the liveness check up to probeAttempts times.
func (r *Registry) probe(ctx context.Context, address string) (ProbeReport, error) {
	var err error
	for attempt := 1; attempt <= r.probeAttempts; attempt++ {
		var report ProbeReport
		if report, err = r.prober.Probe(ctx, address); err == nil {
			return report, nil
		}
		if ctx.Err() != nil {
			return ProbeReport{}, ctx.Err()
		}
	}
	return ProbeReport{}, err
}

// UpdateFromTelemetry records a device check-in. A telemetry post from
// an unknown device implicitly registers it, and always forces the
// device online: a device that is talking to us is alive regardless of
// what probes or sweeps concluded. Returns the device and whether it
// was newly created.
func (r *Registry) UpdateFromTelemetry(id string, typ Type, address string, tel Telemetry) (*Device, bool, error) {
	if err := ValidateID(id); err != nil {
		return nil, false, err
	}
	if err := ValidateType(typ); err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	d, ok := r.devices[id]
	created := false
	if !ok {
		d = &Device{ID: id, RegisteredAt: now}
		r.devices[id] = d
		created = true
	}
	d.Type = typ
	if address != "" {
		d.Address = address
	}
	d.Status = StatusOnline
	d.LastSeen = now
	d.Telemetry = tel
	d.UpdatedAt = now

	if created {
		r.logger.Info("device registered from telemetry", "device_id", id, "type", typ)
	}

	snapshot := *d
	return &snapshot, created, nil
}

// SetStatus overrides a device's liveness state.
func (r *Registry) SetStatus(id string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return ErrDeviceNotFound
	}
	d.Status = status
	d.UpdatedAt = r.now()
	return nil
}

// Has reports whether a device ID is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.devices[id]
	return ok
}

// Get returns a copy of the device with the given ID.
func (r *Registry) Get(id string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	snapshot := *d
	return &snapshot, nil
}

// List returns copies of all devices, sorted by ID.
func (r *Registry) List() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		snapshot := *d
		out = append(out, &snapshot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Counts summarizes the registry by liveness state.
func (r *Registry) Counts() Counts {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var c Counts
	for _, d := range r.devices {
		c.Total++
		switch d.Status {
		case StatusOnline:
			c.Online++
		case StatusError:
			c.Error++
		default:
			c.Offline++
		}
	}
	return c
}

// TypeCounts summarizes the registry by device role.
func (r *Registry) TypeCounts() map[Type]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[Type]int)
	for _, d := range r.devices {
		out[d.Type]++
	}
	return out
}

// MarkStale flips online devices that have not been seen within the
// threshold to offline, returning the IDs it changed.
func (r *Registry) MarkStale(threshold time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-threshold)

	var stale []string
	for id, d := range r.devices {
		if d.Status == StatusOnline && d.LastSeen.Before(cutoff) {
			d.Status = StatusOffline
			d.UpdatedAt = now
			stale = append(stale, id)
		}
	}
	sort.Strings(stale)

	if len(stale) > 0 {
		r.logger.Info("marked stale devices offline", "count", len(stale), "device_ids", stale)
	}
	return stale
}
