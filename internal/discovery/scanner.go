// Package discovery finds field devices by sweeping the local network
// for their HTTP status endpoints.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sortline/sortline-core/internal/device"
	"github.com/sortline/sortline-core/internal/infrastructure/logging"
)

// Found describes a device that answered a discovery probe.
type Found struct {
	ID      string      `json:"id"`
	Type    device.Type `json:"type"`
	Address string      `json:"address"`
}

// Result is the outcome of one sweep.
type Result struct {
	Cameras     []Found       `json:"cameras"`
	Controllers []Found       `json:"controllers"`
	Scanned     int           `json:"scanned"`
	Elapsed     time.Duration `json:"-"`
	ElapsedMS   int64         `json:"elapsed_ms"`
}

// Scanner probes candidate addresses concurrently, bounded by fanout.
type Scanner struct {
	client *http.Client
	fanout int
	logger *logging.Logger
}

// NewScanner creates a scanner with the given per-address probe timeout
// and concurrency bound.
func NewScanner(probeTimeout time.Duration, fanout int, logger *logging.Logger) *Scanner {
	if fanout < 1 {
		fanout = 1
	}
	return &Scanner{
		client: &http.Client{Timeout: probeTimeout},
		fanout: fanout,
		logger: logger.With("component", "discovery"),
	}
}

// statusResponse is the subset of a device's /status body we care about.
type statusResponse struct {
	DeviceID   string `json:"device_id"`
	DeviceType string `json:"device_type"`
}

// Scan probes every target address and classifies responders by role.
// Addresses that do not answer, answer badly, or answer with an
// unrecognizable role are skipped silently; a sweep never fails
// because individual devices are down.
func (s *Scanner) Scan(ctx context.Context, targets []string) Result {
	start := time.Now()

	var (
		mu     sync.Mutex
		result Result
	)
	result.Scanned = len(targets)

	sem := make(chan struct{}, s.fanout)
	var wg sync.WaitGroup

	for _, target := range targets {
		select {
		case <-ctx.Done():
			wg.Wait()
			result.Elapsed = time.Since(start)
			result.ElapsedMS = result.Elapsed.Milliseconds()
			return result
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			defer func() { <-sem }()

			found, ok := s.probe(ctx, addr)
			if !ok {
				return
			}

			mu.Lock()
			switch found.Type {
			case device.TypeCamera:
				result.Cameras = append(result.Cameras, found)
			case device.TypeController:
				result.Controllers = append(result.Controllers, found)
			}
			mu.Unlock()
		}(target)
	}
	wg.Wait()

	result.Elapsed = time.Since(start)
	result.ElapsedMS = result.Elapsed.Milliseconds()

	s.logger.Info("discovery sweep complete",
		"scanned", result.Scanned,
		"cameras", len(result.Cameras),
		"controllers", len(result.Controllers),
		"elapsed_ms", result.ElapsedMS)
	return result
}

// probe checks a single address and classifies the responder.
func (s *Scanner) probe(ctx context.Context, addr string) (Found, bool) {
	url := fmt.Sprintf("http://%s/status", addr)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Found{}, false
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Found{}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Found{}, false
	}

	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		s.logger.Debug("unparsable status body", "address", addr, "error", err)
		return Found{}, false
	}

	typ, ok := classifyRole(status.DeviceID, status.DeviceType)
	if !ok {
		s.logger.Debug("responder with unrecognized role",
			"address", addr, "device_id", status.DeviceID, "device_type", status.DeviceType)
		return Found{}, false
	}

	id := status.DeviceID
	if id == "" {
		// Fall back to an address-derived ID so the device is still usable.
		id = strings.NewReplacer(".", "-", ":", "-").Replace(addr)
	}

	return Found{ID: id, Type: typ, Address: addr}, true
}

// classifyRole maps a responder's self-description to a device role by
// substring: "cam" means camera, "control" means controller. The type
// field is checked first, then the ID.
func classifyRole(id, typ string) (device.Type, bool) {
	for _, s := range []string{strings.ToLower(typ), strings.ToLower(id)} {
		if strings.Contains(s, "cam") {
			return device.TypeCamera, true
		}
		if strings.Contains(s, "control") {
			return device.TypeController, true
		}
	}
	return "", false
}

// ExpandCIDR lists the host addresses of a CIDR range. The network and
// broadcast addresses are skipped for ranges wider than /31.
func ExpandCIDR(cidr string) ([]string, error) {
	ip, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, fmt.Errorf("parsing network %q: %w", cidr, err)
	}

	ones, bits := ipnet.Mask.Size()
	var hosts []string
	for addr := ip.Mask(ipnet.Mask); ipnet.Contains(addr); addr = nextIP(addr) {
		hosts = append(hosts, addr.String())
	}

	if bits-ones > 1 && len(hosts) > 2 {
		hosts = hosts[1 : len(hosts)-1]
	}
	return hosts, nil
}

// nextIP returns the address immediately after ip.
func nextIP(ip net.IP) net.IP {
	next := make(net.IP, len(ip))
	copy(next, ip)
	for i := len(next) - 1; i >= 0; i-- {
		next[i]++
		if next[i] != 0 {
			break
		}
	}
	return next
}
