package device

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxStatusBytes bounds a device's /status response body.
const maxStatusBytes = 8 << 10

// ProbeReport is what a device volunteers about itself on its status
// endpoint. Role is the device's self-description; telemetry fields
// missing from the response stay zero.
type ProbeReport struct {
	Role      string
	Telemetry Telemetry
}

// Prober checks whether a device answers its status endpoint and
// relays what the device reported about itself.
type Prober interface {
	Probe(ctx context.Context, address string) (ProbeReport, error)
}

// HTTPProber probes devices over their HTTP /status endpoint.
type HTTPProber struct {
	client *http.Client
}

// NewHTTPProber creates a prober with the given per-attempt timeout.
func NewHTTPProber(timeout time.Duration) *HTTPProber {
	return &HTTPProber{
		client: &http.Client{Timeout: timeout},
	}
}

// statusBody is the JSON a device serves on /status.
type statusBody struct {
	DeviceType string `json:"device_type"`
	WiFiRSSI   int    `json:"wifi_rssi"`
	Uptime     int64  `json:"uptime"`
	FreeHeap   int64  `json:"free_heap"`
}

// Probe issues a GET to http://<address>/status. A 2xx answer means
// the device is alive; its body, when parseable, fills the report.
// A live device with an unparseable body still probes as alive.
func (p *HTTPProber) Probe(ctx context.Context, address string) (ProbeReport, error) {
	url := fmt.Sprintf("http://%s/status", address)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ProbeReport{}, fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return ProbeReport{}, fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ProbeReport{}, fmt.Errorf("%w: status %d from %s", ErrProbeFailed, resp.StatusCode, address)
	}

	var body statusBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxStatusBytes)).Decode(&body); err != nil {
		return ProbeReport{}, nil
	}

	return ProbeReport{
		Role: body.DeviceType,
		Telemetry: Telemetry{
			WiFiRSSI:      body.WiFiRSSI,
			UptimeSeconds: body.Uptime,
			FreeHeapBytes: body.FreeHeap,
		},
	}, nil
}
