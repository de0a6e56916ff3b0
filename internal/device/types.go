package device

import "time"

// Type categorizes a field device by its role on the line.
type Type string

const (
	TypeCamera     Type = "camera"
	TypeController Type = "controller"
)

// Status represents the liveness state of a device.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusError   Status = "error"
)

// Telemetry holds the health snapshot a device reports with each check-in.
type Telemetry struct {
	WiFiRSSI      int   `json:"wifi_rssi"`
	UptimeSeconds int64 `json:"uptime_seconds"`
	FreeHeapBytes int64 `json:"free_heap_bytes"`
}

// Device represents a registered field device.
type Device struct {
	ID           string    `json:"id"`
	Type         Type      `json:"type"`
	Address      string    `json:"address"`
	Status       Status    `json:"status"`
	LastSeen     time.Time `json:"last_seen"`
	Telemetry    Telemetry `json:"telemetry"`
	RegisteredAt time.Time `json:"registered_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CommandKind identifies a device command.
type CommandKind string

const (
	CommandMoveActuator  CommandKind = "move-actuator"
	CommandStartConveyor CommandKind = "start-conveyor"
	CommandStop          CommandKind = "stop"
	CommandCapture       CommandKind = "capture"
	CommandRestart       CommandKind = "restart"
)

// Command is a pending instruction queued for a device to pick up on
// its next poll.
type Command struct {
	ID       string         `json:"id"`
	DeviceID string         `json:"device_id"`
	Kind     CommandKind    `json:"kind"`
	Params   map[string]any `json:"params,omitempty"`
	// Priority orders delivery: lower values drain first, 1 is highest.
	// Commands with equal priority drain in insertion order.
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
}

// Counts summarizes registry membership by liveness.
type Counts struct {
	Total   int `json:"total"`
	Online  int `json:"online"`
	Offline int `json:"offline"`
	Error   int `json:"error"`
}
