package device

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sortline/sortline-core/internal/infrastructure/logging"
)

// Queue holds pending commands per device. Devices drain their queue
// when they poll; draining is atomic so a command is delivered at most
// once. Commands drain by ascending priority (1 is highest), insertion
// order within equal priority.
type Queue struct {
	mu     sync.RWMutex
	queues map[string]*deviceQueue
	known  func(deviceID string) bool
	logger *logging.Logger
	now    func() time.Time
}

type deviceQueue struct {
	mu   sync.Mutex
	cmds []Command
}

// NewQueue creates an empty command queue. known guards enqueues:
// commands cannot target a device that was never registered.
func NewQueue(known func(deviceID string) bool, logger *logging.Logger) *Queue {
	return &Queue{
		queues: make(map[string]*deviceQueue),
		known:  known,
		logger: logger.With("component", "queue"),
		now:    time.Now,
	}
}

// Enqueue validates and appends a command for the given device. The
// command's ID and creation time are assigned here. Targeting an
// unregistered device fails with ErrDeviceNotFound so typoed IDs do
// not accumulate commands nothing will ever collect.
func (q *Queue) Enqueue(deviceID string, kind CommandKind, params map[string]any, priority int) (*Command, error) {
	if err := ValidateID(deviceID); err != nil {
		return nil, err
	}
	if err := ValidateCommandKind(kind); err != nil {
		return nil, err
	}
	if q.known != nil && !q.known(deviceID) {
		return nil, ErrDeviceNotFound
	}

	cmd := Command{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		Kind:      kind,
		Params:    params,
		Priority:  priority,
		CreatedAt: q.now(),
	}

	dq := q.queueFor(deviceID)
	dq.mu.Lock()
	dq.cmds = append(dq.cmds, cmd)
	depth := len(dq.cmds)
	dq.mu.Unlock()

	q.logger.Debug("command queued",
		"device_id", deviceID, "kind", kind, "command_id", cmd.ID, "depth", depth)

	snapshot := cmd
	return &snapshot, nil
}

// Drain atomically removes and returns all pending commands for the
// device, ordered by ascending priority then insertion. Unknown
// devices drain empty.
func (q *Queue) Drain(deviceID string) []Command {
	q.mu.RLock()
	dq, ok := q.queues[deviceID]
	q.mu.RUnlock()
	if !ok {
		return nil
	}

	dq.mu.Lock()
	cmds := dq.cmds
	dq.cmds = nil
	dq.mu.Unlock()

	sortCommands(cmds)

	if len(cmds) > 0 {
		q.logger.Debug("commands drained", "device_id", deviceID, "count", len(cmds))
	}
	return cmds
}

// Pending returns a copy of the device's queued commands in delivery
// order without removing them.
func (q *Queue) Pending(deviceID string) []Command {
	q.mu.RLock()
	dq, ok := q.queues[deviceID]
	q.mu.RUnlock()
	if !ok {
		return nil
	}

	dq.mu.Lock()
	cmds := make([]Command, len(dq.cmds))
	copy(cmds, dq.cmds)
	dq.mu.Unlock()

	sortCommands(cmds)
	return cmds
}

// Clear discards all pending commands for the device, returning how
// many were dropped.
func (q *Queue) Clear(deviceID string) int {
	q.mu.RLock()
	dq, ok := q.queues[deviceID]
	q.mu.RUnlock()
	if !ok {
		return 0
	}

	dq.mu.Lock()
	n := len(dq.cmds)
	dq.cmds = nil
	dq.mu.Unlock()

	if n > 0 {
		q.logger.Info("commands cleared", "device_id", deviceID, "count", n)
	}
	return n
}

// Depth returns the number of commands pending for the device.
func (q *Queue) Depth(deviceID string) int {
	q.mu.RLock()
	dq, ok := q.queues[deviceID]
	q.mu.RUnlock()
	if !ok {
		return 0
	}

	dq.mu.Lock()
	defer dq.mu.Unlock()
	return len(dq.cmds)
}

// Depths returns the pending command count for every device with a
// non-empty queue.
func (q *Queue) Depths() map[string]int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make(map[string]int, len(q.queues))
	for id, dq := range q.queues {
		dq.mu.Lock()
		if n := len(dq.cmds); n > 0 {
			out[id] = n
		}
		dq.mu.Unlock()
	}
	return out
}

// queueFor returns the device's queue, creating it if needed.
func (q *Queue) queueFor(deviceID string) *deviceQueue {
	q.mu.RLock()
	dq, ok := q.queues[deviceID]
	q.mu.RUnlock()
	if ok {
		return dq
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if dq, ok = q.queues[deviceID]; ok {
		return dq
	}
	dq = &deviceQueue{}
	q.queues[deviceID] = dq
	return dq
}

// sortCommands orders commands by ascending priority, preserving
// insertion order within equal priority.
func sortCommands(cmds []Command) {
	sort.SliceStable(cmds, func(i, j int) bool {
		return cmds[i].Priority < cmds[j].Priority
	})
}
