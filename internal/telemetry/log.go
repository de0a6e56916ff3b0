// Package telemetry holds the in-memory rolling logs of sensor
// readings and classification results. Logs are capped: when full, the
// oldest entry is dropped. History does not survive a restart.
package telemetry

import "sync"

// Default capacities for the rolling logs.
const (
	SensorLogCap         = 1000
	ClassificationLogCap = 500
)

// Record is an entry that knows which device produced it.
type Record interface {
	Origin() string
}

// Log is a concurrency-safe capped FIFO of telemetry records.
type Log[T Record] struct {
	mu      sync.RWMutex
	entries []T
	cap     int
}

// NewLog creates a log that retains at most capacity entries.
func NewLog[T Record](capacity int) *Log[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Log[T]{cap: capacity}
}

// Append adds an entry, evicting the oldest when the log is full.
func (l *Log[T]) Append(entry T) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) >= l.cap {
		copy(l.entries, l.entries[1:])
		l.entries[len(l.entries)-1] = entry
		return
	}
	l.entries = append(l.entries, entry)
}

// Latest returns the most recent entry, if any.
func (l *Log[T]) Latest() (T, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var zero T
	if len(l.entries) == 0 {
		return zero, false
	}
	return l.entries[len(l.entries)-1], true
}

// Query returns up to limit of the most recent entries in chronological
// order, newest last, optionally filtered to one origin device. An
// empty origin matches everything; limit <= 0 returns all retained
// matches.
func (l *Log[T]) Query(origin string, limit int) []T {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []T
	for i := len(l.entries) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if origin == "" || l.entries[i].Origin() == origin {
			out = append(out, l.entries[i])
		}
	}
	// Collected newest-first; flip to chronological.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Len returns the number of retained entries.
func (l *Log[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Cap returns the maximum number of retained entries.
func (l *Log[T]) Cap() int { return l.cap }

// Summarize computes per-material counts and the mean confidence over
// a window of classification records. Operator-facing only; nothing on
// the control path reads it.
func Summarize(records []ClassificationRecord) Summary {
	s := Summary{
		Total:      len(records),
		ByMaterial: make(map[Material]int),
	}

	var confidenceSum float64
	for _, r := range records {
		s.ByMaterial[r.Material]++
		confidenceSum += r.Confidence
	}
	if len(records) > 0 {
		s.MeanConfidence = confidenceSum / float64(len(records))
		s.LastAt = records[len(records)-1].Timestamp
	}
	return s
}
