package device

import (
	"errors"
	"sync"
	"testing"
)

// allKnown accepts every device ID.
func allKnown(string) bool { return true }

func testQueue(t *testing.T) *Queue {
	t.Helper()
	return NewQueue(allKnown, testLogger())
}

func TestEnqueueAssignsIDAndTimestamp(t *testing.T) {
	q := testQueue(t)

	cmd, err := q.Enqueue("ctl-01", CommandStop, nil, 1)
	if err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	if cmd.ID == "" {
		t.Error("expected a command ID")
	}
	if cmd.CreatedAt.IsZero() {
		t.Error("expected a creation timestamp")
	}
	if q.Depth("ctl-01") != 1 {
		t.Errorf("expected depth 1, got %d", q.Depth("ctl-01"))
	}
}

func TestEnqueueValidation(t *testing.T) {
	q := testQueue(t)

	if _, err := q.Enqueue("", CommandStop, nil, 1); !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("expected ErrInvalidDevice for empty id, got %v", err)
	}
	if _, err := q.Enqueue("ctl-01", CommandKind("launch"), nil, 1); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("expected ErrInvalidCommand for unknown kind, got %v", err)
	}
}

func TestEnqueueRejectsUnregisteredDevice(t *testing.T) {
	q := NewQueue(func(id string) bool { return id == "ctl-01" }, testLogger())

	if _, err := q.Enqueue("ctl-01", CommandStop, nil, 1); err != nil {
		t.Errorf("expected enqueue for known device to succeed, got %v", err)
	}
	if _, err := q.Enqueue("ctl-99", CommandStop, nil, 1); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound for phantom device, got %v", err)
	}
}

func TestDrainOrdersByPriorityThenInsertion(t *testing.T) {
	q := testQueue(t)

	a, _ := q.Enqueue("ctl-1", CommandStartConveyor, nil, 2)
	b, _ := q.Enqueue("ctl-1", CommandStop, nil, 1)
	c, _ := q.Enqueue("ctl-1", CommandMoveActuator, map[string]any{"position": 45}, 2)

	cmds := q.Drain("ctl-1")
	if len(cmds) != 3 {
		t.Fatalf("expected 3 commands, got %d", len(cmds))
	}

	// Priority 1 drains first; the two priority-2 commands keep
	// insertion order.
	want := []string{b.ID, a.ID, c.ID}
	for i, id := range want {
		if cmds[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, cmds[i].ID)
		}
	}

	if q.Depth("ctl-1") != 0 {
		t.Errorf("expected empty queue after drain, got depth %d", q.Depth("ctl-1"))
	}
}

func TestDrainIsAtomic(t *testing.T) {
	q := testQueue(t)

	const n = 50
	for i := 0; i < n; i++ {
		if _, err := q.Enqueue("ctl-01", CommandStop, nil, 1); err != nil {
			t.Fatalf("Enqueue() error: %v", err)
		}
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, cmd := range q.Drain("ctl-01") {
				mu.Lock()
				seen[cmd.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Errorf("expected %d distinct commands delivered, got %d", n, len(seen))
	}
	for id, count := range seen {
		if count != 1 {
			t.Errorf("command %s delivered %d times", id, count)
		}
	}
	if q.Depth("ctl-01") != 0 {
		t.Errorf("expected empty queue after drain, got depth %d", q.Depth("ctl-01"))
	}
}

func TestDrainUnknownDeviceIsEmpty(t *testing.T) {
	q := testQueue(t)
	if cmds := q.Drain("ghost"); len(cmds) != 0 {
		t.Errorf("expected empty drain, got %d commands", len(cmds))
	}
}

func TestPendingDoesNotRemove(t *testing.T) {
	q := testQueue(t)

	if _, err := q.Enqueue("ctl-01", CommandStop, nil, 1); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}

	if got := q.Pending("ctl-01"); len(got) != 1 {
		t.Fatalf("expected 1 pending command, got %d", len(got))
	}
	if q.Depth("ctl-01") != 1 {
		t.Errorf("Pending() must not drain, depth is %d", q.Depth("ctl-01"))
	}
}

func TestClear(t *testing.T) {
	q := testQueue(t)

	for i := 0; i < 3; i++ {
		if _, err := q.Enqueue("ctl-01", CommandStop, nil, 1); err != nil {
			t.Fatalf("Enqueue() error: %v", err)
		}
	}

	if n := q.Clear("ctl-01"); n != 3 {
		t.Errorf("expected 3 cleared, got %d", n)
	}
	if q.Depth("ctl-01") != 0 {
		t.Errorf("expected empty queue after clear")
	}
	if n := q.Clear("ghost"); n != 0 {
		t.Errorf("expected 0 cleared for unknown device, got %d", n)
	}
}

func TestDepths(t *testing.T) {
	q := testQueue(t)

	q.Enqueue("ctl-01", CommandStop, nil, 1)
	q.Enqueue("ctl-01", CommandStartConveyor, nil, 1)
	q.Enqueue("cam-01", CommandCapture, nil, 1)
	q.Drain("cam-01")

	depths := q.Depths()
	if depths["ctl-01"] != 2 {
		t.Errorf("expected depth 2 for ctl-01, got %d", depths["ctl-01"])
	}
	if _, ok := depths["cam-01"]; ok {
		t.Error("drained devices must not appear in depths")
	}
}

func TestQueuesAreIndependent(t *testing.T) {
	q := testQueue(t)

	q.Enqueue("ctl-01", CommandStop, nil, 1)
	q.Enqueue("ctl-02", CommandStop, nil, 1)

	if got := q.Drain("ctl-01"); len(got) != 1 {
		t.Fatalf("expected 1 command for ctl-01, got %d", len(got))
	}
	if q.Depth("ctl-02") != 1 {
		t.Error("draining ctl-01 must not touch ctl-02")
	}
}
