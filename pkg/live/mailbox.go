// Package live carries the continuous detection stream into the render
// loop. Batches land in a latest-wins Mailbox, fed by a local detector
// Poller or by a remote feed over websocket or MQTT.
package live

import (
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-overlay/pkg/annotation"
)

// Mailbox holds the most recent detection batch. A new batch replaces the
// previous one whether or not it was read; the overwrite is counted as a
// drop. Safe for concurrent use.
type Mailbox struct {
	mu      sync.Mutex
	batch   []annotation.LiveDetection
	unread  bool
	clock   func() float64
	updated chan struct{}

	puts  atomic.Uint64
	drops atomic.Uint64
}

// MailboxStats is a point-in-time view of mailbox counters.
type MailboxStats struct {
	Puts  uint64 `json:"puts"`
	Drops uint64 `json:"drops"`
	Size  int    `json:"size"`
}

// NewMailbox creates an empty mailbox. clock supplies the playback time
// used to stamp detections that arrive without a capture time; nil leaves
// them unstamped.
func NewMailbox(clock func() float64) *Mailbox {
	return &Mailbox{
		clock:   clock,
		updated: make(chan struct{}, 1),
	}
}

// Put replaces the current batch. The slice is copied.
func (m *Mailbox) Put(dets []annotation.LiveDetection) {
	batch := make([]annotation.LiveDetection, len(dets))
	copy(batch, dets)

	if m.clock != nil {
		var now float64
		stamped := false
		for i := range batch {
			if batch[i].CaptureTime != 0 {
				continue
			}
			if !stamped {
				now, stamped = m.clock(), true
			}
			batch[i].CaptureTime = now
		}
	}

	m.mu.Lock()
	if m.unread {
		m.drops.Add(1)
	}
	m.batch = batch
	m.unread = true
	m.mu.Unlock()
	m.puts.Add(1)

	select {
	case m.updated <- struct{}{}:
	default:
	}
}

// Latest returns the current batch and marks it read. The engine applies
// staleness against playback time, so the batch is returned even when old.
func (m *Mailbox) Latest() []annotation.LiveDetection {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unread = false
	return m.batch
}

// Clear drops the current batch without counting it.
func (m *Mailbox) Clear() {
	m.mu.Lock()
	m.batch = nil
	m.unread = false
	m.mu.Unlock()
}

// Updated is signalled after each Put. Signals coalesce.
func (m *Mailbox) Updated() <-chan struct{} { return m.updated }

// Stats returns the mailbox counters.
func (m *Mailbox) Stats() MailboxStats {
	m.mu.Lock()
	size := len(m.batch)
	m.mu.Unlock()
	return MailboxStats{
		Puts:  m.puts.Load(),
		Drops: m.drops.Load(),
		Size:  size,
	}
}
