// Package sendqueue implements the single FIFO of outbound binary chunk
// frames that drains into the data channel subject to a buffered-bytes
// ceiling (spec §4.3, component C3). Control messages never pass through
// here — they go straight out through the channel controller (C6).
package sendqueue

import (
	"io"
	"log"
	"sync"
)

// ReadyState mirrors the data channel's lifecycle states far enough for
// the queue to know whether draining is even possible.
type ReadyState int

const (
	StateConnecting ReadyState = iota
	StateOpen
	StateClosing
	StateClosed
)

// Sink is the slice of the channel handle the send queue needs. It is
// satisfied structurally by internal/channel.Handle — no import of that
// package is required here, keeping C3 free of any dependency on C6.
type Sink interface {
	Send(data []byte) error
	BufferedAmount() int
	ReadyState() ReadyState
}

// Packet is one outbound chunk frame awaiting a slot on the wire.
type Packet struct {
	ID       string
	Sequence uint32
	Frame    []byte
}

func (p Packet) size() int { return len(p.Frame) }

// Queue is a single-threaded-cooperative FIFO: Enqueue/Drain/ClearFor/Reset
// are expected to be called from one goroutine (the session's event loop),
// matching the "no two tasks may be inside the send queue" rule of §5.
// The mutex exists only to make the queue safe to call from a runtime
// that hands channel callbacks in on a different goroutine than the
// caller's own sends (pion/webrtc does exactly this).
type Queue struct {
	mu        sync.Mutex
	packets   []Packet
	highWater int
	debugLog  *log.Logger
}

// New creates a send queue that only sends a packet while the sink's
// BufferedAmount plus that packet's size stays within highWater bytes.
func New(highWater int, debug *log.Logger) *Queue {
	if debug == nil {
		debug = log.New(io.Discard, "", 0)
	}
	return &Queue{highWater: highWater, debugLog: debug}
}

// Enqueue appends a packet to the tail of the FIFO.
func (q *Queue) Enqueue(p Packet) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.packets = append(q.packets, p)
}

// ClearFor removes every queued packet belonging to transfer id,
// returning how many were purged (used by cancellation, §5).
func (q *Queue) ClearFor(id string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.packets[:0]
	purged := 0
	for _, p := range q.packets {
		if p.ID == id {
			purged++
			continue
		}
		kept = append(kept, p)
	}
	q.packets = kept
	return purged
}

// Reset empties the queue, as happens when the channel closes (§3.3, §4.5).
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.packets = nil
}

// Len reports how many packets are currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.packets)
}

// Drain pops and sends packets while the sink is open and has headroom.
// It stops on the first failing send, leaving the remaining packets
// queued for the next drain (triggered by a low-water callback from C6).
func (q *Queue) Drain(sink Sink) {
	for {
		q.mu.Lock()
		if len(q.packets) == 0 {
			q.mu.Unlock()
			return
		}
		if sink.ReadyState() != StateOpen {
			q.mu.Unlock()
			return
		}
		if buffered := sink.BufferedAmount(); buffered >= q.highWater || buffered+q.packets[0].size() > q.highWater {
			q.mu.Unlock()
			return
		}

		next := q.packets[0]
		q.mu.Unlock()

		if err := sink.Send(next.Frame); err != nil {
			q.debugLog.Printf("sendqueue: send failed for transfer %s seq %d: %v", next.ID, next.Sequence, err)
			return
		}

		q.mu.Lock()
		if len(q.packets) > 0 && q.packets[0].ID == next.ID && q.packets[0].Sequence == next.Sequence {
			q.packets = q.packets[1:]
		}
		q.mu.Unlock()
	}
}
