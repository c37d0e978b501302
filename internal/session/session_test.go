package session

import (
	"sync"
	"testing"
	"time"

	"github.com/wltechblog/p2pftp-core/internal/channel"
	"github.com/wltechblog/p2pftp-core/internal/crdtsync"
	"github.com/wltechblog/p2pftp-core/internal/filexfer"
)

// loopbackHandle is an in-memory channel.Handle with no actual
// transport: messages sent on one end are queued to the peer end and
// dispatched to its callbacks from a dedicated goroutine, so a handler
// reacting to an inbound message by sending its own reply never
// re-enters the sender's call stack (real datachannel callbacks fire
// from the browser/pion event loop, never inline with Send).
type loopbackHandle struct {
	mu         sync.Mutex
	peer       *loopbackHandle
	open       bool
	inbox      chan channel.Message
	onMessage  func(channel.Message)
	onOpen     func()
	onClose    func()
	onBufLow   func()
	lowWaterAt int
}

func newLoopbackPair() (*loopbackHandle, *loopbackHandle) {
	a := &loopbackHandle{inbox: make(chan channel.Message, 256)}
	b := &loopbackHandle{inbox: make(chan channel.Message, 256)}
	a.peer = b
	b.peer = a
	go a.pump()
	go b.pump()
	return a, b
}

func (h *loopbackHandle) pump() {
	for msg := range h.inbox {
		h.mu.Lock()
		cb := h.onMessage
		h.mu.Unlock()
		if cb != nil {
			cb(msg)
		}
	}
}

func (h *loopbackHandle) SendText(s string) error {
	h.peer.inbox <- channel.Message{IsText: true, Data: []byte(s)}
	return nil
}

func (h *loopbackHandle) SendBinary(b []byte) error {
	h.peer.inbox <- channel.Message{IsText: false, Data: append([]byte{}, b...)}
	return nil
}

func (h *loopbackHandle) BufferedAmount() int { return 0 }

func (h *loopbackHandle) ReadyState() channel.ReadyState {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.open {
		return channel.StateOpen
	}
	return channel.StateConnecting
}

func (h *loopbackHandle) SetBufferedAmountLowThreshold(n int) { h.lowWaterAt = n }
func (h *loopbackHandle) OnOpen(fn func())                    { h.onOpen = fn }
func (h *loopbackHandle) OnClose(fn func())                   { h.onClose = fn }
func (h *loopbackHandle) OnError(func(error))                 {}
func (h *loopbackHandle) OnMessage(fn func(channel.Message))  { h.onMessage = fn }
func (h *loopbackHandle) OnBufferedAmountLow(fn func())       { h.onBufLow = fn }

func (h *loopbackHandle) simulateOpen() {
	h.mu.Lock()
	h.open = true
	cb := h.onOpen
	h.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// fakeDoc is a Document double with a trivial single-field state: each
// update replaces a string value, and the "state vector" is just its
// version counter.
type fakeDoc struct {
	mu      sync.Mutex
	value   string
	version int
	onLocal func(update []byte, origin string)
	applied chan struct{}
}

func (d *fakeDoc) StateVector() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return []byte{byte(d.version)}
}

func (d *fakeDoc) EncodeDiff(remoteVector []byte) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(remoteVector) > 0 && int(remoteVector[0]) >= d.version {
		return nil
	}
	return []byte(d.value)
}

func (d *fakeDoc) ApplyUpdate(update []byte, origin string) {
	d.mu.Lock()
	d.value = string(update)
	d.version++
	notify := d.applied
	d.mu.Unlock()
	if notify != nil {
		select {
		case notify <- struct{}{}:
		default:
		}
	}
}

func (d *fakeDoc) MergeUpdates(updates [][]byte) []byte {
	if len(updates) == 0 {
		return nil
	}
	return updates[len(updates)-1]
}

func (d *fakeDoc) OnLocalUpdate(fn func(update []byte, origin string)) {
	d.mu.Lock()
	d.onLocal = fn
	d.mu.Unlock()
}

func (d *fakeDoc) getValue() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.value
}

func TestSessionSyncsCRDTStateOnOpen(t *testing.T) {
	hA, hB := newLoopbackPair()
	docA := &fakeDoc{value: "hello from A", version: 1}
	docB := &fakeDoc{applied: make(chan struct{}, 4)}

	sA := New(hA, docA, nil, nil)
	sB := New(hB, docB, nil, nil)
	defer sA.Close()
	defer sB.Close()

	hA.simulateOpen()
	hB.simulateOpen()

	select {
	case <-docB.applied:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for B to apply A's state via sync handshake")
	}

	if got := docB.getValue(); got != "hello from A" {
		t.Fatalf("B did not receive A's state via sync handshake: got %q", got)
	}
}

func TestSessionDeliversFileEndToEnd(t *testing.T) {
	hA, hB := newLoopbackPair()

	done := make(chan []byte, 1)
	sinkB := func(meta filexfer.Metadata, data []byte) {
		done <- append([]byte{}, data...)
	}

	sA := New(hA, &fakeDoc{applied: make(chan struct{}, 1)}, nil, nil)
	sB := New(hB, &fakeDoc{applied: make(chan struct{}, 1)}, sinkB, nil)
	defer sA.Close()
	defer sB.Close()

	hA.simulateOpen()
	hB.simulateOpen()

	payload := []byte("transferred over a wired session")
	if _, err := sA.Files.SendFile(&memSrc{data: payload}, filexfer.SendOptions{Name: "note.txt"}); err != nil {
		t.Fatalf("SendFile failed: %v", err)
	}

	select {
	case delivered := <-done:
		if string(delivered) != string(payload) {
			t.Fatalf("reconstructed payload mismatch: got %q, want %q", delivered, payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for file delivery")
	}
}

type memSrc struct{ data []byte }

func (s *memSrc) Size() int64 { return int64(len(s.data)) }
func (s *memSrc) Read(start, end int64) ([]byte, error) {
	return append([]byte{}, s.data[start:end]...), nil
}

var _ crdtsync.Document = (*fakeDoc)(nil)
