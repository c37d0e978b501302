package sendqueue

import "testing"

type fakeSink struct {
	state     ReadyState
	buffered  int
	sent      [][]byte
	failAfter int // -1 means never fail
}

func newFakeSink() *fakeSink {
	return &fakeSink{state: StateOpen, failAfter: -1}
}

func (f *fakeSink) Send(data []byte) error {
	if f.failAfter == 0 {
		return errSendFailed
	}
	if f.failAfter > 0 {
		f.failAfter--
	}
	f.sent = append(f.sent, data)
	f.buffered += len(data)
	return nil
}

func (f *fakeSink) BufferedAmount() int   { return f.buffered }
func (f *fakeSink) ReadyState() ReadyState { return f.state }

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

const errSendFailed = fakeErr("send failed")

func TestDrainSendsInFIFOOrder(t *testing.T) {
	q := New(1000, nil)
	q.Enqueue(Packet{ID: "a", Sequence: 0, Frame: []byte("one")})
	q.Enqueue(Packet{ID: "a", Sequence: 1, Frame: []byte("two")})
	q.Enqueue(Packet{ID: "b", Sequence: 0, Frame: []byte("three")})

	sink := newFakeSink()
	q.Drain(sink)

	if len(sink.sent) != 3 {
		t.Fatalf("expected 3 sends, got %d", len(sink.sent))
	}
	if string(sink.sent[0]) != "one" || string(sink.sent[1]) != "two" || string(sink.sent[2]) != "three" {
		t.Errorf("packets left in wrong order: %v", sink.sent)
	}
	if q.Len() != 0 {
		t.Errorf("queue should be empty after drain, has %d", q.Len())
	}
}

func TestDrainStopsAtHighWater(t *testing.T) {
	q := New(10, nil)
	q.Enqueue(Packet{ID: "a", Sequence: 0, Frame: make([]byte, 8)})
	q.Enqueue(Packet{ID: "a", Sequence: 1, Frame: make([]byte, 8)})

	sink := newFakeSink()
	q.Drain(sink)

	if len(sink.sent) != 1 {
		t.Fatalf("expected exactly 1 send before hitting high water, got %d", len(sink.sent))
	}
	if q.Len() != 1 {
		t.Errorf("expected 1 packet left queued, got %d", q.Len())
	}
}

func TestDrainStopsOnFirstFailure(t *testing.T) {
	q := New(1000, nil)
	q.Enqueue(Packet{ID: "a", Sequence: 0, Frame: []byte("x")})
	q.Enqueue(Packet{ID: "a", Sequence: 1, Frame: []byte("y")})

	sink := newFakeSink()
	sink.failAfter = 0
	q.Drain(sink)

	if len(sink.sent) != 0 {
		t.Fatalf("expected no successful sends, got %d", len(sink.sent))
	}
	if q.Len() != 2 {
		t.Errorf("failed send must leave all packets queued, got %d", q.Len())
	}
}

func TestDrainNoopWhenNotOpen(t *testing.T) {
	q := New(1000, nil)
	q.Enqueue(Packet{ID: "a", Sequence: 0, Frame: []byte("x")})

	sink := newFakeSink()
	sink.state = StateClosed
	q.Drain(sink)

	if len(sink.sent) != 0 || q.Len() != 1 {
		t.Error("Drain must not send while the channel isn't open")
	}
}

func TestClearForRemovesOnlyMatchingID(t *testing.T) {
	q := New(1000, nil)
	q.Enqueue(Packet{ID: "a", Sequence: 0, Frame: []byte("x")})
	q.Enqueue(Packet{ID: "b", Sequence: 0, Frame: []byte("y")})
	q.Enqueue(Packet{ID: "a", Sequence: 1, Frame: []byte("z")})

	purged := q.ClearFor("a")
	if purged != 2 {
		t.Errorf("ClearFor purged %d packets, want 2", purged)
	}
	if q.Len() != 1 {
		t.Errorf("queue should have 1 packet left, has %d", q.Len())
	}
}

func TestReset(t *testing.T) {
	q := New(1000, nil)
	q.Enqueue(Packet{ID: "a", Sequence: 0, Frame: []byte("x")})
	q.Reset()
	if q.Len() != 0 {
		t.Error("Reset should empty the queue")
	}
}
