// Package channel owns the data channel handle and routes inbound
// traffic to the CRDT sync engine or the file transfer engine (spec
// §4.6, component C6). It is the only package that talks to the
// channel directly; C4 and C5 never see a raw Handle, only the
// SendControl/EnqueueFrame/ClearQueuedFrames surface the controller
// exposes to them.
package channel

import "github.com/wltechblog/p2pftp-core/internal/sendqueue"

// ReadyState is re-exported from sendqueue so callers of this package
// never need to import it directly.
type ReadyState = sendqueue.ReadyState

const (
	StateConnecting = sendqueue.StateConnecting
	StateOpen       = sendqueue.StateOpen
	StateClosing    = sendqueue.StateClosing
	StateClosed     = sendqueue.StateClosed
)

// Message is one inbound datachannel message, text or binary.
type Message struct {
	IsText bool
	Data   []byte
}

// Handle is the data channel surface the controller is parameterized
// over (spec §6.2's "channel handle"). internal/channel/webrtc_handle.go
// implements this against a real pion/webrtc.DataChannel; tests use an
// in-memory fake.
type Handle interface {
	SendText(s string) error
	SendBinary(b []byte) error
	BufferedAmount() int
	ReadyState() ReadyState
	SetBufferedAmountLowThreshold(n int)

	OnOpen(func())
	OnClose(func())
	OnError(func(error))
	OnMessage(func(Message))
	OnBufferedAmountLow(func())
}

// binarySink adapts a Handle to sendqueue.Sink so C3 can drain frames
// through it without sendqueue importing this package.
type binarySink struct {
	h Handle
}

func (s binarySink) Send(data []byte) error    { return s.h.SendBinary(data) }
func (s binarySink) BufferedAmount() int       { return s.h.BufferedAmount() }
func (s binarySink) ReadyState() ReadyState    { return s.h.ReadyState() }
