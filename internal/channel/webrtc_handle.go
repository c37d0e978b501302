package channel

import (
	"github.com/pion/webrtc/v3"
)

// WebRTCHandle adapts a single pion/webrtc.DataChannel to the Handle
// interface, grounded on the teacher's Peer.setupDataChannel /
// createDataChannels (client/webrtc/datachannels_fixed.go,
// setup_channels_fixed.go). Unlike the teacher, which splits control
// and data traffic across two channels, the spec multiplexes both
// subsystems over one channel (§0), so this adapter wraps exactly one
// *webrtc.DataChannel.
type WebRTCHandle struct {
	dc *webrtc.DataChannel
}

// NewWebRTCHandle wraps dc. It sets no binary type: pion's Go API
// always delivers inbound binary messages as []byte.
func NewWebRTCHandle(dc *webrtc.DataChannel) *WebRTCHandle {
	return &WebRTCHandle{dc: dc}
}

func (h *WebRTCHandle) SendText(s string) error {
	return h.dc.SendText(s)
}

func (h *WebRTCHandle) SendBinary(b []byte) error {
	return h.dc.Send(b)
}

func (h *WebRTCHandle) BufferedAmount() int {
	return int(h.dc.BufferedAmount())
}

func (h *WebRTCHandle) ReadyState() ReadyState {
	switch h.dc.ReadyState() {
	case webrtc.DataChannelStateConnecting:
		return StateConnecting
	case webrtc.DataChannelStateOpen:
		return StateOpen
	case webrtc.DataChannelStateClosing:
		return StateClosing
	default:
		return StateClosed
	}
}

func (h *WebRTCHandle) SetBufferedAmountLowThreshold(n int) {
	h.dc.SetBufferedAmountLowThreshold(uint64(n))
}

func (h *WebRTCHandle) OnOpen(fn func()) {
	h.dc.OnOpen(fn)
}

func (h *WebRTCHandle) OnClose(fn func()) {
	h.dc.OnClose(fn)
}

func (h *WebRTCHandle) OnError(fn func(error)) {
	h.dc.OnError(fn)
}

func (h *WebRTCHandle) OnMessage(fn func(Message)) {
	h.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(Message{IsText: msg.IsString, Data: msg.Data})
	})
}

func (h *WebRTCHandle) OnBufferedAmountLow(fn func()) {
	h.dc.OnBufferedAmountLow(fn)
}
