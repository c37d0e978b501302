// Package session wires the channel controller (C6) to the CRDT sync
// engine (C4) and the file transfer engine (C5) behind a single
// constructor, mirroring the teacher's pattern of a top-level type that
// owns one peer connection's worth of state (client/webrtc/webrtc.go's
// PeerConnection). It is the only package that imports both
// internal/crdtsync and internal/filexfer.
package session

import (
	"io"
	"log"

	"github.com/wltechblog/p2pftp-core/internal/channel"
	"github.com/wltechblog/p2pftp-core/internal/crdtsync"
	"github.com/wltechblog/p2pftp-core/internal/filexfer"
)

// Session is one peer's collaboration transport: one channel handle
// multiplexing CRDT sync and file transfer (spec §1, §4.6).
type Session struct {
	Controller *channel.Controller
	CRDT       *crdtsync.Engine
	Files      *filexfer.Engine
}

// New builds the two-phase wiring the spec's layering requires: the
// controller is constructed first with no engines attached, the engines
// are constructed referencing the controller as their Sender (satisfied
// structurally, so neither engine package imports internal/channel),
// and finally the controller is told about both engines.
func New(handle channel.Handle, doc crdtsync.Document, sink filexfer.Sink, debug *log.Logger) *Session {
	if debug == nil {
		debug = log.New(io.Discard, "", 0)
	}

	ctrl := channel.New(handle, debug)
	crdtEngine := crdtsync.NewEngine(doc, ctrl, debug)
	fileEngine := filexfer.NewEngine(ctrl, sink, debug)
	ctrl.SetEngines(crdtEngine, fileEngine)

	return &Session{Controller: ctrl, CRDT: crdtEngine, Files: fileEngine}
}

// Close releases the session's background resources (the file engine's
// retry timer). The underlying channel handle is closed by its owner.
func (s *Session) Close() {
	s.Files.Close()
}
