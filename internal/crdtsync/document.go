// Package crdtsync implements the CRDT synchronization engine (spec
// §4.4, component C4): state-vector handshake, local-update coalescing,
// base64 envelope chunking at MAX_MESSAGE_CHUNK_SIZE, and reassembly of
// chunked remote updates. The CRDT library itself is treated as opaque,
// grounded on the teacher's pattern of wrapping third-party state behind
// a narrow interface (client/webrtc.Peer wraps *webrtc.PeerConnection
// the same way) rather than importing a concrete CRDT implementation.
package crdtsync

// OriginPeer tags updates applied because the remote peer sent them, so
// the document's local-update stream doesn't re-broadcast them (§4.4).
const OriginPeer = "peer"

// Document is the opaque CRDT handle the engine is parameterized over
// (spec §6.2's "CRDT handle"). An embedder backs this with whatever CRDT
// library it uses; the engine never inspects document internals.
type Document interface {
	// StateVector returns this document's current state vector.
	StateVector() []byte
	// EncodeDiff returns the update needed to bring a peer holding
	// remoteVector up to date with this document.
	EncodeDiff(remoteVector []byte) []byte
	// ApplyUpdate merges update into the document, tagged with origin
	// so the local-update stream can distinguish remote-origin applies.
	ApplyUpdate(update []byte, origin string)
	// MergeUpdates combines several queued local updates into one, used
	// by the 80ms coalescing timer (§4.4 "using the CRDT library's merge").
	MergeUpdates(updates [][]byte) []byte
	// OnLocalUpdate registers the callback invoked whenever this
	// document changes, with origin set to OriginPeer for changes caused
	// by ApplyUpdate and anything else for genuinely local edits.
	OnLocalUpdate(func(update []byte, origin string))
}

// Sender is the slice of internal/channel.Controller the engine needs to
// emit control messages. Structurally satisfied, no import of that
// package required (mirrors internal/sendqueue.Sink's approach to C6).
type Sender interface {
	SendControl(v interface{}) bool
}

// ChatMessage is an opaque chat payload forwarded to the collaborator
// layer (spec §4.4's `chat` message type, §6.2's on_chat callback).
type ChatMessage struct {
	Data      string
	Timestamp int64
}
