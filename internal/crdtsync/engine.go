package crdtsync

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wltechblog/p2pftp-core/internal/chunkgeom"
	"github.com/wltechblog/p2pftp-core/internal/proto"
)

// coalesceInterval is the 80ms window C4 waits to merge rapid local
// edits into one outbound update (spec §4.4 "Outbound path").
const coalesceInterval = 80 * time.Millisecond

type reassemblyEntry struct {
	total    int
	received int
	parts    []string
}

// Engine is the CRDT sync engine (C4). It satisfies internal/channel's
// CRDTEngine interface structurally.
type Engine struct {
	doc    Document
	sender Sender

	mu         sync.Mutex
	flushQueue [][]byte
	timerArmed bool
	pending    [][]byte
	reassembly map[string]*reassemblyEntry

	onChat func(ChatMessage)

	debugLog *log.Logger
}

// NewEngine wires an engine to doc and sender, subscribing to doc's
// local-update stream immediately.
func NewEngine(doc Document, sender Sender, debug *log.Logger) *Engine {
	if debug == nil {
		debug = log.New(io.Discard, "", 0)
	}
	e := &Engine{
		doc:        doc,
		sender:     sender,
		reassembly: make(map[string]*reassemblyEntry),
		debugLog:   debug,
	}
	doc.OnLocalUpdate(e.handleLocalUpdate)
	return e
}

// SetChatHandler registers the callback invoked for inbound chat messages.
func (e *Engine) SetChatHandler(fn func(ChatMessage)) {
	e.onChat = fn
}

// handleLocalUpdate is doc's local-update callback. Remote-origin
// applies must not be rebroadcast (§4.4: "On local CRDT update (origin
// != peer)").
func (e *Engine) handleLocalUpdate(update []byte, origin string) {
	if origin == OriginPeer {
		return
	}

	e.mu.Lock()
	e.flushQueue = append(e.flushQueue, update)
	alreadyArmed := e.timerArmed
	e.timerArmed = true
	e.mu.Unlock()

	if !alreadyArmed {
		time.AfterFunc(coalesceInterval, e.flushCoalesced)
	}
}

func (e *Engine) flushCoalesced() {
	e.mu.Lock()
	queue := e.flushQueue
	e.flushQueue = nil
	e.timerArmed = false
	e.mu.Unlock()

	if len(queue) == 0 {
		return
	}

	merged := queue[0]
	if len(queue) > 1 {
		merged = e.doc.MergeUpdates(queue)
	}
	e.dispatch(merged)
}

// dispatch attempts to send raw as an update, falling back to the
// pending queue on backpressure or send failure.
func (e *Engine) dispatch(raw []byte) {
	if !e.sendYUpdate(raw) {
		e.enqueuePending(raw)
	}
}

func (e *Engine) enqueuePending(raw []byte) {
	e.mu.Lock()
	e.pending = append(e.pending, raw)
	e.mu.Unlock()
}

// flushPending retries every queued update in order, stopping at the
// first one that still can't be sent so ordering is preserved.
func (e *Engine) flushPending() {
	e.mu.Lock()
	queue := e.pending
	e.pending = nil
	e.mu.Unlock()

	for i, raw := range queue {
		if !e.sendYUpdate(raw) {
			e.mu.Lock()
			e.pending = append(append([][]byte{}, queue[i:]...), e.pending...)
			e.mu.Unlock()
			return
		}
	}
}

// sendYUpdate base64-encodes raw and sends it as a single yjs-update, or
// as a sequence of yjs-update-chunk messages when the encoded form
// exceeds MAX_MESSAGE_CHUNK_SIZE characters (§4.4). It reports whether
// the whole update made it onto the wire.
func (e *Engine) sendYUpdate(raw []byte) bool {
	encoded := base64.StdEncoding.EncodeToString(raw)
	if len(encoded) <= chunkgeom.MaxMessageChunkSize {
		return e.sender.SendControl(proto.YjsUpdate{
			Type:   proto.TypeYjsUpdate,
			Update: encoded,
		})
	}

	total := (len(encoded) + chunkgeom.MaxMessageChunkSize - 1) / chunkgeom.MaxMessageChunkSize
	id := uuid.NewString()
	for i := 0; i < total; i++ {
		start := i * chunkgeom.MaxMessageChunkSize
		end := start + chunkgeom.MaxMessageChunkSize
		if end > len(encoded) {
			end = len(encoded)
		}
		ok := e.sender.SendControl(proto.YjsUpdateChunk{
			Type:  proto.TypeYjsUpdateChunk,
			ID:    id,
			Index: i,
			Total: total,
			Chunk: encoded[start:end],
		})
		if !ok {
			return false
		}
	}
	return true
}

// HandleOpen sends this document's state vector and flushes anything
// queued while the channel was unavailable (§4.4 "Handshake").
func (e *Engine) HandleOpen() {
	vector := base64.StdEncoding.EncodeToString(e.doc.StateVector())
	e.sender.SendControl(proto.YjsSync{Type: proto.TypeYjsSync, Vector: vector})
	e.flushPending()
}

// HandleClose is a no-op: the pending queue is retained across channel
// drops per §7 ("CRDT pending queue retained for next open").
func (e *Engine) HandleClose() {}

// HandleMessage dispatches one inbound control message by type (§4.4
// "Inbound path"). Unknown types and malformed payloads are dropped.
func (e *Engine) HandleMessage(msgType string, raw []byte) {
	switch msgType {
	case proto.TypeYjsSync:
		e.handleSync(raw)
	case proto.TypeYjsUpdate:
		e.handleUpdate(raw)
	case proto.TypeYjsUpdateChunk:
		e.handleUpdateChunk(raw)
	case proto.TypeChat:
		e.handleChat(raw)
	default:
		e.debugLog.Printf("crdtsync: ignoring unknown message type %q", msgType)
	}
}

func (e *Engine) handleSync(raw []byte) {
	var m proto.YjsSync
	if err := json.Unmarshal(raw, &m); err != nil {
		e.debugLog.Printf("crdtsync: dropping malformed yjs-sync: %v", err)
		return
	}
	vector, err := base64.StdEncoding.DecodeString(m.Vector)
	if err != nil {
		e.debugLog.Printf("crdtsync: dropping yjs-sync with invalid base64 vector: %v", err)
		return
	}

	diff := e.doc.EncodeDiff(vector)
	if len(diff) > 0 {
		e.dispatch(diff)
	}
	e.flushPending()
}

func (e *Engine) handleUpdate(raw []byte) {
	var m proto.YjsUpdate
	if err := json.Unmarshal(raw, &m); err != nil {
		e.debugLog.Printf("crdtsync: dropping malformed yjs-update: %v", err)
		return
	}
	data, err := base64.StdEncoding.DecodeString(m.Update)
	if err != nil {
		e.debugLog.Printf("crdtsync: dropping yjs-update with invalid base64: %v", err)
		return
	}
	e.doc.ApplyUpdate(data, OriginPeer)
}

func (e *Engine) handleUpdateChunk(raw []byte) {
	var m proto.YjsUpdateChunk
	if err := json.Unmarshal(raw, &m); err != nil {
		e.debugLog.Printf("crdtsync: dropping malformed yjs-update-chunk: %v", err)
		return
	}
	if m.Total <= 0 || m.Index < 0 || m.Index >= m.Total {
		e.debugLog.Printf("crdtsync: dropping yjs-update-chunk with invalid index %d/%d", m.Index, m.Total)
		return
	}

	e.mu.Lock()
	entry, ok := e.reassembly[m.ID]
	if !ok || entry.total != m.Total {
		entry = &reassemblyEntry{total: m.Total, parts: make([]string, m.Total)}
		e.reassembly[m.ID] = entry
	}
	if entry.parts[m.Index] != "" {
		e.mu.Unlock()
		return
	}
	entry.parts[m.Index] = m.Chunk
	entry.received++

	var complete []string
	if entry.received == entry.total {
		complete = entry.parts
		delete(e.reassembly, m.ID)
	}
	e.mu.Unlock()

	if complete == nil {
		return
	}

	encoded := ""
	for _, part := range complete {
		encoded += part
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		e.debugLog.Printf("crdtsync: reassembled update %s has invalid base64: %v", m.ID, err)
		return
	}
	e.doc.ApplyUpdate(data, OriginPeer)
}

func (e *Engine) handleChat(raw []byte) {
	var m proto.Chat
	if err := json.Unmarshal(raw, &m); err != nil {
		e.debugLog.Printf("crdtsync: dropping malformed chat message: %v", err)
		return
	}
	if e.onChat != nil {
		e.onChat(ChatMessage{Data: m.Data, Timestamp: m.Timestamp})
	}
}
