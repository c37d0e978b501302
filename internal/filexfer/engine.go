package filexfer

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wltechblog/p2pftp-core/internal/chunkgeom"
	"github.com/wltechblog/p2pftp-core/internal/framecodec"
	"github.com/wltechblog/p2pftp-core/internal/proto"
	"github.com/wltechblog/p2pftp-core/internal/sendqueue"
)

// ErrInitFailed is returned by SendFile when the file-init control
// message could not be sent (spec §7's InitFailed error kind).
var ErrInitFailed = errors.New("filexfer: file-init could not be sent")

// Sender is the slice of internal/channel.Controller the engine needs:
// control-message sending, binary frame enqueueing, and queue purges
// for cancellation. Structurally satisfied, no import cycle required.
type Sender interface {
	SendControl(v interface{}) bool
	EnqueueFrame(pkt sendqueue.Packet)
	ClearQueuedFrames(id string) int
}

// Engine is the file transfer engine (C5). It satisfies internal/channel's
// FileEngine interface structurally.
type Engine struct {
	sender Sender
	sink   Sink

	mu       sync.Mutex
	outgoing map[string]*outgoingTransfer
	incoming map[string]*incomingTransfer

	localMaxChunkSize     int
	negotiatedChunkSize   int
	capabilitiesExchanged bool

	stopRetry chan struct{}

	onProgress    func(Snapshot)
	onFileRequest func(proto.FileRequest)

	debugLog *log.Logger
}

// NewEngine wires an engine to sender and sink and starts its retry timer.
func NewEngine(sender Sender, sink Sink, debug *log.Logger) *Engine {
	if debug == nil {
		debug = log.New(io.Discard, "", 0)
	}
	e := &Engine{
		sender:            sender,
		sink:              sink,
		outgoing:          make(map[string]*outgoingTransfer),
		incoming:          make(map[string]*incomingTransfer),
		localMaxChunkSize: chunkgeom.MaxChunkSize,
		stopRetry:         make(chan struct{}),
		debugLog:          debug,
	}
	go e.retryLoop()
	return e
}

// Close stops the engine's retry timer. Safe to call once.
func (e *Engine) Close() {
	close(e.stopRetry)
}

// SetProgressHandler registers the callback invoked on every snapshot
// (spec §6.3).
func (e *Engine) SetProgressHandler(fn func(Snapshot)) {
	e.onProgress = fn
}

// SetFileRequestHandler registers the callback invoked for inbound
// file-request messages (spec §4.5 "Pull requests").
func (e *Engine) SetFileRequestHandler(fn func(proto.FileRequest)) {
	e.onFileRequest = fn
}

func (e *Engine) emitSnapshot(s Snapshot) {
	if e.onProgress != nil {
		e.onProgress(s)
	}
}

// SendFile registers a new outgoing transfer and begins pumping its
// window (spec §4.5 "Outgoing state machine" step 1-2).
func (e *Engine) SendFile(source Source, opts SendOptions) (string, error) {
	id := uuid.NewString()
	size := source.Size()

	chunkSize := chunkgeom.Clamp(minInt(chunkgeom.CalculateChunkSize(size), e.effectiveChunkSize()))
	totalChunks := chunkgeom.CalculateTotalChunks(size, chunkSize)

	now := time.Now()
	t := &outgoingTransfer{
		id:           id,
		source:       source,
		chunkSize:    chunkSize,
		totalChunks:  totalChunks,
		name:         opts.Name,
		mime:         opts.Mime,
		assetPath:    opts.AssetPath,
		inFlight:     make(map[uint32]struct{}),
		pendingReads: make(map[uint32]struct{}),
		status:       StatusPending,
		startedAt:    now,
		updatedAt:    now,
		lastAckTime:  now,
	}

	if opts.ComputeMD5 && size > 0 {
		if data, err := source.Read(0, size); err == nil {
			sum := md5.Sum(data)
			t.md5 = hex.EncodeToString(sum[:])
		}
	}

	e.mu.Lock()
	e.outgoing[id] = t
	e.mu.Unlock()

	init := proto.FileInit{
		Type:        proto.TypeFileInit,
		ID:          id,
		Name:        opts.Name,
		Size:        size,
		Mime:        opts.Mime,
		ChunkSize:   chunkSize,
		TotalChunks: totalChunks,
		AssetPath:   opts.AssetPath,
		MD5:         t.md5,
	}
	if !e.sender.SendControl(init) {
		e.failOutgoing(t, "init could not be sent")
		return id, ErrInitFailed
	}

	e.emitSnapshot(t.snapshot())
	e.pumpOutgoing(t)
	return id, nil
}

// CancelTransfer cancels an in-progress outgoing transfer (spec §4.5
// "On cancel").
func (e *Engine) CancelTransfer(id string) {
	e.mu.Lock()
	t, ok := e.outgoing[id]
	if !ok || t.cancelled {
		e.mu.Unlock()
		return
	}
	t.cancelled = true
	t.status = StatusCancelled
	t.errMsg = "Cancelled by user"
	t.updatedAt = time.Now()
	delete(e.outgoing, id)
	snap := t.snapshot()
	e.mu.Unlock()

	e.sender.ClearQueuedFrames(id)
	e.sender.SendControl(proto.FileError{Type: proto.TypeFileError, ID: id, Reason: "cancelled"})
	e.emitSnapshot(snap)
}

func (e *Engine) failOutgoing(t *outgoingTransfer, reason string) {
	e.mu.Lock()
	t.status = StatusFailed
	t.errMsg = reason
	t.updatedAt = time.Now()
	delete(e.outgoing, t.id)
	snap := t.snapshot()
	e.mu.Unlock()
	e.emitSnapshot(snap)
}

// pumpOutgoing fills the window up to MAX_IN_FLIGHT_CHUNKS (spec §4.5
// step 2).
func (e *Engine) pumpOutgoing(t *outgoingTransfer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t.cancelled || t.status == StatusFailed || t.status == StatusCompleted || t.status == StatusCancelled {
		return
	}
	for t.nextSequence < uint32(t.totalChunks) && len(t.inFlight) < chunkgeom.MaxInFlightChunks {
		seq := t.nextSequence
		t.nextSequence++
		e.sendChunkLocked(t, seq)
	}
}

// sendChunkLocked reads, encodes and enqueues one chunk. Caller holds e.mu.
func (e *Engine) sendChunkLocked(t *outgoingTransfer, seq uint32) {
	t.inFlight[seq] = struct{}{}
	delete(t.pendingReads, seq)

	bounds := chunkgeom.ChunkBounds(int(seq), t.chunkSize, t.source.Size())
	data, err := t.source.Read(bounds.Start, bounds.End)
	if err != nil {
		e.debugLog.Printf("filexfer: read error for transfer %s seq %d: %v", t.id, seq, err)
		return
	}
	frame, err := framecodec.Encode(t.id, seq, data)
	if err != nil {
		e.debugLog.Printf("filexfer: encode error for transfer %s seq %d: %v", t.id, seq, err)
		return
	}
	e.sender.EnqueueFrame(sendqueue.Packet{ID: t.id, Sequence: seq, Frame: frame})
}

// resend re-reads and re-enqueues every requested sequence not already
// being (re)read, guarded by pendingReads for idempotency (spec §4.5
// step 4).
func (e *Engine) resend(id string, missing []uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.outgoing[id]
	if !ok || t.cancelled {
		return
	}
	for _, seq := range missing {
		if seq >= uint32(t.totalChunks) {
			continue
		}
		if _, reading := t.pendingReads[seq]; reading {
			continue
		}
		t.pendingReads[seq] = struct{}{}
		e.sendChunkLocked(t, seq)
	}
}

// retryLoop re-treats stalled in-flight sequences as missing every
// RETRY_INTERVAL_MS (spec §4.5 step 5).
func (e *Engine) retryLoop() {
	ticker := time.NewTicker(chunkgeom.RetryIntervalMS * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.checkRetries()
		case <-e.stopRetry:
			return
		}
	}
}

func (e *Engine) checkRetries() {
	type job struct {
		id      string
		missing []uint32
	}
	var jobs []job

	e.mu.Lock()
	now := time.Now()
	threshold := time.Duration(chunkgeom.RetryIntervalMS) * time.Millisecond
	for id, t := range e.outgoing {
		if t.cancelled || len(t.inFlight) == 0 {
			continue
		}
		if now.Sub(t.lastAckTime) <= threshold {
			continue
		}
		missing := make([]uint32, 0, len(t.inFlight))
		for seq := range t.inFlight {
			missing = append(missing, seq)
		}
		jobs = append(jobs, job{id: id, missing: missing})
	}
	e.mu.Unlock()

	for _, j := range jobs {
		e.resend(j.id, j.missing)
	}
}

// effectiveChunkSize returns the negotiated capabilities ceiling, or the
// local maximum if capabilities haven't been exchanged yet.
func (e *Engine) effectiveChunkSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.capabilitiesExchanged && e.negotiatedChunkSize > 0 {
		return e.negotiatedChunkSize
	}
	return e.localMaxChunkSize
}

// HandleOpen pumps every outgoing transfer and (re)starts the
// capabilities handshake (spec §4.5 "open", SPEC_FULL.md §12).
func (e *Engine) HandleOpen() {
	e.mu.Lock()
	e.capabilitiesExchanged = false
	ts := make([]*outgoingTransfer, 0, len(e.outgoing))
	for _, t := range e.outgoing {
		ts = append(ts, t)
	}
	e.mu.Unlock()

	for _, t := range ts {
		e.pumpOutgoing(t)
	}

	e.sender.SendControl(proto.Capabilities{Type: proto.TypeCapabilities, MaxChunkSize: e.localMaxChunkSize})
	e.armCapabilitiesTimeout()
}

func (e *Engine) armCapabilitiesTimeout() {
	time.AfterFunc(5*time.Second, func() {
		e.mu.Lock()
		if !e.capabilitiesExchanged {
			e.negotiatedChunkSize = chunkgeom.MinChunkSize
			e.capabilitiesExchanged = true
			e.debugLog.Printf("filexfer: capabilities exchange timed out, defaulting to %d", chunkgeom.MinChunkSize)
		}
		e.mu.Unlock()
	})
}

// HandleLowWater pumps every non-cancelled outgoing transfer (spec §4.5
// "bufferedamountlow").
func (e *Engine) HandleLowWater() {
	e.mu.Lock()
	ts := make([]*outgoingTransfer, 0, len(e.outgoing))
	for _, t := range e.outgoing {
		if !t.cancelled {
			ts = append(ts, t)
		}
	}
	e.mu.Unlock()
	for _, t := range ts {
		e.pumpOutgoing(t)
	}
}

// HandleClose fails every non-terminal transfer with "Data channel
// closed unexpectedly" (spec §4.5 "close or error", §7 ChannelClosed).
func (e *Engine) HandleClose() {
	e.mu.Lock()
	outs := e.outgoing
	ins := e.incoming
	e.outgoing = make(map[string]*outgoingTransfer)
	e.incoming = make(map[string]*incomingTransfer)
	e.mu.Unlock()

	now := time.Now()
	for _, t := range outs {
		if t.status == StatusCompleted || t.status == StatusCancelled {
			continue
		}
		t.status = StatusFailed
		t.errMsg = "Data channel closed unexpectedly"
		t.updatedAt = now
		e.emitSnapshot(t.snapshot())
	}
	for _, in := range ins {
		if in.status == StatusCompleted {
			continue
		}
		in.status = StatusFailed
		in.errMsg = "Data channel closed unexpectedly"
		in.updatedAt = now
		e.emitSnapshot(in.snapshot())
	}
}

// HandleFrame routes one inbound chunk frame (spec §4.5 "On chunk frame").
func (e *Engine) HandleFrame(frame framecodec.Frame) {
	e.mu.Lock()
	in, ok := e.incoming[frame.ID]
	if !ok {
		e.mu.Unlock()
		return
	}

	if _, dup := in.chunks[frame.Sequence]; dup {
		received := in.receivedBytes
		receivedChunks := len(in.chunks)
		e.mu.Unlock()
		e.sender.SendControl(proto.FileAck{
			Type:           proto.TypeFileAck,
			ID:             frame.ID,
			Acked:          []uint32{frame.Sequence},
			ReceivedBytes:  received,
			ReceivedChunks: receivedChunks,
		})
		return
	}

	in.chunks[frame.Sequence] = frame.Payload
	in.receivedBytes += int64(len(frame.Payload))
	in.updatedAt = time.Now()
	for {
		if _, ok := in.chunks[in.expectedSequence]; !ok {
			break
		}
		in.expectedSequence++
	}
	missing := in.missing()
	snap := in.snapshot()
	receivedChunks := len(in.chunks)
	complete := receivedChunks == in.totalChunks
	emit := complete || time.Since(in.lastSnapshotAt) >= progressThrottle
	if emit {
		in.lastSnapshotAt = time.Now()
	}
	e.mu.Unlock()

	if emit {
		e.emitSnapshot(snap)
	}

	ack := proto.FileAck{
		Type:           proto.TypeFileAck,
		ID:             frame.ID,
		Acked:          []uint32{frame.Sequence},
		ReceivedBytes:  snap.BytesTransferred,
		ReceivedChunks: receivedChunks,
	}
	if len(missing) > 0 {
		ack.Missing = missing
	}
	e.sender.SendControl(ack)
	if len(missing) > 0 {
		e.sender.SendControl(proto.FileResend{Type: proto.TypeFileResend, ID: frame.ID, Missing: missing})
	}

	if complete {
		e.finalizeIncoming(in)
	}
}

func (e *Engine) finalizeIncoming(in *incomingTransfer) {
	e.mu.Lock()
	data := make([]byte, 0, in.receivedBytes)
	for i := uint32(0); i < uint32(in.totalChunks); i++ {
		data = append(data, in.chunks[i]...)
	}
	now := time.Now()
	in.status = StatusCompleted
	in.updatedAt = now
	in.completedAt = &now
	delete(e.incoming, in.id)
	snap := in.snapshot()
	meta := Metadata{ID: in.id, Name: in.name, Mime: in.mime, Size: in.size, MD5: in.expectedMD5}
	e.mu.Unlock()

	if meta.Mime == "" {
		meta.Mime = "application/octet-stream"
	}
	if e.sink != nil {
		e.sink(meta, data)
	}
	e.emitSnapshot(snap)
	e.sender.SendControl(proto.FileComplete{Type: proto.TypeFileComplete, ID: in.id})

	if in.expectedMD5 != "" {
		sum := md5.Sum(data)
		actual := hex.EncodeToString(sum[:])
		if actual == in.expectedMD5 {
			e.sender.SendControl(proto.FileVerified{Type: proto.TypeFileVerified, ID: in.id})
		} else {
			e.sender.SendControl(proto.FileFailed{Type: proto.TypeFileFailed, ID: in.id, Reason: "checksum mismatch"})
		}
	}
}

// HandleMessage dispatches one inbound control message by type (spec
// §4.5, SPEC_FULL.md §12).
func (e *Engine) HandleMessage(msgType string, raw []byte) {
	switch msgType {
	case proto.TypeFileInit:
		e.handleFileInit(raw)
	case proto.TypeFileAck:
		e.handleFileAck(raw)
	case proto.TypeFileResend:
		e.handleFileResendMsg(raw)
	case proto.TypeFileComplete:
		e.handleFileComplete(raw)
	case proto.TypeFileError:
		e.handleFileError(raw)
	case proto.TypeFileRequest:
		e.handleFileRequest(raw)
	case proto.TypeFileVerified:
		e.debugLog.Printf("filexfer: peer verified transfer")
	case proto.TypeFileFailed:
		e.debugLog.Printf("filexfer: peer reported checksum failure")
	case proto.TypeCapabilities:
		e.handleCapabilities(raw)
	case proto.TypeCapabilitiesAck:
		e.handleCapabilitiesAck(raw)
	default:
		e.debugLog.Printf("filexfer: ignoring unknown message type %q", msgType)
	}
}

func (e *Engine) handleFileInit(raw []byte) {
	var m proto.FileInit
	if err := json.Unmarshal(raw, &m); err != nil {
		e.debugLog.Printf("filexfer: dropping malformed file-init: %v", err)
		return
	}

	e.mu.Lock()
	if _, exists := e.incoming[m.ID]; exists {
		e.mu.Unlock()
		return
	}
	now := time.Now()
	in := &incomingTransfer{
		id:          m.ID,
		name:        m.Name,
		mime:        m.Mime,
		size:        m.Size,
		chunkSize:   m.ChunkSize,
		totalChunks: m.TotalChunks,
		expectedMD5: m.MD5,
		chunks:      make(map[uint32][]byte),
		status:      StatusPending,
		startedAt:   now,
		updatedAt:   now,
	}
	e.incoming[m.ID] = in
	snap := in.snapshot()
	finalizeNow := m.Size <= 0 || m.TotalChunks <= 0
	e.mu.Unlock()

	e.emitSnapshot(snap)
	if finalizeNow {
		e.finalizeIncoming(in)
	}
}

func (e *Engine) handleFileAck(raw []byte) {
	var m proto.FileAck
	if err := json.Unmarshal(raw, &m); err != nil {
		e.debugLog.Printf("filexfer: dropping malformed file-ack: %v", err)
		return
	}

	e.mu.Lock()
	t, ok := e.outgoing[m.ID]
	if !ok {
		e.mu.Unlock()
		return
	}
	t.lastAckTime = time.Now()
	wasPending := t.status == StatusPending
	intersected := false
	for _, seq := range m.Acked {
		if _, inFlight := t.inFlight[seq]; inFlight {
			intersected = true
			delete(t.inFlight, seq)
			bounds := chunkgeom.ChunkBounds(int(seq), t.chunkSize, t.source.Size())
			t.bytesAcked += bounds.End - bounds.Start
		}
	}
	if wasPending && intersected {
		t.status = StatusInProgress
	}
	t.updatedAt = time.Now()
	snap := t.snapshot()
	e.mu.Unlock()

	e.emitSnapshot(snap)

	if len(m.Missing) > 0 {
		e.resend(m.ID, m.Missing)
	}

	e.mu.Lock()
	t2, ok := e.outgoing[m.ID]
	e.mu.Unlock()
	if ok {
		e.pumpOutgoing(t2)
	}
}

func (e *Engine) handleFileResendMsg(raw []byte) {
	var m proto.FileResend
	if err := json.Unmarshal(raw, &m); err != nil {
		e.debugLog.Printf("filexfer: dropping malformed file-resend: %v", err)
		return
	}
	e.resend(m.ID, m.Missing)
}

func (e *Engine) handleFileComplete(raw []byte) {
	var m proto.FileComplete
	if err := json.Unmarshal(raw, &m); err != nil {
		e.debugLog.Printf("filexfer: dropping malformed file-complete: %v", err)
		return
	}

	e.mu.Lock()
	t, ok := e.outgoing[m.ID]
	if !ok {
		e.mu.Unlock()
		return
	}
	now := time.Now()
	t.status = StatusCompleted
	t.updatedAt = now
	t.completedAt = &now
	delete(e.outgoing, m.ID)
	snap := t.snapshot()
	e.mu.Unlock()

	e.emitSnapshot(snap)
}

func (e *Engine) handleFileError(raw []byte) {
	var m proto.FileError
	if err := json.Unmarshal(raw, &m); err != nil {
		e.debugLog.Printf("filexfer: dropping malformed file-error: %v", err)
		return
	}
	e.failTransfer(m.ID, m.Reason)
}

func (e *Engine) failTransfer(id, reason string) {
	e.mu.Lock()
	var snap *Snapshot
	now := time.Now()
	if t, ok := e.outgoing[id]; ok {
		t.status = StatusFailed
		t.errMsg = reason
		t.updatedAt = now
		delete(e.outgoing, id)
		s := t.snapshot()
		snap = &s
	} else if in, ok := e.incoming[id]; ok {
		in.status = StatusFailed
		in.errMsg = reason
		in.updatedAt = now
		delete(e.incoming, id)
		s := in.snapshot()
		snap = &s
	}
	e.mu.Unlock()
	if snap != nil {
		e.emitSnapshot(*snap)
	}
}

func (e *Engine) handleFileRequest(raw []byte) {
	var m proto.FileRequest
	if err := json.Unmarshal(raw, &m); err != nil {
		e.debugLog.Printf("filexfer: dropping malformed file-request: %v", err)
		return
	}
	if e.onFileRequest != nil {
		e.onFileRequest(m)
	}
}

func (e *Engine) handleCapabilities(raw []byte) {
	var m proto.Capabilities
	if err := json.Unmarshal(raw, &m); err != nil {
		e.debugLog.Printf("filexfer: dropping malformed capabilities message: %v", err)
		return
	}

	e.mu.Lock()
	negotiated := chunkgeom.Clamp(minInt(e.localMaxChunkSize, m.MaxChunkSize))
	e.negotiatedChunkSize = negotiated
	e.capabilitiesExchanged = true
	e.mu.Unlock()

	e.sender.SendControl(proto.CapabilitiesAck{Type: proto.TypeCapabilitiesAck, MaxChunkSize: negotiated})
}

func (e *Engine) handleCapabilitiesAck(raw []byte) {
	var m proto.CapabilitiesAck
	if err := json.Unmarshal(raw, &m); err != nil {
		e.debugLog.Printf("filexfer: dropping malformed capabilities-ack: %v", err)
		return
	}

	e.mu.Lock()
	negotiated := chunkgeom.Clamp(minInt(e.localMaxChunkSize, m.MaxChunkSize))
	e.negotiatedChunkSize = negotiated
	e.capabilitiesExchanged = true
	e.mu.Unlock()
}

func minInt(a, b int) int {
	if b > 0 && b < a {
		return b
	}
	return a
}
