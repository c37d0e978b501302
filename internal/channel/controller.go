package channel

import (
	"encoding/json"
	"io"
	"log"

	"github.com/wltechblog/p2pftp-core/internal/chunkgeom"
	"github.com/wltechblog/p2pftp-core/internal/framecodec"
	"github.com/wltechblog/p2pftp-core/internal/proto"
	"github.com/wltechblog/p2pftp-core/internal/sendqueue"
)

// CRDTEngine is the subset of internal/crdtsync.Engine the controller
// dispatches text messages and lifecycle events to. Engines satisfy
// this structurally; the controller never imports internal/crdtsync.
type CRDTEngine interface {
	HandleMessage(msgType string, raw []byte)
	HandleOpen()
	HandleClose()
}

// FileEngine is the subset of internal/filexfer.Engine the controller
// dispatches file-* text messages, binary frames and lifecycle events to.
type FileEngine interface {
	HandleMessage(msgType string, raw []byte)
	HandleFrame(frame framecodec.Frame)
	HandleOpen()
	HandleClose()
	HandleLowWater()
}

// Controller owns one channel handle for the lifetime of one connected
// peer (spec §4.6, §9 — "not global, belongs to one controller instance").
type Controller struct {
	handle   Handle
	queue    *sendqueue.Queue
	crdt     CRDTEngine
	file     FileEngine
	debugLog *log.Logger
}

// New wires a Controller to handle, configuring the low-water threshold
// per §4.6 and registering the dispatch callbacks. Handle has no binary
// type setting, so none is configured here.
// Engines are attached afterwards via SetEngines since engines are
// constructed with a reference to this controller as their Sender.
func New(handle Handle, debug *log.Logger) *Controller {
	if debug == nil {
		debug = log.New(io.Discard, "", 0)
	}

	c := &Controller{
		handle:   handle,
		queue:    sendqueue.New(chunkgeom.DataChannelMaxBuffer, debug),
		debugLog: debug,
	}

	handle.SetBufferedAmountLowThreshold(chunkgeom.DataChannelResumeThreshold)
	handle.OnOpen(c.handleOpen)
	handle.OnClose(c.handleClose)
	handle.OnError(c.handleError)
	handle.OnMessage(c.handleMessage)
	handle.OnBufferedAmountLow(c.handleLowWater)

	return c
}

// SetEngines attaches the CRDT and file-transfer engines this controller
// dispatches to. Must be called before the channel opens.
func (c *Controller) SetEngines(crdt CRDTEngine, file FileEngine) {
	c.crdt = crdt
	c.file = file
}

func (c *Controller) handleOpen() {
	c.debugLog.Printf("channel: open")
	if c.crdt != nil {
		c.crdt.HandleOpen()
	}
	if c.file != nil {
		c.file.HandleOpen()
	}
}

func (c *Controller) handleClose() {
	c.debugLog.Printf("channel: closed")
	c.queue.Reset()
	if c.crdt != nil {
		c.crdt.HandleClose()
	}
	if c.file != nil {
		c.file.HandleClose()
	}
}

func (c *Controller) handleError(err error) {
	c.debugLog.Printf("channel: error: %v", err)
}

func (c *Controller) handleLowWater() {
	c.debugLog.Printf("channel: buffered amount low")
	c.queue.Drain(binarySink{c.handle})
	if c.file != nil {
		c.file.HandleLowWater()
	}
}

// handleMessage classifies an inbound datagram as text (control JSON) or
// binary (chunk frame) and dispatches it to C4 or C5 (§4.6).
func (c *Controller) handleMessage(msg Message) {
	if msg.IsText {
		var env proto.Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			c.debugLog.Printf("channel: dropping malformed control message: %v", err)
			return
		}

		switch env.Type {
		case proto.TypeYjsSync, proto.TypeYjsUpdate, proto.TypeYjsUpdateChunk, proto.TypeChat:
			if c.crdt != nil {
				c.crdt.HandleMessage(env.Type, msg.Data)
			}
		case proto.TypeFileInit, proto.TypeFileAck, proto.TypeFileResend,
			proto.TypeFileComplete, proto.TypeFileError, proto.TypeFileRequest,
			proto.TypeFileVerified, proto.TypeFileFailed,
			proto.TypeCapabilities, proto.TypeCapabilitiesAck:
			if c.file != nil {
				c.file.HandleMessage(env.Type, msg.Data)
			}
		default:
			c.debugLog.Printf("channel: ignoring unknown message type %q", env.Type)
		}
		return
	}

	frame, ok := framecodec.Decode(msg.Data)
	if !ok {
		c.debugLog.Printf("channel: dropping undecodable binary message (%d bytes)", len(msg.Data))
		return
	}
	if c.file != nil {
		c.file.HandleFrame(frame)
	}
}

// SendControl serializes v and sends it as control text. It reports
// false (without erroring) whenever the channel is closed, still
// connecting, or already at the high-water mark so the caller can
// re-enqueue the work at its own layer (§4.3's back-pressure contract).
func (c *Controller) SendControl(v interface{}) bool {
	if c.handle.ReadyState() != StateOpen {
		return false
	}
	if c.handle.BufferedAmount() >= chunkgeom.DataChannelMaxBuffer {
		return false
	}

	data, err := json.Marshal(v)
	if err != nil {
		c.debugLog.Printf("channel: failed to marshal control message: %v", err)
		return false
	}

	if err := c.handle.SendText(string(data)); err != nil {
		c.debugLog.Printf("channel: failed to send control message: %v", err)
		return false
	}
	return true
}

// EnqueueFrame hands a chunk frame to the send queue and triggers a drain.
func (c *Controller) EnqueueFrame(pkt sendqueue.Packet) {
	c.queue.Enqueue(pkt)
	c.queue.Drain(binarySink{c.handle})
}

// ClearQueuedFrames purges every queued frame belonging to id (used by
// transfer cancellation, §5).
func (c *Controller) ClearQueuedFrames(id string) int {
	return c.queue.ClearFor(id)
}

// ReadyState reports the underlying channel's lifecycle state.
func (c *Controller) ReadyState() ReadyState {
	return c.handle.ReadyState()
}

// BufferedAmount reports the underlying channel's current buffered bytes.
func (c *Controller) BufferedAmount() int {
	return c.handle.BufferedAmount()
}
