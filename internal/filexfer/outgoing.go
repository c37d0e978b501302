package filexfer

import "time"

// outgoingTransfer is the sender-side state machine for one push (spec
// §3.3's OutgoingTransfer, §4.5's outgoing state machine). Owned
// exclusively by Engine for its lifetime; all field access happens
// under Engine.mu.
type outgoingTransfer struct {
	id          string
	source      Source
	chunkSize   int
	totalChunks int
	name        string
	mime        string
	assetPath   string
	md5         string

	nextSequence uint32
	inFlight     map[uint32]struct{}
	pendingReads map[uint32]struct{}
	bytesAcked   int64
	lastAckTime  time.Time
	cancelled    bool

	status      Status
	startedAt   time.Time
	updatedAt   time.Time
	completedAt *time.Time
	errMsg      string
}

func (t *outgoingTransfer) snapshot() Snapshot {
	total := t.source.Size()
	progress := 0.0
	switch {
	case total > 0:
		progress = float64(t.bytesAcked) / float64(total)
	case t.status == StatusCompleted:
		progress = 1
	}
	return Snapshot{
		ID:               t.id,
		Direction:        DirectionOutgoing,
		Status:           t.status,
		BytesTransferred: t.bytesAcked,
		TotalBytes:       total,
		Progress:         progress,
		StartedAt:        t.startedAt,
		UpdatedAt:        t.updatedAt,
		CompletedAt:      t.completedAt,
		Error:            t.errMsg,
	}
}
