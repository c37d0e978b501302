package filexfer

import "time"

// incomingTransfer is the receiver-side state machine for one inbound
// transfer (spec §3.3's IncomingTransfer, §4.5's incoming state
// machine). Owned exclusively by Engine for its lifetime; all field
// access happens under Engine.mu.
type incomingTransfer struct {
	id          string
	name        string
	mime        string
	size        int64
	chunkSize   int
	totalChunks int
	expectedMD5 string

	receivedBytes    int64
	expectedSequence uint32
	chunks           map[uint32][]byte

	status         Status
	startedAt      time.Time
	updatedAt      time.Time
	completedAt    *time.Time
	errMsg         string
	lastSnapshotAt time.Time
}

// progressThrottle is how often HandleFrame emits an intermediate
// progress snapshot for a still-in-flight transfer (spec §12's
// supplemented "progress snapshot cadence": the teacher throttles
// receive-side progress callbacks to once per 100ms while applying
// every chunk to state immediately). The final snapshot on completion,
// cancellation, or close always fires regardless of this.
const progressThrottle = 100 * time.Millisecond

// missing returns every sequence below the highest one observed so far
// that is still absent from chunks — the gaps left behind by
// out-of-order or dropped frames (spec §4.5 step 2, resolved per S3:
// the receiver must proactively request retransmission of a gap as
// soon as a later chunk reveals it, not wait for expectedSequence to
// reach it, or a dropped frame could stall until the sender's retry
// timer happens to notice — see DESIGN.md).
func (in *incomingTransfer) missing() []uint32 {
	if len(in.chunks) == 0 {
		return nil
	}
	var highest uint32
	for seq := range in.chunks {
		if seq > highest {
			highest = seq
		}
	}
	var m []uint32
	for i := uint32(0); i <= highest; i++ {
		if _, ok := in.chunks[i]; !ok {
			m = append(m, i)
		}
	}
	return m
}

func (in *incomingTransfer) snapshot() Snapshot {
	progress := 0.0
	switch {
	case in.size > 0:
		progress = float64(in.receivedBytes) / float64(in.size)
	case in.status == StatusCompleted:
		progress = 1
	}
	return Snapshot{
		ID:               in.id,
		Direction:        DirectionIncoming,
		Status:           in.status,
		BytesTransferred: in.receivedBytes,
		TotalBytes:       in.size,
		Progress:         progress,
		StartedAt:        in.startedAt,
		UpdatedAt:        in.updatedAt,
		CompletedAt:      in.completedAt,
		Error:            in.errMsg,
	}
}
