// Package filexfer implements the sliding-window file transfer engine
// (spec §4.5, component C5): chunked sends with selective ACK/NACK,
// retransmission, cancellation, and whole-file MD5 verification.
package filexfer

// Source is a readable, random-access byte source for an outgoing
// transfer (spec §6.2's "file source factory" result / §3.3's `source`
// field). Grounded on the teacher's os.File-backed reads in
// cli/transfer.go's SendFile, generalized to an interface so the core
// never imports os directly.
type Source interface {
	// Size returns the source's total length in bytes.
	Size() int64
	// Read returns the bytes in [start, end) of the source.
	Read(start, end int64) ([]byte, error)
}

// Metadata describes a completed incoming transfer handed to the Sink.
type Metadata struct {
	ID   string
	Name string
	Mime string
	Size int64
	MD5  string
}

// Sink delivers a finished incoming transfer's bytes to the collaborator
// layer (spec §6.2's "file sink").
type Sink func(meta Metadata, data []byte)

// SendOptions configures an outgoing transfer.
type SendOptions struct {
	Name string
	Mime string
	// AssetPath is forwarded to the receiver in file-init so it can
	// correlate a push with an earlier file-request (spec §4.5).
	AssetPath string
	// ComputeMD5 enables the supplemented whole-file verification
	// exchange (SPEC_FULL.md §12), grounded on cli/transfer.go's
	// calculateMD5 / file-verified / file-failed handshake.
	ComputeMD5 bool
}
