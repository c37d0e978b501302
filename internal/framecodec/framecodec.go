// Package framecodec encodes and decodes the single binary chunk-frame
// message that carries file-transfer payloads over the data channel.
// Every other protocol message (§4.4, §4.5) travels as UTF-8 JSON text;
// this is the one binary wire format, so it gets its own tight codec
// in the style of the teacher's transfer.go header packing
// (big-endian fixed-width fields written by hand, no reflection).
package framecodec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// frameTag identifies a chunk frame among arbitrary binary messages.
const frameTag = 0x01

// minFrameLen is tag(1) + idLen(1) + sequence(4); the id and payload follow.
const minFrameLen = 6

// ErrIDTooLong is returned by Encode when the transfer id exceeds 255 bytes.
var ErrIDTooLong = errors.New("framecodec: transfer id exceeds 255 bytes")

// Frame is a decoded chunk frame: one sequence-numbered slice of a
// file transfer, addressed to a specific transfer id.
type Frame struct {
	ID       string
	Sequence uint32
	Payload  []byte
}

// Encode packs id, sequence and payload into the wire layout:
//
//	offset  size  field
//	0       1     frame type tag = 0x01
//	1       1     id length (L, 1..=255)
//	2       L     transfer id bytes (UTF-8)
//	2+L     4     sequence, big-endian uint32
//	6+L     ...   chunk payload
func Encode(id string, sequence uint32, payload []byte) ([]byte, error) {
	if len(id) == 0 || len(id) > 255 {
		return nil, fmt.Errorf("%w: length %d", ErrIDTooLong, len(id))
	}

	buf := make([]byte, 2+len(id)+4+len(payload))
	buf[0] = frameTag
	buf[1] = byte(len(id))
	copy(buf[2:], id)
	binary.BigEndian.PutUint32(buf[2+len(id):], sequence)
	copy(buf[2+len(id)+4:], payload)
	return buf, nil
}

// Decode parses a binary message as a chunk frame. It returns (nil, false)
// rather than an error whenever the message simply isn't a chunk frame —
// too short, wrong tag, or a declared id length that overruns the
// buffer — so the caller can silently drop it (§4.2, §7 ParseError).
func Decode(data []byte) (Frame, bool) {
	if len(data) < minFrameLen {
		return Frame{}, false
	}
	if data[0] != frameTag {
		return Frame{}, false
	}

	idLen := int(data[1])
	end := 2 + idLen
	if idLen == 0 || end+4 > len(data) {
		return Frame{}, false
	}

	id := string(data[2:end])
	sequence := binary.BigEndian.Uint32(data[end : end+4])
	payload := data[end+4:]

	return Frame{ID: id, Sequence: sequence, Payload: payload}, true
}
