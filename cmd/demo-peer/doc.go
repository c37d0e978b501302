package main

import (
	"sync"
)

// lwwTextDoc is a minimal last-writer-wins text document satisfying
// crdtsync.Document. The real CRDT library the spec treats as opaque
// (spec §4.4, §6.2 "CRDT handle") has no Go binding in this corpus —
// see DESIGN.md — so the demo stands one in to drive internal/crdtsync
// end to end: StateVector is just a version counter, EncodeDiff ships
// the whole current value whenever the peer's counter trails ours, and
// MergeUpdates keeps the update with the highest embedded version.
type lwwTextDoc struct {
	mu      sync.Mutex
	value   string
	version uint32
	onLocal func(update []byte, origin string)
}

func newLWWTextDoc() *lwwTextDoc {
	return &lwwTextDoc{}
}

func (d *lwwTextDoc) StateVector() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return encodeVersionedUpdate(d.version, d.value)[:4]
}

func (d *lwwTextDoc) EncodeDiff(remoteVector []byte) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	remoteVersion := decodeVersion(remoteVector)
	if remoteVersion >= d.version {
		return nil
	}
	return encodeVersionedUpdate(d.version, d.value)
}

func (d *lwwTextDoc) ApplyUpdate(update []byte, origin string) {
	version, value := decodeVersionedUpdate(update)

	d.mu.Lock()
	changed := version > d.version
	if changed {
		d.version = version
		d.value = value
	}
	d.mu.Unlock()
}

func (d *lwwTextDoc) MergeUpdates(updates [][]byte) []byte {
	var best []byte
	var bestVersion uint32
	for i, u := range updates {
		v := decodeVersion(u)
		if i == 0 || v > bestVersion {
			best, bestVersion = u, v
		}
	}
	return best
}

func (d *lwwTextDoc) OnLocalUpdate(fn func(update []byte, origin string)) {
	d.mu.Lock()
	d.onLocal = fn
	d.mu.Unlock()
}

// SetText applies a local edit and notifies the sync engine.
func (d *lwwTextDoc) SetText(value string) {
	d.mu.Lock()
	d.version++
	d.value = value
	update := encodeVersionedUpdate(d.version, d.value)
	notify := d.onLocal
	d.mu.Unlock()

	if notify != nil {
		notify(update, "")
	}
}

func (d *lwwTextDoc) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.value
}

func encodeVersionedUpdate(version uint32, value string) []byte {
	buf := make([]byte, 4+len(value))
	buf[0] = byte(version >> 24)
	buf[1] = byte(version >> 16)
	buf[2] = byte(version >> 8)
	buf[3] = byte(version)
	copy(buf[4:], value)
	return buf
}

func decodeVersion(buf []byte) uint32 {
	if len(buf) < 4 {
		return 0
	}
	return uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
}

func decodeVersionedUpdate(buf []byte) (uint32, string) {
	if len(buf) < 4 {
		return 0, ""
	}
	return decodeVersion(buf), string(buf[4:])
}
