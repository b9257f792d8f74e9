// Package metamux carries per-frame metadata alongside the media stream.
// The sender parks the latest encoded message in a one-slot register and an
// RTP interceptor copies it into the header extension of the first packet of
// the next outgoing video frame; the receiver peels it back off and attaches
// it to the decoded frame.
package metamux

import "sync"

// ExtensionID is the RTP header extension carrying the encoded metadata.
const ExtensionID = 1

// Outbox is the single-slot pending register on the send side.
// Registering overwrites: metadata is latest-wins, never queued, so a slow
// media pipeline cannot build up a backlog of stale poses.
type Outbox struct {
	mu      sync.Mutex
	pending []byte
}

// Register parks data as the metadata for the next outgoing frame,
// replacing whatever was there.
func (o *Outbox) Register(data []byte) {
	o.mu.Lock()
	o.pending = data
	o.mu.Unlock()
}

// Flush pops the pending metadata, or nil when the slot is empty.
func (o *Outbox) Flush() []byte {
	o.mu.Lock()
	data := o.pending
	o.pending = nil
	o.mu.Unlock()
	return data
}
