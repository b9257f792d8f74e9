package metamux

import (
	"sync"

	"github.com/floppyhammer/electric-maple/pkg/logger"
	"github.com/floppyhammer/electric-maple/pkg/monitoring"
	"github.com/floppyhammer/electric-maple/pkg/protocol"
	"github.com/pion/rtp"
)

// Inbox is the single-slot preserved register on the receive side. A message
// extracted from the wire waits here until the next decoded frame consumes
// it. A second arrival before consumption drops the stale entry, keeping the
// skew between metadata and frames bounded to one slot.
type Inbox struct {
	mu        sync.Mutex
	preserved *protocol.DownMessage
	log       *logger.Logger
}

func NewInbox(log *logger.Logger) *Inbox {
	return &Inbox{log: log.Extend(log.With().Str("c", "metamux"))}
}

// ExtractFromPacket pulls the metadata extension off one received RTP packet,
// if present, and preserves the decoded message. Malformed payloads are
// counted and dropped without disturbing the register.
func (in *Inbox) ExtractFromPacket(header *rtp.Header) {
	data := header.GetExtension(ExtensionID)
	if len(data) == 0 {
		return
	}
	in.Put(data)
}

// Put decodes and preserves one metadata payload.
func (in *Inbox) Put(data []byte) {
	msg, err := protocol.DecodeDown(data)
	if err != nil {
		monitoring.MetadataDecodeErrors.Inc()
		in.log.Warn().Err(err).Msg("dropping malformed frame metadata")
		return
	}
	in.mu.Lock()
	if in.preserved != nil {
		in.log.Warn().Msgf("frame %d metadata unconsumed, replaced by frame %d",
			in.preserved.FrameSequenceID, msg.FrameSequenceID)
	}
	in.preserved = msg
	in.mu.Unlock()
}

// Take pops the preserved message for the frame that just finished decoding,
// or nil when none arrived.
func (in *Inbox) Take() *protocol.DownMessage {
	in.mu.Lock()
	msg := in.preserved
	in.preserved = nil
	in.mu.Unlock()
	return msg
}
