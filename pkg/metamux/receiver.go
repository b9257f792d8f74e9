package metamux

import (
	"sync"
	"time"

	"github.com/floppyhammer/electric-maple/pkg/logger"
	"github.com/floppyhammer/electric-maple/pkg/monitoring"
	"github.com/floppyhammer/electric-maple/pkg/protocol"
)

const (
	// maxReuseFrames and maxReuseAge bound how long the last known metadata
	// may stand in for frames that arrived without their own. Whichever
	// bound is reached first wins; past it the pose is reported absent
	// instead of stale.
	maxReuseFrames = 10
	maxReuseAge    = time.Second
)

// Frame is one decoded media unit with whatever metadata could be attached.
type Frame struct {
	// ReceiveTime is the local monotonic time the frame finished decoding.
	ReceiveTime int64
	// Meta is nil when no usable metadata exists for this frame.
	Meta *protocol.DownMessage
	// Reused marks Meta as carried over from an earlier frame.
	Reused bool
}

// Receiver turns the per-packet metadata stream from an Inbox into
// per-frame attachments, reusing the last known message within the
// staleness bounds.
type Receiver struct {
	inbox *Inbox
	log   *logger.Logger

	mu      sync.Mutex
	last    *protocol.DownMessage
	freshAt int64
	reused  int
}

func NewReceiver(inbox *Inbox, log *logger.Logger) *Receiver {
	return &Receiver{
		inbox: inbox,
		log:   log.Extend(log.With().Str("c", "metamux")),
	}
}

// OnFrame is called once per decoded frame with the local receive time and
// returns the frame with its metadata resolved.
func (r *Receiver) OnFrame(receiveTime int64) Frame {
	frame := Frame{ReceiveTime: receiveTime}

	if msg := r.inbox.Take(); msg != nil {
		r.mu.Lock()
		r.last = msg
		r.freshAt = receiveTime
		r.reused = 0
		r.mu.Unlock()
		frame.Meta = msg
		return frame
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		monitoring.PoseAbsentFrames.Inc()
		return frame
	}
	r.reused++
	if r.reused >= maxReuseFrames || receiveTime-r.freshAt >= int64(maxReuseAge) {
		r.log.Warn().Msgf("frame %d metadata too stale after %d frames, reporting pose absent",
			r.last.FrameSequenceID, r.reused)
		r.last = nil
		monitoring.PoseAbsentFrames.Inc()
		return frame
	}
	frame.Meta = r.last
	frame.Reused = true
	return frame
}
