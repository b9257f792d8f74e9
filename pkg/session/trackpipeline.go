package session

import (
	"strings"
	"sync"
	"time"

	"github.com/floppyhammer/electric-maple/pkg/logger"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/samplebuilder"
)

// maxLatePackets bounds how many packets the sample builder holds back
// waiting for reordered packets of the same frame.
const maxLatePackets = 64

// TrackConsumer is implemented by pipelines that take their media straight
// from a remote track.
type TrackConsumer interface {
	AttachTrack(track *webrtc.TrackRemote)
}

// TrackPipelineBuilder builds the reference pipeline: it reassembles the
// remote video track into encoded frames with a sample builder and reports
// each frame to the orchestrator. Actual decoding and display stay with
// the application via OnSample.
type TrackPipelineBuilder struct {
	Log *logger.Logger
	// OnSample receives each reassembled encoded frame.
	OnSample func(sample *media.Sample)
}

func (b *TrackPipelineBuilder) Build(hooks Hooks) (Pipeline, error) {
	return &trackPipeline{
		hooks:    hooks,
		onSample: b.OnSample,
		log:      b.Log.Extend(b.Log.With().Str("c", "track")),
	}, nil
}

type trackPipeline struct {
	hooks    Hooks
	onSample func(sample *media.Sample)
	log      *logger.Logger

	mu      sync.Mutex
	depth   time.Duration
	stopped bool
}

func (p *trackPipeline) Start() error { return nil }

func (p *trackPipeline) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
}

// SetJitterDepth records the directive; it takes effect when the next track
// attaches, fixed-size reorder state cannot be rebuilt mid-stream.
func (p *trackPipeline) SetJitterDepth(depth time.Duration) {
	p.mu.Lock()
	p.depth = depth
	p.mu.Unlock()
	p.log.Debug().Msgf("jitter buffer directive %v", depth)
}

func (p *trackPipeline) AttachTrack(track *webrtc.TrackRemote) {
	if !strings.HasPrefix(track.Codec().MimeType, "video/") {
		return
	}
	go p.readLoop(track)
}

func (p *trackPipeline) readLoop(track *webrtc.TrackRemote) {
	var depacketizer rtp.Depacketizer
	switch track.Codec().MimeType {
	case webrtc.MimeTypeVP8:
		depacketizer = &codecs.VP8Packet{}
	default:
		depacketizer = &codecs.H264Packet{}
	}
	p.mu.Lock()
	depth := p.depth
	p.mu.Unlock()
	opts := []samplebuilder.Option{}
	if depth > 0 {
		opts = append(opts, samplebuilder.WithMaxTimeDelay(depth))
	}
	sb := samplebuilder.New(maxLatePackets, depacketizer, track.Codec().ClockRate, opts...)

	for {
		p.mu.Lock()
		stopped := p.stopped
		p.mu.Unlock()
		if stopped {
			return
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			p.log.Debug().Msgf("track %s reader stopped: %v", track.ID(), err)
			return
		}
		sb.Push(pkt)
		for {
			sample := sb.Pop()
			if sample == nil {
				break
			}
			p.hooks.FrameDecoded()
			if p.onSample != nil {
				p.onSample(sample)
			}
		}
	}
}
