package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/floppyhammer/electric-maple/pkg/clocksync"
	"github.com/floppyhammer/electric-maple/pkg/config"
	"github.com/floppyhammer/electric-maple/pkg/latency"
	"github.com/floppyhammer/electric-maple/pkg/logger"
	"github.com/floppyhammer/electric-maple/pkg/metamux"
	"github.com/floppyhammer/electric-maple/pkg/protocol"
	"github.com/floppyhammer/electric-maple/pkg/signaling"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

// latencyEWMA weights the running latency average reported in frame acks.
const latencyEWMA = 0.1

// errSessionOver marks a deliberate disconnect ending Run cleanly.
var errSessionOver = errors.New("session over")

// Orchestrator owns one signaling session and at most one live pipeline.
type Orchestrator struct {
	conf    config.ClientConfig
	log     *logger.Logger
	builder PipelineBuilder

	session *signaling.Session
	cor     *clocksync.Correlator
	outbox  *metamux.Outbox
	inbox   *metamux.Inbox
	recv    *metamux.Receiver
	window  *latency.Window
	jitter  *latency.JitterController

	messageID atomic.Int64
	avgNs     atomic.Float64

	mu       sync.Mutex
	pipeline Pipeline
	over     chan struct{}

	// OnPose receives the pose metadata resolved for each decoded frame;
	// nil Meta means the pose is unknown for that frame.
	OnPose func(frame metamux.Frame)
}

func NewOrchestrator(conf config.ClientConfig, builder PipelineBuilder, log *logger.Logger) (*Orchestrator, error) {
	o := &Orchestrator{
		conf:    conf,
		log:     log.Extend(log.With().Str("c", "orc")),
		builder: builder,
		cor:     clocksync.NewCorrelator(log),
		outbox:  &metamux.Outbox{},
		inbox:   metamux.NewInbox(log),
		window:  &latency.Window{},
	}
	o.recv = metamux.NewReceiver(o.inbox, log)
	o.jitter = latency.NewJitterController(o.window, conf.Latency, o.applyJitterDepth, log)

	api, err := signaling.NewApiFactory(conf.Webrtc, log,
		func(_ *webrtc.MediaEngine, i *interceptor.Registry, _ *webrtc.SettingEngine) {
			i.Add(&metamux.ExtractInterceptor{Inbox: o.inbox})
		})
	if err != nil {
		return nil, err
	}
	o.session, err = signaling.NewSession(conf.Client.ServerURL, api, log)
	if err != nil {
		return nil, err
	}
	o.session.OnEvent = o.onEvent
	o.session.OnTrack = o.onTrack
	return o, nil
}

func (o *Orchestrator) onTrack(track *webrtc.TrackRemote) {
	o.mu.Lock()
	p := o.pipeline
	o.mu.Unlock()
	if consumer, ok := p.(TrackConsumer); ok {
		consumer.AttachTrack(track)
	}
}

// Session exposes the underlying signaling session for state inspection.
func (o *Orchestrator) Session() *signaling.Session { return o.session }

// Run connects and serves until the context is cancelled or the session
// ends. Cancellation tears down pipeline, peer and control channel in
// that order; a disconnect for any reason but UserRequested comes back
// as an error.
func (o *Orchestrator) Run(ctx context.Context) error {
	over := make(chan struct{})
	o.mu.Lock()
	o.over = over
	o.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)

	if err := o.session.Connect(ctx); err != nil {
		return err
	}

	timeClient := clocksync.NewTimeClient(o.conf.TimeService(), o.cor, o.log)
	g.Go(func() error { return timeClient.Run(ctx) })
	g.Go(func() error { return o.jitter.Run(ctx) })
	g.Go(func() error {
		select {
		case <-ctx.Done():
			o.session.Disconnect()
			return ctx.Err()
		case <-over:
			if reason := o.session.Reason(); reason != signaling.UserRequested {
				return fmt.Errorf("session ended: %v", reason)
			}
			return errSessionOver
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, errSessionOver) {
		return nil
	}
	return err
}

// SendTracking ships one tracking snapshot upstream. Reports false outside
// the Connected state; tracking is periodic, dropping one is harmless.
func (o *Orchestrator) SendTracking(t *protocol.Tracking) bool {
	msg := &protocol.UpMessage{MessageID: o.messageID.Inc(), Tracking: t}
	return o.session.Send(protocol.EncodeUp(msg))
}

func (o *Orchestrator) onEvent(ev signaling.Event) {
	switch e := ev.(type) {
	case signaling.PipelineNeeded:
		o.buildPipeline()
	case signaling.PipelineDropped:
		o.stopPipeline()
	case signaling.StatusChanged:
		if e.To == signaling.Disconnected {
			o.log.Info().Msgf("session over: %v", e.Reason)
			o.mu.Lock()
			if o.over != nil {
				close(o.over)
				o.over = nil
			}
			o.mu.Unlock()
		}
	}
}

// buildPipeline hands the session a started pipeline, or nothing at all:
// a build or start failure leaves SetPipeline uncalled and the attempt
// fails with NoPipelineProvided.
func (o *Orchestrator) buildPipeline() {
	p, err := o.builder.Build(Hooks{
		EmbedMetadata:   o.outbox.Flush,
		ExtractMetadata: o.inbox.Put,
		FrameDecoded:    o.onFrameDecoded,
	})
	if err != nil {
		o.log.Error().Err(err).Msg("pipeline build failed")
		return
	}
	if err := p.Start(); err != nil {
		o.log.Error().Err(err).Msg("pipeline start failed")
		p.Stop()
		return
	}
	o.mu.Lock()
	o.pipeline = p
	o.mu.Unlock()
	o.session.SetPipeline()
}

func (o *Orchestrator) stopPipeline() {
	o.mu.Lock()
	p := o.pipeline
	o.pipeline = nil
	o.mu.Unlock()
	if p != nil {
		p.Stop()
	}
}

func (o *Orchestrator) applyJitterDepth(depth time.Duration) {
	o.mu.Lock()
	p := o.pipeline
	o.mu.Unlock()
	if p != nil {
		p.SetJitterDepth(depth)
	}
}

// onFrameDecoded resolves the metadata for one decoded frame, measures its
// end-to-end latency and acknowledges it upstream. A reused pose carries
// another frame's push time, so such frames feed neither the latency
// window nor the ack stream.
func (o *Orchestrator) onFrameDecoded() {
	now := clocksync.MonotonicNow()
	frame := o.recv.OnFrame(now)
	if o.OnPose != nil {
		o.OnPose(frame)
	}
	if frame.Meta == nil || frame.Reused {
		return
	}
	o.cor.SetFallback(now, frame.Meta.PushClockTime, frame.Meta.ServerClockOffset)

	pushedLocal, ok := o.cor.RemoteToLocal(frame.Meta.FramePushTime)
	if !ok {
		return
	}
	sample := time.Duration(now - pushedLocal)
	if sample <= 0 {
		return
	}
	o.window.Add(sample)

	avg := o.avgNs.Load()
	if avg == 0 {
		avg = float64(sample)
	} else {
		avg = avg*(1-latencyEWMA) + float64(sample)*latencyEWMA
	}
	o.avgNs.Store(avg)

	ack := &protocol.UpMessage{
		MessageID: o.messageID.Inc(),
		FrameAck: &protocol.FrameAck{
			FrameSequenceID:    frame.Meta.FrameSequenceID,
			DecodeCompleteTime: now,
			AverageLatency:     int64(avg),
		},
	}
	o.session.Send(protocol.EncodeUp(ack))
}
