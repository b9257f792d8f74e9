package session

import (
	"context"
	"errors"
	"time"

	"github.com/floppyhammer/electric-maple/pkg/clocksync"
	"github.com/floppyhammer/electric-maple/pkg/config"
	"github.com/floppyhammer/electric-maple/pkg/latency"
	"github.com/floppyhammer/electric-maple/pkg/logger"
	"github.com/floppyhammer/electric-maple/pkg/protocol"
	"github.com/floppyhammer/electric-maple/pkg/signaling"
	"github.com/pion/webrtc/v3/pkg/media"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

// Service is the server-side counterpart of the Orchestrator: it runs the
// signaling endpoint, the clock correlation service and the bitrate policy,
// and hands frames from the renderer to connected clients.
type Service struct {
	conf config.ServerConfig
	log  *logger.Logger

	signal  *signaling.Server
	bitrate *latency.BitrateController

	frameSeq atomic.Int64

	// OnTracking receives live tracking snapshots from clients.
	OnTracking func(c *signaling.Client, t *protocol.Tracking)
	// OnBitrate receives encoder bitrate directives from the latency
	// policy; the external encoder applies them.
	OnBitrate func(bps int)
}

func NewService(conf config.ServerConfig, log *logger.Logger) *Service {
	s := &Service{
		conf: conf,
		log:  log.Extend(log.With().Str("c", "service")),
	}
	s.signal = signaling.NewServer(conf, log)
	s.signal.OnUpMessage = s.onUpMessage
	s.bitrate = latency.NewBitrateController(conf.Encoder.Bitrate, s.applyBitrate, log)
	return s
}

// Signal exposes the signaling server for callback wiring.
func (s *Service) Signal() *signaling.Server { return s.signal }

// Run serves until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	timeServer, err := clocksync.NewTimeServer(s.conf.Server.TimePort, s.log)
	if err != nil {
		return err
	}
	if err := s.signal.Run(); err != nil {
		timeServer.Close()
		return err
	}
	timeServer.Run()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.bitrate.Run(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		timeServer.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.signal.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// PushFrame delivers one encoded frame to a client: the metadata describing
// it is parked first so the embed interceptor tags the frame's own packets.
func (s *Service) PushFrame(c *signaling.Client, down *protocol.DownMessage, sample media.Sample) error {
	c.RegisterDown(down)
	return c.WriteVideoSample(sample)
}

// NextFrameID hands out the next frame sequence id, strictly increasing.
func (s *Service) NextFrameID() int64 { return s.frameSeq.Inc() }

func (s *Service) onUpMessage(c *signaling.Client, msg *protocol.UpMessage) {
	switch {
	case msg.FrameAck != nil:
		if lat := msg.FrameAck.AverageLatency; lat > 0 {
			s.bitrate.Observe(time.Duration(lat))
		}
	case msg.Tracking != nil:
		if s.OnTracking != nil {
			s.OnTracking(c, msg.Tracking)
		}
	}
}

func (s *Service) applyBitrate(bps int) {
	if s.OnBitrate != nil {
		s.OnBitrate(bps)
	}
}
