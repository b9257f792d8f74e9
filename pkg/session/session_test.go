package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/floppyhammer/electric-maple/pkg/config"
	"github.com/floppyhammer/electric-maple/pkg/logger"
	"github.com/floppyhammer/electric-maple/pkg/metamux"
	"github.com/floppyhammer/electric-maple/pkg/protocol"
	"github.com/floppyhammer/electric-maple/pkg/signaling"
)

type fakePipeline struct {
	mu      sync.Mutex
	started bool
	stopped bool
	depth   time.Duration
}

func (p *fakePipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = true
	return nil
}

func (p *fakePipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
}

func (p *fakePipeline) SetJitterDepth(depth time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.depth = depth
}

func (p *fakePipeline) state() (started, stopped bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started, p.stopped
}

type fakeBuilder struct {
	mu    sync.Mutex
	err   error
	hooks Hooks
	p     *fakePipeline
}

func (b *fakeBuilder) Build(hooks Hooks) (Pipeline, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	b.hooks = hooks
	b.p = &fakePipeline{}
	return b.p, nil
}

func (b *fakeBuilder) pipeline() *fakePipeline {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.p
}

func runServer(t *testing.T) *signaling.Server {
	t.Helper()
	conf := config.ServerConfig{}
	conf.Server.Address = "127.0.0.1:0"
	conf.Encoder.Codec = "h264"
	server := signaling.NewServer(conf, logger.Default())
	if err := server.Run(); err != nil {
		t.Fatalf("server run: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	})
	return server
}

func clientConf(server *signaling.Server) config.ClientConfig {
	conf := config.ClientConfig{}
	conf.Client.ServerURL = "ws://" + server.Addr() + "/ws"
	conf.Latency.EvaluationPeriod = 100 * time.Millisecond
	conf.Latency.DecayStepMs = 10
	return conf
}

func TestOrchestratorLifecycle(t *testing.T) {
	server := runServer(t)
	builder := &fakeBuilder{}
	o, err := NewOrchestrator(clientConf(server), builder, logger.Default())
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for o.Session().State() != signaling.Connected {
		if time.Now().After(deadline) {
			t.Fatalf("state = %v, never connected", o.Session().State())
		}
		time.Sleep(10 * time.Millisecond)
	}

	p := builder.pipeline()
	if p == nil {
		t.Fatal("pipeline was never built")
	}
	if started, stopped := p.state(); !started || stopped {
		t.Fatalf("pipeline started=%v stopped=%v", started, stopped)
	}

	if !o.SendTracking(&protocol.Tracking{HasHMD: true, HMD: protocol.Pose{HasOrientation: true}}) {
		t.Fatal("tracking send failed while connected")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, stopped := p.state(); !stopped {
		t.Fatal("pipeline not stopped on shutdown")
	}
	if got := o.Session().State(); got != signaling.Disconnected {
		t.Fatalf("state after run = %v", got)
	}
}

func TestOrchestratorRunEndsWhenServerDrops(t *testing.T) {
	server := runServer(t)
	builder := &fakeBuilder{}
	o, err := NewOrchestrator(clientConf(server), builder, logger.Default())
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for o.Session().State() != signaling.Connected {
		if time.Now().After(deadline) {
			t.Fatalf("state = %v, never connected", o.Session().State())
		}
		time.Sleep(10 * time.Millisecond)
	}

	shctx, shcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shcancel()
	_ = server.Shutdown(shctx)

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("run returned nil after the server dropped the session")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not end after the server dropped the session")
	}
	if got := o.Session().Reason(); got == signaling.UserRequested || got == signaling.ReasonNone {
		t.Fatalf("reason = %v, want a remote failure", got)
	}
}

func TestOrchestratorBuildFailureFailsAttempt(t *testing.T) {
	server := runServer(t)
	builder := &fakeBuilder{err: errors.New("no decoder")}
	o, err := NewOrchestrator(clientConf(server), builder, logger.Default())
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.Run(ctx); err == nil {
		t.Fatal("run succeeded with a failing pipeline builder")
	}
	if got := o.Session().Reason(); got != signaling.NoPipelineProvided {
		t.Fatalf("reason = %v, want %v", got, signaling.NoPipelineProvided)
	}
}

func TestOrchestratorFrameFlow(t *testing.T) {
	server := runServer(t)
	o, err := NewOrchestrator(clientConf(server), &fakeBuilder{}, logger.Default())
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}

	var poses []metamux.Frame
	o.OnPose = func(f metamux.Frame) { poses = append(poses, f) }
	o.cor.AddNetworkSample(0, time.Millisecond)

	down := &protocol.DownMessage{
		FrameSequenceID: 5,
		FramePushTime:   1,
		PushClockTime:   1,
	}
	o.inbox.Put(protocol.EncodeDown(down))
	o.onFrameDecoded()

	if len(poses) != 1 || poses[0].Meta == nil || poses[0].Meta.FrameSequenceID != 5 {
		t.Fatalf("poses = %+v, want frame 5", poses)
	}
	samples := o.window.Drain()
	if len(samples) != 1 || samples[0] <= 0 {
		t.Fatalf("latency samples = %v, want one positive sample", samples)
	}
	if o.avgNs.Load() == 0 {
		t.Fatal("latency average not updated")
	}

	// A frame with no metadata at all records nothing.
	o.onFrameDecoded()
	if len(poses) != 2 {
		t.Fatalf("poses = %d, want 2", len(poses))
	}
	if !poses[1].Reused && poses[1].Meta != nil {
		t.Fatalf("second frame = %+v, want reused or absent", poses[1])
	}
}

func TestServiceRoutesUpMessages(t *testing.T) {
	conf := config.ServerConfig{}
	conf.Encoder.Bitrate = 8_000_000
	s := NewService(conf, logger.Default())

	var tracked []*protocol.Tracking
	s.OnTracking = func(_ *signaling.Client, tr *protocol.Tracking) { tracked = append(tracked, tr) }
	var rates []int
	s.OnBitrate = func(bps int) { rates = append(rates, bps) }

	s.onUpMessage(nil, &protocol.UpMessage{MessageID: 1, Tracking: &protocol.Tracking{HasHMD: true}})
	if len(tracked) != 1 || !tracked[0].HasHMD {
		t.Fatalf("tracked = %+v", tracked)
	}

	s.onUpMessage(nil, &protocol.UpMessage{MessageID: 2, FrameAck: &protocol.FrameAck{
		FrameSequenceID: 1,
		AverageLatency:  int64(250 * time.Millisecond),
	}})
	s.bitrate.Evaluate(time.Now())
	if len(rates) != 1 || rates[0] != 4_000_000 {
		t.Fatalf("bitrate directives = %v, want one half-rate step", rates)
	}

	if s.NextFrameID() != 1 || s.NextFrameID() != 2 {
		t.Fatal("frame ids not strictly increasing from 1")
	}
}
