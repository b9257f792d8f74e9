package main

import (
	"context"
	goflag "flag"
	"time"

	"github.com/floppyhammer/electric-maple/pkg/config"
	"github.com/floppyhammer/electric-maple/pkg/logger"
	"github.com/floppyhammer/electric-maple/pkg/metamux"
	"github.com/floppyhammer/electric-maple/pkg/monitoring"
	"github.com/floppyhammer/electric-maple/pkg/os"
	"github.com/floppyhammer/electric-maple/pkg/session"
	flag "github.com/spf13/pflag"
)

var Version = "?"

func main() {
	conf, err := config.NewClientConfig()
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	conf.WithFlags(flag.CommandLine)
	flag.Parse()
	if err != nil {
		panic(err)
	}

	log := logger.NewConsole(conf.Debug, "c", false)
	log.Info().Msgf("version %s", Version)
	log.Info().Msgf("render target %dx%d per eye", conf.Display.EyeWidth, conf.Display.EyeHeight)
	if conf.Debug {
		log.Debug().Msgf("config: %+v", conf)
	}

	builder := &session.TrackPipelineBuilder{Log: log}
	orc, err := session.NewOrchestrator(conf, builder, log)
	if err != nil {
		log.Fatal().Err(err).Msg("orchestrator init fail")
	}
	orc.OnPose = func(frame metamux.Frame) {
		if frame.Meta == nil {
			return
		}
		log.Debug().Msgf("frame %d pose resolved (reused: %v)",
			frame.Meta.FrameSequenceID, frame.Reused)
	}

	if conf.Monitoring.IsEnabled() {
		mon, err := monitoring.New(conf.Monitoring, "client", log)
		if err != nil {
			log.Fatal().Err(err).Msg("monitoring init fail")
		}
		mon.Run()
		defer func() {
			shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutCancel()
			_ = mon.Shutdown(shutCtx)
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- orc.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			log.Error().Err(err).Msg("session ended")
		}
	case <-os.ExpectTermination():
		cancel()
		if err := <-done; err != nil {
			log.Error().Err(err).Msg("session shutdown errors")
		}
	}
}
