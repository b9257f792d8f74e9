package main

import (
	"context"
	goflag "flag"
	"time"

	"github.com/floppyhammer/electric-maple/pkg/config"
	"github.com/floppyhammer/electric-maple/pkg/logger"
	"github.com/floppyhammer/electric-maple/pkg/monitoring"
	"github.com/floppyhammer/electric-maple/pkg/os"
	"github.com/floppyhammer/electric-maple/pkg/protocol"
	"github.com/floppyhammer/electric-maple/pkg/session"
	"github.com/floppyhammer/electric-maple/pkg/signaling"
	flag "github.com/spf13/pflag"
)

var Version = "?"

func main() {
	conf, err := config.NewServerConfig()
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	conf.WithFlags(flag.CommandLine)
	flag.Parse()
	if err != nil {
		panic(err)
	}

	log := logger.NewConsole(conf.Debug, "s", false)
	log.Info().Msgf("version %s", Version)
	if conf.Debug {
		log.Debug().Msgf("config: %+v", conf)
	}

	service := session.NewService(conf, log)
	service.OnBitrate = func(bps int) {
		log.Info().Msgf("encoder bitrate directive: %d bps", bps)
	}
	service.OnTracking = func(c *signaling.Client, t *protocol.Tracking) {
		log.Debug().Msgf("tracking from %v, hmd: %v", c.Id().Short(), t.HasHMD)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- service.Run(ctx) }()

	if conf.Monitoring.IsEnabled() {
		mon, err := monitoring.New(conf.Monitoring, "server", log)
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

	select {
	case err := <-done:
		if err != nil {
			log.Error().Err(err).Msg("service ended")
		}
	case <-os.ExpectTermination():
		cancel()
		if err := <-done; err != nil {
			log.Error().Err(err).Msg("service shutdown errors")
		}
	}
}
