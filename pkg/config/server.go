package config

import (
	"github.com/spf13/pflag"
)

// DefaultTimePort is the UDP port of the clock correlation service.
const DefaultTimePort = 52357

type ServerConfig struct {
	Server struct {
		// Address the signaling endpoint binds to, e.g. :52356.
		Address string `default:":52356"`
		// TimePort is the UDP port of the clock correlation service.
		TimePort int `fig:"timePort" default:"52357"`
	}
	Webrtc     Webrtc
	Encoder    Encoder
	Latency    Latency
	Monitoring Monitoring
	Debug      bool
}

var serverConfigPath string

func NewServerConfig() (conf ServerConfig, err error) {
	err = LoadConfig(&conf, serverConfigPath)
	return
}

func (c *ServerConfig) WithFlags(fs *pflag.FlagSet) *ServerConfig {
	fs.StringVar(&c.Server.Address, "address", c.Server.Address, "Signaling server bind address")
	fs.IntVar(&c.Server.TimePort, "timeport", c.Server.TimePort, "Clock correlation UDP port")
	fs.IntVar(&c.Encoder.Bitrate, "bitrate", c.Encoder.Bitrate, "Initial encoder bitrate (bps)")
	fs.IntVar(&c.Monitoring.Port, "monitoring.port", c.Monitoring.Port, "Monitoring server port")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "Enable debug logging")
	fs.StringVarP(&serverConfigPath, "conf", "c", "", "Set custom configuration file path")
	return c
}
