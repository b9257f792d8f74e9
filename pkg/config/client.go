package config

import (
	"net"
	"net/url"
	"strconv"

	"github.com/spf13/pflag"
)

type ClientConfig struct {
	Client struct {
		// ServerURL is the websocket URI of the signaling endpoint.
		ServerURL string `fig:"serverUrl" default:"ws://192.168.49.1:52356/ws"`
		// TimeAddress is the host:port of the clock correlation service;
		// empty derives it from ServerURL with the default port.
		TimeAddress string `fig:"timeAddress"`
	}
	Webrtc     Webrtc
	Display    Display
	Latency    Latency
	Monitoring Monitoring
	Debug      bool
}

// TimeService resolves the clock correlation endpoint, deriving the host
// from the signaling URL when no explicit address is configured.
func (c *ClientConfig) TimeService() string {
	if c.Client.TimeAddress != "" {
		return c.Client.TimeAddress
	}
	host := "127.0.0.1"
	if u, err := url.Parse(c.Client.ServerURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	return net.JoinHostPort(host, strconv.Itoa(DefaultTimePort))
}

var clientConfigPath string

func NewClientConfig() (conf ClientConfig, err error) {
	err = LoadConfig(&conf, clientConfigPath)
	return
}

func (c *ClientConfig) WithFlags(fs *pflag.FlagSet) *ClientConfig {
	fs.StringVar(&c.Client.ServerURL, "server", c.Client.ServerURL, "Signaling server websocket URL")
	fs.IntVar(&c.Monitoring.Port, "monitoring.port", c.Monitoring.Port, "Monitoring server port")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "Enable debug logging")
	fs.StringVarP(&clientConfigPath, "conf", "c", "", "Set custom configuration file path")
	return c
}
