// Package config holds the process-level configuration of the server and
// client apps. Loaded once at startup, immutable thereafter.
package config

import (
	"strings"
	"time"
)

type (
	Webrtc struct {
		DisableDefaultInterceptors bool
		IceServers                 []IceServer
		IcePorts                   struct {
			Min uint16
			Max uint16
		}
		IceIpMap string
		IceLite  bool
		LogLevel int
	}
	IceServer struct {
		Urls       string `json:"urls,omitempty"`
		Username   string `json:"username,omitempty"`
		Credential string `json:"credential,omitempty"`
	}
	Encoder struct {
		// Codec is the negotiated video codec name, H264 by default.
		Codec string
		// Bitrate is the initial encoder bitrate in bps.
		Bitrate int
		Fps     int
	}
	Monitoring struct {
		Port             int
		URLPrefix        string
		MetricEnabled    bool `fig:"metricEnabled"`
		ProfilingEnabled bool `fig:"profilingEnabled"`
	}
	Display struct {
		// Per-eye render target geometry.
		EyeWidth  int
		EyeHeight int
	}
	Latency struct {
		// EvaluationPeriod between jitter-buffer adjustments.
		EvaluationPeriod time.Duration `fig:"evaluationPeriod" default:"3s"`
		// DecayStepMs bounds how fast the jitter buffer may shrink.
		DecayStepMs int `fig:"decayStepMs" default:"10"`
	}
)

func (w *Webrtc) HasPortRange() bool { return w.IcePorts.Min > 0 && w.IcePorts.Max > 0 }
func (w *Webrtc) HasIceIpMap() bool  { return w.IceIpMap != "" }

func (m *Monitoring) IsEnabled() bool { return m.MetricEnabled || m.ProfilingEnabled }

func (e *Encoder) IsH264() bool { return strings.EqualFold(e.Codec, "h264") }
