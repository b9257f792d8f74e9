package config

import (
	"os"
	"testing"
	"time"
)

func TestServerConfigEnvDefaults(t *testing.T) {
	var conf ServerConfig
	if err := LoadConfigEnv(&conf); err != nil {
		t.Fatal(err)
	}
	if conf.Server.Address != ":52356" {
		t.Errorf("address = %q", conf.Server.Address)
	}
	if conf.Server.TimePort != DefaultTimePort {
		t.Errorf("time port = %d", conf.Server.TimePort)
	}
	if conf.Latency.EvaluationPeriod != 3*time.Second {
		t.Errorf("evaluation period = %v", conf.Latency.EvaluationPeriod)
	}
	if conf.Latency.DecayStepMs != 10 {
		t.Errorf("decay step = %d", conf.Latency.DecayStepMs)
	}
}

func TestConfigEnvOverride(t *testing.T) {
	_ = os.Setenv("EM_SERVER_TIMEPORT", "9000")
	defer func() { _ = os.Unsetenv("EM_SERVER_TIMEPORT") }()

	var conf ServerConfig
	if err := LoadConfigEnv(&conf); err != nil {
		t.Fatal(err)
	}
	if conf.Server.TimePort != 9000 {
		t.Errorf("time port = %d, want 9000 from env", conf.Server.TimePort)
	}
}

func TestClientTimeService(t *testing.T) {
	var conf ClientConfig

	conf.Client.ServerURL = "ws://10.0.0.5:52356/ws"
	if got := conf.TimeService(); got != "10.0.0.5:52357" {
		t.Errorf("derived time service = %q", got)
	}

	conf.Client.TimeAddress = "time.example:1234"
	if got := conf.TimeService(); got != "time.example:1234" {
		t.Errorf("explicit time service = %q", got)
	}
}
