package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fako1024/bthome/pkg/bthome"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config file: %s", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default configuration is invalid: %s", err)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("BTHOME_TEST_BROKER", "tcp://broker:1883")

	path := writeConfig(t, `
device_name: HON
interval: 30s
advertise_window: 500ms
radio:
  type: mock
sensor:
  type: mock
  readings:
    temperature: 21.5
    distance: 1234
mqtt:
  broker: ${BTHOME_TEST_BROKER}
kinds:
  - name: distance
    object_id: 0x40
    width: 2
    factor: 1
    unit: mm
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if cfg.DeviceName != "HON" || cfg.Interval != 30*time.Second || cfg.AdvertiseWindow != 500*time.Millisecond {
		t.Fatalf("unexpected configuration: %+v", cfg)
	}
	if !cfg.PacketID || cfg.Radio.HCIDevice != -1 {
		t.Fatalf("defaults not retained: %+v", cfg)
	}
	if !cfg.MQTT.Enabled() || cfg.MQTT.Broker != "tcp://broker:1883" || cfg.MQTT.Topic != "bthome/beacon" {
		t.Fatalf("unexpected MQTT configuration: %+v", cfg.MQTT)
	}

	reg, err := cfg.Registry()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	rule, err := reg.Lookup("distance")
	if err != nil {
		t.Fatalf("configured kind missing from registry: %s", err)
	}
	if rule.ObjectID != 0x40 || rule.Width != 2 || rule.Unit != "mm" {
		t.Fatalf("unexpected rule: %+v", rule)
	}
}

func TestValidate(t *testing.T) {
	var tests = []struct {
		name   string
		modify func(cfg *Config)
	}{
		{"long device name", func(cfg *Config) { cfg.DeviceName = "a-device-name-that-is-far-too-long" }},
		{"zero interval", func(cfg *Config) { cfg.Interval = 0 }},
		{"window exceeding interval", func(cfg *Config) { cfg.AdvertiseWindow = cfg.Interval + time.Second }},
		{"invalid radio", func(cfg *Config) { cfg.Radio.Type = "lora" }},
		{"invalid sensor", func(cfg *Config) { cfg.Sensor.Type = "dht22" }},
		{"invalid kind", func(cfg *Config) { cfg.Kinds = []KindConfig{{Name: "distance", Width: 7, Factor: 1}} }},
		{"unknown mock reading", func(cfg *Config) { cfg.Sensor.Readings = map[string]float64{"radiation": 1} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("invalid configuration was unexpectedly accepted")
			}
		})
	}

	cfg := Default()
	cfg.Sensor.Readings = map[string]float64{"radiation": 1}
	if err := cfg.Validate(); !errors.Is(err, bthome.ErrUnknownKind) {
		t.Fatalf("expected unknown kind error, got %v", err)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("loading a missing file was unexpectedly successful")
	}
	if _, err := Load(writeConfig(t, "interval: [")); err == nil {
		t.Fatalf("loading an invalid file was unexpectedly successful")
	}
}
