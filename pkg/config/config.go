// Package config handles loading of the beacon configuration
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/fako1024/bthome/pkg/bthome"
	"gopkg.in/yaml.v3"
)

const (

	// RadioGATT selects the raw HCI advertiser
	RadioGATT = "gatt"

	// RadioBlueZ selects the BlueZ (tinygo bluetooth) advertiser
	RadioBlueZ = "bluez"

	// RadioMock selects an in-memory advertiser
	RadioMock = "mock"

	// SensorBMX280 selects a BME280 / BMP280 on I2C
	SensorBMX280 = "bmx280"

	// SensorMock selects a sensor returning static readings
	SensorMock = "mock"
)

// Config denotes the beacon configuration
type Config struct {
	DeviceName      string        `yaml:"device_name"`
	Interval        time.Duration `yaml:"interval"`
	AdvertiseWindow time.Duration `yaml:"advertise_window"`
	PacketID        bool          `yaml:"packet_id"`
	Debug           bool          `yaml:"debug"`
	JSONLogs        bool          `yaml:"json_logs"`

	Radio  RadioConfig  `yaml:"radio"`
	Sensor SensorConfig `yaml:"sensor"`
	API    APIConfig    `yaml:"api"`
	MQTT   MQTTConfig   `yaml:"mqtt"`

	// Kinds adds registry rows beyond the standard object ids
	Kinds []KindConfig `yaml:"kinds"`
}

// RadioConfig denotes the advertiser settings
type RadioConfig struct {
	Type      string `yaml:"type"`
	HCIDevice int    `yaml:"hci_device"`
}

// SensorConfig denotes the sensor settings
type SensorConfig struct {
	Type    string   `yaml:"type"`
	Bus     string   `yaml:"bus"`
	Address uint16   `yaml:"address"`
	Kinds   []string `yaml:"kinds"`

	// Static readings reported by the mock sensor
	Readings map[string]float64 `yaml:"readings"`
}

// APIConfig denotes the REST API settings
type APIConfig struct {
	Listen string `yaml:"listen"`
}

// MQTTConfig denotes the MQTT mirror settings
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
}

// Enabled returns if an MQTT broker is configured
func (c MQTTConfig) Enabled() bool {
	return c.Broker != ""
}

// KindConfig denotes an additional registry row
type KindConfig struct {
	Name     string  `yaml:"name"`
	ObjectID uint8   `yaml:"object_id"`
	Width    int     `yaml:"width"`
	Signed   bool    `yaml:"signed"`
	Factor   float64 `yaml:"factor"`
	Unit     string  `yaml:"unit"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		DeviceName:      "BTHome",
		Interval:        10 * time.Second,
		AdvertiseWindow: time.Second,
		PacketID:        true,
		Radio: RadioConfig{
			Type:      RadioGATT,
			HCIDevice: -1,
		},
		Sensor: SensorConfig{
			Type:    SensorBMX280,
			Address: 0x76,
		},
		MQTT: MQTTConfig{
			Topic:    "bthome/beacon",
			ClientID: "bthome-beacon",
		},
	}
}

// Load reads a YAML configuration file, expanding environment variables.
// Settings absent from the file keep their default value
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, cfg.Validate()
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	if _, err := bthome.New(c.DeviceName); err != nil {
		return err
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %v", c.Interval)
	}
	if c.AdvertiseWindow < 0 || c.AdvertiseWindow > c.Interval {
		return fmt.Errorf("advertise_window must be within [0, %v], got %v", c.Interval, c.AdvertiseWindow)
	}

	switch c.Radio.Type {
	case RadioGATT, RadioBlueZ, RadioMock:
	default:
		return fmt.Errorf("invalid radio type %q (allowed: %s, %s, %s)", c.Radio.Type, RadioGATT, RadioBlueZ, RadioMock)
	}
	switch c.Sensor.Type {
	case SensorBMX280, SensorMock:
	default:
		return fmt.Errorf("invalid sensor type %q (allowed: %s, %s)", c.Sensor.Type, SensorBMX280, SensorMock)
	}

	reg, err := c.Registry()
	if err != nil {
		return err
	}
	for kind := range c.Sensor.Readings {
		if _, err := reg.Lookup(bthome.Kind(kind)); err != nil {
			return fmt.Errorf("invalid mock reading: %w", err)
		}
	}

	return nil
}

// Registry returns the standard registry extended by the configured kinds
func (c *Config) Registry() (*bthome.Registry, error) {
	reg := bthome.DefaultRegistry()
	for _, k := range c.Kinds {
		if err := reg.Register(bthome.Rule{
			Kind:     bthome.Kind(k.Name),
			ObjectID: k.ObjectID,
			Width:    k.Width,
			Signed:   k.Signed,
			Factor:   k.Factor,
			Unit:     k.Unit,
		}); err != nil {
			return nil, err
		}
	}

	return reg, nil
}

// SensorKinds returns the kinds the sensor is configured to report
func (c *Config) SensorKinds() []bthome.Kind {
	kinds := make([]bthome.Kind, 0, len(c.Sensor.Kinds))
	for _, k := range c.Sensor.Kinds {
		kinds = append(kinds, bthome.Kind(k))
	}
	return kinds
}
