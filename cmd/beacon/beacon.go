package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fako1024/bthome/pkg/api"
	"github.com/fako1024/bthome/pkg/beacon"
	"github.com/fako1024/bthome/pkg/bluez"
	"github.com/fako1024/bthome/pkg/bmx280"
	"github.com/fako1024/bthome/pkg/bthome"
	"github.com/fako1024/bthome/pkg/config"
	"github.com/fako1024/bthome/pkg/gattadv"
	"github.com/fako1024/bthome/pkg/mock"
	"github.com/fako1024/bthome/pkg/mqttsink"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run() (err error) {

	// Parse command line options
	var (
		configPath string
		flags      = config.Default()
	)

	flag.StringVar(&configPath, "config", "", "Path to YAML configuration file")
	flag.StringVar(&flags.DeviceName, "name", flags.DeviceName, "Advertised device name")
	flag.DurationVar(&flags.Interval, "interval", flags.Interval, "Time between two advertising cycles")
	flag.StringVar(&flags.Radio.Type, "radio", flags.Radio.Type, "Radio backend (gatt, bluez, mock)")
	flag.IntVar(&flags.Radio.HCIDevice, "hci", flags.Radio.HCIDevice, "HCI device id (-1 selects the first available device)")
	flag.StringVar(&flags.Sensor.Type, "sensor", flags.Sensor.Type, "Sensor backend (bmx280, mock)")
	flag.StringVar(&flags.API.Listen, "api", flags.API.Listen, "Listen address of the REST API (disabled if empty)")
	flag.BoolVar(&flags.Debug, "debug", flags.Debug, "Enable debug logging")
	flag.Parse()

	cfg := flags
	if configPath != "" {
		if cfg, err = config.Load(configPath); err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		// Explicitly set flags take precedence over the configuration file
		flag.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "name":
				cfg.DeviceName = flags.DeviceName
			case "interval":
				cfg.Interval = flags.Interval
			case "radio":
				cfg.Radio.Type = flags.Radio.Type
			case "hci":
				cfg.Radio.HCIDevice = flags.Radio.HCIDevice
			case "sensor":
				cfg.Sensor.Type = flags.Sensor.Type
			case "api":
				cfg.API.Listen = flags.API.Listen
			case "debug":
				cfg.Debug = flags.Debug
			}
		})
	}
	if err = cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := beacon.NewDefaultLogger(cfg.Debug, cfg.JSONLogs)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	reg, err := cfg.Registry()
	if err != nil {
		return err
	}
	builder, err := bthome.New(cfg.DeviceName, bthome.WithRegistry(reg))
	if err != nil {
		return fmt.Errorf("failed to instantiate payload builder: %w", err)
	}

	adv, err := newAdvertiser(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize %s radio: %w", cfg.Radio.Type, err)
	}
	sensor, err := newSensor(cfg)
	if err != nil {
		_ = adv.Close()
		return fmt.Errorf("failed to initialize %s sensor: %w", cfg.Sensor.Type, err)
	}

	b, err := beacon.New(builder, adv, sensor,
		beacon.WithInterval(cfg.Interval),
		beacon.WithAdvertiseWindow(cfg.AdvertiseWindow),
		beacon.WithPacketID(cfg.PacketID),
		beacon.WithLogger(logger),
	)
	if err != nil {
		_ = adv.Close()
		_ = sensor.Close()
		return err
	}
	defer func() {
		if cerr := b.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MQTT.Enabled() {
		sink, err := mqttsink.New(cfg.MQTT.Broker, cfg.DeviceName,
			mqttsink.WithTopic(cfg.MQTT.Topic),
			mqttsink.WithClientID(cfg.MQTT.ClientID),
			mqttsink.WithLogger(logger),
		)
		if err != nil {
			return err
		}
		defer sink.Close()

		if err := sink.Connect(ctx); err != nil {
			logger.Warnf("initial MQTT connection failed, retrying in background: %s", err)
		}
		b.SetCycleHandler(sink.Handler())
	}

	if cfg.API.Listen != "" {
		a := api.New(b, cfg.API.Listen)
		defer func() {
			_ = a.Shutdown()
		}()
		logger.Infof("serving REST API on %s", cfg.API.Listen)
	}

	return b.Run(ctx)
}

func newAdvertiser(cfg *config.Config, logger beacon.Logger) (beacon.Advertiser, error) {
	switch cfg.Radio.Type {
	case config.RadioGATT:
		return gattadv.New(
			gattadv.WithHCIDevice(cfg.Radio.HCIDevice),
			gattadv.WithLogger(logger),
		)
	case config.RadioBlueZ:
		return bluez.New(bluez.WithLogger(logger))
	case config.RadioMock:
		return mock.NewAdvertiser(), nil
	}

	return nil, fmt.Errorf("unsupported radio type `%s`", cfg.Radio.Type)
}

func newSensor(cfg *config.Config) (beacon.Sensor, error) {
	switch cfg.Sensor.Type {
	case config.SensorBMX280:
		options := []func(*bmx280.Sensor){
			bmx280.WithBus(cfg.Sensor.Bus),
			bmx280.WithAddress(cfg.Sensor.Address),
		}
		if kinds := cfg.SensorKinds(); len(kinds) > 0 {
			options = append(options, bmx280.WithKinds(kinds...))
		}
		return bmx280.New(options...)
	case config.SensorMock:
		readings := make([]beacon.Reading, 0, len(cfg.Sensor.Readings))
		for kind, value := range cfg.Sensor.Readings {
			readings = append(readings, beacon.Reading{Kind: bthome.Kind(kind), Value: value})
		}
		return mock.NewSensor(readings...), nil
	}

	return nil, fmt.Errorf("unsupported sensor type `%s`", cfg.Sensor.Type)
}
