package bmx280

import (
	"fmt"

	"github.com/fako1024/bthome/pkg/beacon"
	"github.com/fako1024/bthome/pkg/bthome"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/host/v3"
)

const (

	// DefaultAddress is the I2C address of most BME280 / BMP280 breakout boards
	DefaultAddress uint16 = 0x76
)

// DefaultKinds are the kinds measured by a BME280
var DefaultKinds = []bthome.Kind{bthome.KindTemperature, bthome.KindHumidity, bthome.KindPressure}

type device interface {
	Sense(env *physic.Env) error
	Halt() error
}

// Sensor denotes a beacon.Sensor reading a Bosch BME280 / BMP280 via I2C
type Sensor struct {
	bus     i2c.BusCloser
	busName string
	address uint16
	kinds   []bthome.Kind

	dev device
}

// New instantiates a new Sensor, executing functional options, if any
func New(options ...func(*Sensor)) (*Sensor, error) {
	s := &Sensor{
		address: DefaultAddress,
		kinds:   DefaultKinds,
	}

	// Execute functional options (if any)
	for _, option := range options {
		option(s)
	}

	if s.dev != nil {
		return s, nil
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize host drivers: %w", err)
	}

	bus, err := i2creg.Open(s.busName)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus `%s`: %w", s.busName, err)
	}

	dev, err := bmxx80.NewI2C(bus, s.address, &bmxx80.DefaultOpts)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("failed to initialize sensor at 0x%02X: %w", s.address, err)
	}

	s.bus = bus
	s.dev = dev

	return s, nil
}

// WithBus sets the I2C bus name (empty selects the default bus)
func WithBus(name string) func(*Sensor) {
	return func(s *Sensor) {
		s.busName = name
	}
}

// WithAddress sets the I2C address
func WithAddress(address uint16) func(*Sensor) {
	return func(s *Sensor) {
		s.address = address
	}
}

// WithKinds restricts the reported readings (e.g. no humidity for a BMP280)
func WithKinds(kinds ...bthome.Kind) func(*Sensor) {
	return func(s *Sensor) {
		s.kinds = kinds
	}
}

// Read performs a measurement
func (s *Sensor) Read() ([]beacon.Reading, error) {
	var env physic.Env
	if err := s.dev.Sense(&env); err != nil {
		return nil, fmt.Errorf("failed to sense environment: %w", err)
	}

	return readings(env, s.kinds)
}

// Close halts the sensor and releases the I2C bus
func (s *Sensor) Close() error {
	err := s.dev.Halt()
	if s.bus != nil {
		if cerr := s.bus.Close(); cerr != nil {
			return cerr
		}
	}

	return err
}

////////////////////////////////////////////////////////////////////////////////

func readings(env physic.Env, kinds []bthome.Kind) ([]beacon.Reading, error) {
	readings := make([]beacon.Reading, 0, len(kinds))
	for _, kind := range kinds {
		switch kind {
		case bthome.KindTemperature:
			readings = append(readings, beacon.Reading{Kind: kind, Value: env.Temperature.Celsius()})
		case bthome.KindHumidity:
			readings = append(readings, beacon.Reading{Kind: kind, Value: float64(env.Humidity) / float64(physic.PercentRH)})
		case bthome.KindPressure:
			readings = append(readings, beacon.Reading{Kind: kind, Value: float64(env.Pressure) / float64(100*physic.Pascal)})
		default:
			return nil, fmt.Errorf("kind `%s` is not measured by this sensor", kind)
		}
	}

	return readings, nil
}
