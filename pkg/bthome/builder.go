package bthome

import (
	"fmt"
)

const (

	// MaxDeviceNameLength is the longest name that still fits a legacy advertisement
	MaxDeviceNameLength = LegacyAdvertisingCapacity - 2

	defaultCapacity = 16
)

// Item denotes a pending measurement, already scaled to its wire integer.
// Negative values (signed kinds only) are written in two's complement
type Item struct {
	Kind  Kind
	Value int64
}

// Builder accumulates the measurements of one advertising cycle and assembles
// them into an advertising payload. A Builder is not safe for concurrent use,
// callers sharing one must serialize the Reset / Add / Build sequence
type Builder struct {
	deviceName string
	registry   *Registry
	pending    []Item
}

// New instantiates a new Builder for the given device name, executing
// functional options, if any
func New(deviceName string, options ...func(*Builder)) (*Builder, error) {
	if err := validateDeviceName(deviceName); err != nil {
		return nil, err
	}

	b := &Builder{
		deviceName: deviceName,
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(b)
	}

	if b.registry == nil {
		b.registry = DefaultRegistry()
	}
	if b.pending == nil {
		b.pending = make([]Item, 0, defaultCapacity)
	}

	return b, nil
}

// DeviceName returns the (immutable) device name
func (b *Builder) DeviceName() string {
	return b.deviceName
}

// Registry returns the registry used for encoding
func (b *Builder) Registry() *Registry {
	return b.registry
}

// Reset discards all pending items, retaining the allocated storage
func (b *Builder) Reset() {
	b.pending = b.pending[:0]
}

// Len returns the number of pending items
func (b *Builder) Len() int {
	return len(b.pending)
}

// Items returns a copy of the pending items in insertion order
func (b *Builder) Items() []Item {
	items := make([]Item, len(b.pending))
	copy(items, b.pending)
	return items
}

// Add scales a reading according to its kind and appends it to the pending items
func (b *Builder) Add(kind Kind, raw float64) error {
	rule, err := b.registry.Lookup(kind)
	if err != nil {
		return err
	}

	scaled, err := rule.Scale(raw)
	if err != nil {
		return err
	}

	b.pending = append(b.pending, Item{Kind: kind, Value: scaled})
	return nil
}

// AddPacketID adds the rolling packet id
func (b *Builder) AddPacketID(id uint8) error {
	return b.Add(KindPacketID, float64(id))
}

// AddBattery adds a battery level in %
func (b *Builder) AddBattery(percent float64) error {
	return b.Add(KindBattery, percent)
}

// AddTemperature adds a temperature in °C
func (b *Builder) AddTemperature(celsius float64) error {
	return b.Add(KindTemperature, celsius)
}

// AddHumidity adds a relative humidity in %
func (b *Builder) AddHumidity(percent float64) error {
	return b.Add(KindHumidity, percent)
}

// AddPressure adds a pressure in hPa
func (b *Builder) AddPressure(hPa float64) error {
	return b.Add(KindPressure, hPa)
}

// AddIlluminance adds an illuminance in lux
func (b *Builder) AddIlluminance(lux float64) error {
	return b.Add(KindIlluminance, lux)
}

// AddCount adds a generic counter value
func (b *Builder) AddCount(n float64) error {
	return b.Add(KindCount, n)
}

// AddVoltage adds a voltage in V
func (b *Builder) AddVoltage(volts float64) error {
	return b.Add(KindVoltage, volts)
}

// AddBoolean adds a generic boolean flag
func (b *Builder) AddBoolean(v bool) error {
	if v {
		return b.Add(KindBoolean, 1)
	}
	return b.Add(KindBoolean, 0)
}

// AddCO2 adds a CO2 concentration in ppm
func (b *Builder) AddCO2(ppm float64) error {
	return b.Add(KindCO2, ppm)
}

// AddTVOC adds a volatile organic compound concentration in µg/m³
func (b *Builder) AddTVOC(ugm3 float64) error {
	return b.Add(KindTVOC, ugm3)
}

////////////////////////////////////////////////////////////////////////////////

func validateDeviceName(name string) error {
	if len(name) > MaxDeviceNameLength {
		return fmt.Errorf("%w: %q is %d bytes long, at most %d allowed", ErrInvalidDeviceName, name, len(name), MaxDeviceNameLength)
	}
	for i := 0; i < len(name); i++ {
		if name[i] < 0x20 || name[i] > 0x7E {
			return fmt.Errorf("%w: %q contains non-printable / non-ASCII byte 0x%02X", ErrInvalidDeviceName, name, name[i])
		}
	}
	return nil
}
