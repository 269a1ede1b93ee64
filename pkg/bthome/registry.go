package bthome

import (
	"fmt"
	"math"
	"sort"
)

// Kind denotes a measurement kind (temperature, humidity, ...)
type Kind string

const (

	// KindPacketID denotes the rolling packet id used for de-duplication
	KindPacketID Kind = "packet_id"

	// KindBattery denotes a battery level in %
	KindBattery Kind = "battery"

	// KindTemperature denotes a temperature in °C
	KindTemperature Kind = "temperature"

	// KindHumidity denotes a relative humidity in %
	KindHumidity Kind = "humidity"

	// KindPressure denotes an atmospheric pressure in hPa
	KindPressure Kind = "pressure"

	// KindIlluminance denotes an illuminance in lux
	KindIlluminance Kind = "illuminance"

	// KindDewPoint denotes a dew point in °C
	KindDewPoint Kind = "dewpoint"

	// KindCount denotes a generic (small) counter
	KindCount Kind = "count"

	// KindVoltage denotes a voltage in V
	KindVoltage Kind = "voltage"

	// KindPM25 denotes a PM2.5 concentration in µg/m³
	KindPM25 Kind = "pm2.5"

	// KindPM10 denotes a PM10 concentration in µg/m³
	KindPM10 Kind = "pm10"

	// KindBoolean denotes a generic boolean flag
	KindBoolean Kind = "boolean"

	// KindCO2 denotes a CO2 concentration in ppm
	KindCO2 Kind = "co2"

	// KindTVOC denotes a volatile organic compound concentration in µg/m³
	KindTVOC Kind = "tvoc"

	// KindMoisture denotes a moisture level in %
	KindMoisture Kind = "moisture"
)

const (
	minWidth = 1
	maxWidth = 4
)

// Rule denotes how a measurement kind is encoded on the wire. Factor follows
// the protocol's object table: the wire value multiplied by Factor yields the
// physical reading
type Rule struct {
	Kind     Kind    `json:"kind"`
	ObjectID byte    `json:"object_id"`
	Width    int     `json:"width"`
	Signed   bool    `json:"signed"`
	Factor   float64 `json:"factor"`
	Unit     string  `json:"unit,omitempty"`
}

// Bounds returns the smallest and largest scaled value representable by the rule
func (r Rule) Bounds() (lo, hi int64) {
	bits := uint(8 * r.Width)
	if r.Signed {
		return -(int64(1) << (bits - 1)), int64(1)<<(bits-1) - 1
	}
	return 0, int64(1)<<bits - 1
}

// Scale converts a physical reading into its wire integer, rounding half away
// from zero
func (r Rule) Scale(raw float64) (int64, error) {
	lo, hi := r.Bounds()
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return 0, &RangeError{Kind: r.Kind, Raw: raw, Min: lo, Max: hi}
	}

	scaled := math.Round(raw / r.Factor)
	if scaled < float64(lo) || scaled > float64(hi) {
		value := int64(math.MaxInt64)
		if scaled < 0 {
			value = math.MinInt64
		}
		if math.Abs(scaled) < math.MaxInt64 {
			value = int64(scaled)
		}
		return 0, &RangeError{Kind: r.Kind, Raw: raw, Value: value, Min: lo, Max: hi}
	}

	return int64(scaled), nil
}

// Value converts a wire integer back into its physical reading
func (r Rule) Value(scaled int64) float64 {
	return float64(scaled) * r.Factor
}

func (r Rule) validate() error {
	if r.Kind == "" {
		return fmt.Errorf("%w: empty kind", ErrInvalidRule)
	}
	if r.Width < minWidth || r.Width > maxWidth {
		return fmt.Errorf("%w: %s has width %d, expected %d..%d", ErrInvalidRule, r.Kind, r.Width, minWidth, maxWidth)
	}
	if !(r.Factor > 0) || math.IsInf(r.Factor, 0) {
		return fmt.Errorf("%w: %s has factor %v", ErrInvalidRule, r.Kind, r.Factor)
	}
	return nil
}

var defaultRules = []Rule{
	{Kind: KindPacketID, ObjectID: 0x00, Width: 1, Factor: 1},
	{Kind: KindBattery, ObjectID: 0x01, Width: 1, Factor: 1, Unit: "%"},
	{Kind: KindTemperature, ObjectID: 0x02, Width: 2, Signed: true, Factor: 0.01, Unit: "°C"},
	{Kind: KindHumidity, ObjectID: 0x03, Width: 2, Factor: 0.01, Unit: "%"},
	{Kind: KindPressure, ObjectID: 0x04, Width: 3, Factor: 0.01, Unit: "hPa"},
	{Kind: KindIlluminance, ObjectID: 0x05, Width: 3, Factor: 0.01, Unit: "lx"},
	{Kind: KindDewPoint, ObjectID: 0x08, Width: 2, Signed: true, Factor: 0.01, Unit: "°C"},
	{Kind: KindCount, ObjectID: 0x09, Width: 1, Factor: 1},
	{Kind: KindVoltage, ObjectID: 0x0C, Width: 2, Factor: 0.001, Unit: "V"},
	{Kind: KindPM25, ObjectID: 0x0D, Width: 2, Factor: 1, Unit: "µg/m³"},
	{Kind: KindPM10, ObjectID: 0x0E, Width: 2, Factor: 1, Unit: "µg/m³"},
	{Kind: KindBoolean, ObjectID: 0x0F, Width: 1, Factor: 1},
	{Kind: KindCO2, ObjectID: 0x12, Width: 2, Factor: 1, Unit: "ppm"},
	{Kind: KindTVOC, ObjectID: 0x13, Width: 2, Factor: 1, Unit: "µg/m³"},
	{Kind: KindMoisture, ObjectID: 0x14, Width: 2, Factor: 0.01, Unit: "%"},
}

// Registry denotes the mapping from measurement kind to wire encoding
type Registry struct {
	rules map[Kind]Rule
	ids   map[byte]Kind
}

// NewRegistry instantiates a registry holding the given rules
func NewRegistry(rules ...Rule) (*Registry, error) {
	reg := &Registry{
		rules: make(map[Kind]Rule, len(rules)),
		ids:   make(map[byte]Kind, len(rules)),
	}
	for _, rule := range rules {
		if err := reg.Register(rule); err != nil {
			return nil, err
		}
	}

	return reg, nil
}

// DefaultRegistry returns a new registry populated with the standard object ids
func DefaultRegistry() *Registry {
	reg, err := NewRegistry(defaultRules...)
	if err != nil {
		panic(err)
	}
	return reg
}

// Register adds a rule to the registry
func (r *Registry) Register(rule Rule) error {
	if err := rule.validate(); err != nil {
		return err
	}
	if _, exists := r.rules[rule.Kind]; exists {
		return fmt.Errorf("%w: %s is already registered", ErrInvalidRule, rule.Kind)
	}

	r.rules[rule.Kind] = rule
	if _, exists := r.ids[rule.ObjectID]; !exists {
		r.ids[rule.ObjectID] = rule.Kind
	}
	return nil
}

// Lookup returns the rule for a kind, or an *UnknownKindError
func (r *Registry) Lookup(kind Kind) (Rule, error) {
	rule, ok := r.rules[kind]
	if !ok {
		return Rule{}, &UnknownKindError{Kind: kind}
	}
	return rule, nil
}

// LookupObjectID returns the rule registered first for an object id
func (r *Registry) LookupObjectID(id byte) (Rule, bool) {
	kind, ok := r.ids[id]
	if !ok {
		return Rule{}, false
	}
	return r.rules[kind], true
}

// Rules returns all rules ordered by object id (and kind for equal ids)
func (r *Registry) Rules() []Rule {
	rules := make([]Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		rules = append(rules, rule)
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].ObjectID != rules[j].ObjectID {
			return rules[i].ObjectID < rules[j].ObjectID
		}
		return rules[i].Kind < rules[j].Kind
	})

	return rules
}

// Len returns the number of registered kinds
func (r *Registry) Len() int {
	return len(r.rules)
}
