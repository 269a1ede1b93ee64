package beacon

import (
	"time"

	"github.com/fako1024/bthome/pkg/bthome"
)

// Advertiser denotes the radio stack broadcasting an advertising payload. The
// implementation is expected to prepend the flags structure
type Advertiser interface {

	// Advertise starts broadcasting the given payload (replacing any previous one)
	Advertise(payload []byte) error

	// Stop stops broadcasting
	Stop() error

	// Close releases the radio
	Close() error
}

// Sensor denotes a driver providing calibrated readings in physical units
type Sensor interface {

	// Read returns one reading per measured quantity
	Read() ([]Reading, error)

	// Close releases the sensor
	Close() error
}

// Reading denotes a single sensor reading in physical units
type Reading struct {
	Kind  bthome.Kind `json:"kind"`
	Value float64     `json:"value"`
}

// Readings denotes the set of readings taken during one cycle
type Readings []Reading

// Cycle denotes a completed advertising cycle
type Cycle struct {
	Sequence  uint64        `json:"sequence"`
	TimeStamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
	Readings  Readings      `json:"readings"`
	Payload   []byte        `json:"payload"`
}

// Stats denotes the current state of a beacon
type Stats struct {
	DeviceName  string        `json:"device_name"`
	Cycles      uint64        `json:"cycles"`
	Skipped     uint64        `json:"skipped"`
	LastCycle   time.Time     `json:"last_cycle"`
	LastPayload []byte        `json:"last_payload"`
	LastError   string        `json:"last_error,omitempty"`
	PacketID    uint8         `json:"packet_id"`
	Uptime      time.Duration `json:"uptime"`
}
