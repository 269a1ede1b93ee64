package mock

import (
	"errors"
	"sync"
	"time"

	"github.com/fako1024/bthome/pkg/beacon"
	"github.com/fako1024/bthome/pkg/bthome"
	"github.com/fatih/stopwatch"
)

// ErrClosed is returned by mocks after Close() has been called
var ErrClosed = errors.New("mock device closed")

// Advertiser denotes a mock radio that records all advertised payloads
type Advertiser struct {
	sync.Mutex

	payloads      [][]byte
	isAdvertising bool
	isClosed      bool
	err           error

	timer *stopwatch.Stopwatch
}

// NewAdvertiser instantiates a new mock Advertiser
func NewAdvertiser() *Advertiser {
	return &Advertiser{}
}

// Advertise records the payload and marks the mock as advertising
func (a *Advertiser) Advertise(payload []byte) error {
	a.Lock()
	defer a.Unlock()

	if a.isClosed {
		return ErrClosed
	}
	if a.err != nil {
		return a.err
	}

	a.payloads = append(a.payloads, append([]byte(nil), payload...))
	a.isAdvertising = true
	if a.timer == nil {
		a.timer = stopwatch.Start(0)
	} else {
		a.timer.Start(0)
	}

	return nil
}

// Stop marks the mock as not advertising
func (a *Advertiser) Stop() error {
	a.Lock()
	defer a.Unlock()

	a.isAdvertising = false
	if a.timer != nil {
		a.timer.Stop()
	}

	return nil
}

// Close closes the mock, any further Advertise() call will fail
func (a *Advertiser) Close() error {
	a.Lock()
	defer a.Unlock()

	a.isClosed = true
	a.isAdvertising = false
	if a.timer != nil {
		a.timer.Stop()
	}

	return nil
}

// SetError makes all subsequent Advertise() calls fail with err (nil to reset)
func (a *Advertiser) SetError(err error) {
	a.Lock()
	defer a.Unlock()

	a.err = err
}

// Payloads returns all payloads advertised so far
func (a *Advertiser) Payloads() [][]byte {
	a.Lock()
	defer a.Unlock()

	payloads := make([][]byte, len(a.payloads))
	copy(payloads, a.payloads)
	return payloads
}

// IsAdvertising returns if the mock is currently advertising
func (a *Advertiser) IsAdvertising() bool {
	a.Lock()
	defer a.Unlock()

	return a.isAdvertising
}

// AdvertisingTime returns the accumulated time spent advertising
func (a *Advertiser) AdvertisingTime() time.Duration {
	a.Lock()
	defer a.Unlock()

	if a.timer != nil {
		return a.timer.ElapsedTime()
	}

	return 0
}

////////////////////////////////////////////////////////////////////////////////

// Sensor denotes a mock sensor returning preset readings
type Sensor struct {
	sync.Mutex

	readings beacon.Readings
	drift    map[bthome.Kind]float64
	err      error
	isClosed bool
}

// NewSensor instantiates a new mock Sensor returning the given readings
func NewSensor(readings ...beacon.Reading) *Sensor {
	return &Sensor{
		readings: readings,
		drift:    make(map[bthome.Kind]float64),
	}
}

// Read returns the current readings, applying the configured drift afterwards
func (s *Sensor) Read() ([]beacon.Reading, error) {
	s.Lock()
	defer s.Unlock()

	if s.isClosed {
		return nil, ErrClosed
	}
	if s.err != nil {
		return nil, s.err
	}

	readings := make([]beacon.Reading, len(s.readings))
	copy(readings, s.readings)
	for i := range s.readings {
		s.readings[i].Value += s.drift[s.readings[i].Kind]
	}

	return readings, nil
}

// SetReadings replaces the readings returned by subsequent Read() calls
func (s *Sensor) SetReadings(readings ...beacon.Reading) {
	s.Lock()
	defer s.Unlock()

	s.readings = readings
}

// SetDrift makes the reading of a kind change by delta after each Read()
func (s *Sensor) SetDrift(kind bthome.Kind, delta float64) {
	s.Lock()
	defer s.Unlock()

	s.drift[kind] = delta
}

// SetError makes all subsequent Read() calls fail with err (nil to reset)
func (s *Sensor) SetError(err error) {
	s.Lock()
	defer s.Unlock()

	s.err = err
}

// Close closes the mock, any further Read() call will fail
func (s *Sensor) Close() error {
	s.Lock()
	defer s.Unlock()

	s.isClosed = true
	return nil
}
