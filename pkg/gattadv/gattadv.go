package gattadv

import (
	"fmt"
	"sync"
	"time"

	"github.com/fako1024/bthome/pkg/beacon"
	"github.com/fako1024/bthome/pkg/bthome"
	"github.com/fako1024/gatt"
	"github.com/pkg/errors"
)

const (

	// LE General Discoverable Mode, BR/EDR not supported
	defaultFlags = 0x06

	defaultHCIDevice = -1

	btSettleDelay   = 50 * time.Millisecond
	btSettleRetries = 100
)

// ErrNotPoweredOn is returned if the HCI device does not reach the powered on state
var ErrNotPoweredOn = errors.New("bluetooth device is not powered on")

// Advertiser denotes a beacon.Advertiser broadcasting via a (Linux) HCI device
type Advertiser struct {
	sync.Mutex

	state     gatt.State
	hciDevice int
	flags     byte

	stateChangeHandler func(state gatt.State)

	btDevice gatt.Device

	logger beacon.Logger
}

// New instantiates a new Advertiser, executing functional options, if any
func New(options ...func(*Advertiser)) (*Advertiser, error) {

	// Initialize a new instance of an Advertiser
	a := &Advertiser{
		hciDevice: defaultHCIDevice,
		flags:     defaultFlags,
		logger:    &beacon.NullLogger{},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(a)
	}

	// Initialize a new GATT device (if not provided as option)
	if a.btDevice == nil {
		btDevice, err := gatt.NewDevice(deviceOptions(a.hciDevice)...)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open HCI device")
		}
		a.btDevice = btDevice
	}

	if err := a.btDevice.Init(a.onStateChanged); err != nil {
		return nil, errors.Wrap(err, "failed to initialize HCI device")
	}

	return a, nil
}

// SetStateChangeHandler defines a handler function that is called upon state change
func (a *Advertiser) SetStateChangeHandler(fn func(state gatt.State)) {
	a.Lock()
	defer a.Unlock()

	a.stateChangeHandler = fn
}

// State returns the current state of the HCI device
func (a *Advertiser) State() gatt.State {
	a.Lock()
	defer a.Unlock()

	return a.state
}

// Advertise starts broadcasting the payload, prepending the flags structure
func (a *Advertiser) Advertise(payload []byte) error {
	pkt, err := NewPacket(a.flags, payload)
	if err != nil {
		return err
	}

	if err := a.waitForState(gatt.StatePoweredOn); err != nil {
		return err
	}

	a.logger.Debugf("advertising packet % X", pkt.Bytes())
	return errors.Wrap(a.btDevice.Advertise(pkt), "failed to advertise")
}

// Stop stops broadcasting
func (a *Advertiser) Stop() error {
	return errors.Wrap(a.btDevice.StopAdvertising(), "failed to stop advertising")
}

// Close stops broadcasting and releases the HCI device
func (a *Advertiser) Close() error {
	if err := a.Stop(); err != nil {
		a.logger.Warnf("failed to stop advertising on close: %s", err)
	}
	return errors.Wrap(a.btDevice.RemoveAllServices(), "failed to release HCI device")
}

// NewPacket assembles a gatt advertising packet from the flags and the AD
// structures of a payload. Payloads that do not fit are rejected instead of
// being truncated
func NewPacket(flags byte, payload []byte) (*gatt.AdvPacket, error) {
	if err := bthome.CheckEnvelope(payload); err != nil {
		return nil, err
	}

	structures, err := bthome.SplitAD(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid advertising payload: %w", err)
	}

	pkt := &gatt.AdvPacket{}
	pkt.AppendFlags(flags)
	for _, s := range structures {
		pkt.AppendField(s.Type, s.Data)
	}

	return pkt, nil
}

////////////////////////////////////////////////////////////////////////////////

func (a *Advertiser) onStateChanged(d gatt.Device, s gatt.State) {
	a.Lock()
	a.state = s
	fn := a.stateChangeHandler
	a.Unlock()

	a.logger.Debugf("HCI device state changed to `%s`", s)
	if s != gatt.StatePoweredOn {
		if err := d.StopAdvertising(); err != nil {
			a.logger.Warnf("failed to stop advertising after state change: %s", err)
		}
	}

	// Call handler function, if any
	if fn != nil {
		fn(s)
	}
}

func (a *Advertiser) waitForState(targetState gatt.State) error {
	for i := 0; i < btSettleRetries; i++ {
		if a.State() == targetState {
			return nil
		}
		time.Sleep(btSettleDelay)
	}

	return errors.Wrapf(ErrNotPoweredOn, "target state %s was not reached within %v", targetState, time.Duration(btSettleRetries)*btSettleDelay)
}
