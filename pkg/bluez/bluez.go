// Package bluez provides a beacon.Advertiser based on tinygo.org/x/bluetooth,
// i.e. BlueZ (via D-Bus) on Linux or the SoftDevice / CYW43439 stacks when
// built with TinyGo. Unlike the raw HCI advertiser, these stacks do not accept
// raw advertising data, so the payload is split back into its local name and
// service data structures
package bluez

import (
	"fmt"
	"sync"
	"time"

	"github.com/fako1024/bthome/pkg/beacon"
	"github.com/fako1024/bthome/pkg/bthome"
	"github.com/pkg/errors"
	"tinygo.org/x/bluetooth"
)

const defaultInterval = 100 * time.Millisecond

type advertisement interface {
	Configure(options bluetooth.AdvertisementOptions) error
	Start() error
	Stop() error
}

// Advertiser denotes a beacon.Advertiser using the host / firmware BLE stack
type Advertiser struct {
	sync.Mutex

	adapter  *bluetooth.Adapter
	adv      advertisement
	interval time.Duration
	active   bool

	logger beacon.Logger
}

// New instantiates a new Advertiser, executing functional options, if any
func New(options ...func(*Advertiser)) (*Advertiser, error) {
	a := &Advertiser{
		interval: defaultInterval,
		logger:   &beacon.NullLogger{},
	}

	// Execute functional options (if any)
	for _, option := range options {
		option(a)
	}

	if a.adv == nil {
		if a.adapter == nil {
			a.adapter = bluetooth.DefaultAdapter
		}
		if err := a.adapter.Enable(); err != nil {
			return nil, errors.Wrap(err, "failed to enable bluetooth adapter")
		}
		a.adv = a.adapter.DefaultAdvertisement()
	}

	return a, nil
}

// WithAdapter sets the bluetooth adapter (bluetooth.DefaultAdapter otherwise)
func WithAdapter(adapter *bluetooth.Adapter) func(*Advertiser) {
	return func(a *Advertiser) {
		a.adapter = adapter
	}
}

// WithInterval sets the advertising interval
func WithInterval(interval time.Duration) func(*Advertiser) {
	return func(a *Advertiser) {
		a.interval = interval
	}
}

// WithLogger sets a logger
func WithLogger(logger beacon.Logger) func(*Advertiser) {
	return func(a *Advertiser) {
		a.logger = logger
	}
}

// Advertise (re-)configures the advertisement with the payload and starts it
func (a *Advertiser) Advertise(payload []byte) error {
	opts, err := Options(payload)
	if err != nil {
		return err
	}
	opts.Interval = bluetooth.NewDuration(a.interval)

	a.Lock()
	defer a.Unlock()

	// Some stacks refuse to reconfigure a running advertisement
	if a.active {
		if err := a.adv.Stop(); err != nil {
			a.logger.Warnf("failed to stop previous advertisement: %s", err)
		}
		a.active = false
	}

	if err := a.adv.Configure(opts); err != nil {
		return errors.Wrap(err, "failed to configure advertisement")
	}
	if err := a.adv.Start(); err != nil {
		return errors.Wrap(err, "failed to start advertisement")
	}
	a.active = true

	a.logger.Debugf("advertising `%s` with service data % X", opts.LocalName, opts.ServiceData[0].Data)
	return nil
}

// Stop stops broadcasting
func (a *Advertiser) Stop() error {
	a.Lock()
	defer a.Unlock()

	if !a.active {
		return nil
	}
	a.active = false

	return errors.Wrap(a.adv.Stop(), "failed to stop advertisement")
}

// Close stops broadcasting
func (a *Advertiser) Close() error {
	return a.Stop()
}

// Options translates an advertising payload into advertisement options
func Options(payload []byte) (bluetooth.AdvertisementOptions, error) {
	if err := bthome.CheckEnvelope(payload); err != nil {
		return bluetooth.AdvertisementOptions{}, err
	}

	structures, err := bthome.SplitAD(payload)
	if err != nil {
		return bluetooth.AdvertisementOptions{}, fmt.Errorf("invalid advertising payload: %w", err)
	}

	opts := bluetooth.AdvertisementOptions{
		AdvertisementType: bluetooth.AdvertisingTypeNonConnInd,
	}
	for _, s := range structures {
		switch s.Type {
		case bthome.ADTypeCompleteName:
			opts.LocalName = string(s.Data)
		case bthome.ADTypeServiceData16:
			if len(s.Data) < 2 {
				return bluetooth.AdvertisementOptions{}, fmt.Errorf("%w: service data without UUID", bthome.ErrMalformed)
			}
			opts.ServiceData = append(opts.ServiceData, bluetooth.ServiceDataElement{
				UUID: bluetooth.New16BitUUID(uint16(s.Data[0]) | uint16(s.Data[1])<<8),
				Data: s.Data[2:],
			})
		default:
			return bluetooth.AdvertisementOptions{}, fmt.Errorf("unsupported AD type 0x%02X", s.Type)
		}
	}
	if len(opts.ServiceData) == 0 {
		return bluetooth.AdvertisementOptions{}, fmt.Errorf("%w: no service data in payload", bthome.ErrMalformed)
	}

	return opts, nil
}
