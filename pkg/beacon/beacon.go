package beacon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fako1024/bthome/pkg/bthome"
	"github.com/fatih/stopwatch"
)

const (
	defaultInterval        = 10 * time.Second
	defaultAdvertiseWindow = time.Second
)

// Beacon denotes the control loop tying a sensor to an advertiser: once per
// interval it takes a set of readings, encodes them and advertises the result
// for the configured window
type Beacon struct {
	builder    *bthome.Builder
	advertiser Advertiser
	sensor     Sensor

	interval        time.Duration
	advertiseWindow time.Duration
	withPacketID    bool

	cycleMu  sync.Mutex
	packetID uint8

	statsMu sync.Mutex
	stats   Stats
	uptime  *stopwatch.Stopwatch

	cycleHandler func(cycle Cycle)
	cycleChan    chan Cycle

	logger Logger
}

// New instantiates a new Beacon, executing functional options, if any
func New(builder *bthome.Builder, advertiser Advertiser, sensor Sensor, options ...func(*Beacon)) (*Beacon, error) {
	if builder == nil || advertiser == nil || sensor == nil {
		return nil, errors.New("builder, advertiser and sensor are required")
	}

	b := &Beacon{
		builder:         builder,
		advertiser:      advertiser,
		sensor:          sensor,
		interval:        defaultInterval,
		advertiseWindow: defaultAdvertiseWindow,
		logger:          &NullLogger{},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(b)
	}

	if b.interval <= 0 {
		return nil, fmt.Errorf("invalid cycle interval: %v", b.interval)
	}
	if b.advertiseWindow < 0 || b.advertiseWindow > b.interval {
		return nil, fmt.Errorf("invalid advertising window %v (interval %v)", b.advertiseWindow, b.interval)
	}

	b.stats.DeviceName = builder.DeviceName()
	b.uptime = stopwatch.Start(0)

	return b, nil
}

// SetCycleHandler defines a handler function that is called upon completion of a cycle
func (b *Beacon) SetCycleHandler(fn func(cycle Cycle)) {
	b.cycleHandler = fn
}

// SetCycleChannel defines a channel that receives completed cycles (if not full)
func (b *Beacon) SetCycleChannel(ch chan Cycle) {
	b.cycleChan = ch
}

// Registry returns the registry used for encoding
func (b *Beacon) Registry() *bthome.Registry {
	return b.builder.Registry()
}

// Stats returns the current beacon statistics
func (b *Beacon) Stats() Stats {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()

	stats := b.stats
	stats.LastPayload = append([]byte(nil), b.stats.LastPayload...)
	stats.Uptime = b.uptime.ElapsedTime()

	return stats
}

// Run executes cycles until the context is done
func (b *Beacon) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	b.logger.Infof("starting beacon `%s` (interval %v, advertising window %v)", b.builder.DeviceName(), b.interval, b.advertiseWindow)
	for {

		// Errors are logged and counted, the next cycle starts regardless
		_, _ = b.Cycle(ctx)

		select {
		case <-ctx.Done():
			b.logger.Infof("stopping beacon `%s`", b.builder.DeviceName())
			return nil
		case <-ticker.C:
		}
	}
}

// Cycle executes a single advertising cycle. Encoding errors and payloads
// exceeding the advertising envelope skip the cycle without advertising
func (b *Beacon) Cycle(ctx context.Context) (Cycle, error) {
	b.cycleMu.Lock()
	defer b.cycleMu.Unlock()

	start := time.Now()
	cycle, err := b.cycle(ctx)
	cycle.TimeStamp = start
	cycle.Duration = time.Since(start)

	b.statsMu.Lock()
	b.stats.Cycles++
	cycle.Sequence = b.stats.Cycles
	if err != nil {
		b.stats.Skipped++
		b.stats.LastError = err.Error()
	} else {
		b.stats.LastCycle = start
		b.stats.LastPayload = cycle.Payload
		b.stats.LastError = ""
		b.stats.PacketID = b.packetID
	}
	b.statsMu.Unlock()

	if err != nil {
		if errors.Is(err, bthome.ErrCapacityExceeded) {
			b.logger.Warnf("skipping cycle %d: %s", cycle.Sequence, err)
		} else {
			b.logger.Errorf("skipping cycle %d: %s", cycle.Sequence, err)
		}
		return cycle, err
	}

	b.logger.Debugf("completed cycle %d: payload % X (%d bytes)", cycle.Sequence, cycle.Payload, len(cycle.Payload))
	b.notify(cycle)

	return cycle, nil
}

// Close releases the advertiser and the sensor
func (b *Beacon) Close() error {
	b.uptime.Stop()

	return errors.Join(b.advertiser.Close(), b.sensor.Close())
}

////////////////////////////////////////////////////////////////////////////////

func (b *Beacon) cycle(ctx context.Context) (cycle Cycle, err error) {
	readings, err := b.sensor.Read()
	if err != nil {
		return cycle, fmt.Errorf("failed to read sensor: %w", err)
	}
	cycle.Readings = readings

	b.builder.Reset()
	if b.withPacketID {
		if err = b.builder.AddPacketID(b.packetID); err != nil {
			return cycle, err
		}
	}
	for _, reading := range readings {
		if err = b.builder.Add(reading.Kind, reading.Value); err != nil {
			return cycle, fmt.Errorf("failed to add %s reading: %w", reading.Kind, err)
		}
	}

	payload, err := b.builder.Build()
	if err != nil {
		return cycle, fmt.Errorf("failed to build payload: %w", err)
	}
	if err = bthome.CheckEnvelope(payload); err != nil {
		return cycle, err
	}
	cycle.Payload = payload

	if err = b.advertiser.Advertise(payload); err != nil {
		return cycle, fmt.Errorf("failed to advertise: %w", err)
	}
	b.packetID++

	if b.advertiseWindow > 0 {
		timer := time.NewTimer(b.advertiseWindow)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}

	if serr := b.advertiser.Stop(); serr != nil {
		b.logger.Warnf("failed to stop advertising: %s", serr)
	}

	return cycle, nil
}

func (b *Beacon) notify(cycle Cycle) {

	// Call handler function, if any
	if b.cycleHandler != nil {
		b.cycleHandler(cycle)
	}

	// Put cycle on channel, if any
	if b.cycleChan != nil {
		select {
		case b.cycleChan <- cycle:
		default:
		}
	}
}
