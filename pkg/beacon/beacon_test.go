package beacon_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/fako1024/bthome/pkg/beacon"
	"github.com/fako1024/bthome/pkg/bthome"
	"github.com/fako1024/bthome/pkg/mock"
)

func newTestBeacon(t *testing.T, name string, sensor *mock.Sensor, options ...func(*beacon.Beacon)) (*beacon.Beacon, *mock.Advertiser) {
	t.Helper()

	builder, err := bthome.New(name)
	if err != nil {
		t.Fatalf("failed to instantiate builder: %s", err)
	}
	adv := mock.NewAdvertiser()

	options = append([]func(*beacon.Beacon){beacon.WithAdvertiseWindow(0)}, options...)
	b, err := beacon.New(builder, adv, sensor, options...)
	if err != nil {
		t.Fatalf("failed to instantiate beacon: %s", err)
	}
	return b, adv
}

func TestInit(t *testing.T) {
	builder, err := bthome.New("HON")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := beacon.New(builder, nil, mock.NewSensor()); err == nil {
		t.Fatalf("instantiation without advertiser was unexpectedly successful")
	}
	if _, err := beacon.New(builder, mock.NewAdvertiser(), mock.NewSensor(), beacon.WithInterval(0)); err == nil {
		t.Fatalf("instantiation with zero interval was unexpectedly successful")
	}
	if _, err := beacon.New(builder, mock.NewAdvertiser(), mock.NewSensor(),
		beacon.WithInterval(time.Second), beacon.WithAdvertiseWindow(2*time.Second)); err == nil {
		t.Fatalf("instantiation with window exceeding interval was unexpectedly successful")
	}
}

func TestCycle(t *testing.T) {
	sensor := mock.NewSensor(
		beacon.Reading{Kind: bthome.KindHumidity, Value: 50.55},
		beacon.Reading{Kind: bthome.KindTemperature, Value: 25},
	)
	b, adv := newTestBeacon(t, "HON", sensor)

	var handled []beacon.Cycle
	b.SetCycleHandler(func(cycle beacon.Cycle) {
		handled = append(handled, cycle)
	})
	cycleChan := make(chan beacon.Cycle, 1)
	b.SetCycleChannel(cycleChan)

	cycle, err := b.Cycle(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	expected, _ := hex.DecodeString("0409484F4E0A16D2FC4002C40903BF13")
	if !bytes.Equal(cycle.Payload, expected) {
		t.Fatalf("unexpected payload: got % X, want % X", cycle.Payload, expected)
	}
	if payloads := adv.Payloads(); len(payloads) != 1 || !bytes.Equal(payloads[0], expected) {
		t.Fatalf("unexpected advertised payloads: % X", payloads)
	}
	if adv.IsAdvertising() {
		t.Fatalf("advertiser was not stopped after the window")
	}

	if len(handled) != 1 || handled[0].Sequence != 1 {
		t.Fatalf("cycle handler not called as expected: %v", handled)
	}
	select {
	case c := <-cycleChan:
		if !bytes.Equal(c.Payload, expected) {
			t.Fatalf("unexpected payload on channel: % X", c.Payload)
		}
	default:
		t.Fatalf("no cycle received on channel")
	}

	// A full channel must not block the next cycle
	cycleChan <- beacon.Cycle{}
	if _, err := b.Cycle(context.Background()); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	stats := b.Stats()
	if stats.Cycles != 2 || stats.Skipped != 0 || stats.DeviceName != "HON" || !bytes.Equal(stats.LastPayload, expected) {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestCyclePacketID(t *testing.T) {
	sensor := mock.NewSensor(beacon.Reading{Kind: bthome.KindTemperature, Value: 25})
	b, adv := newTestBeacon(t, "HON", sensor, beacon.WithPacketID(true))

	for i := 0; i < 3; i++ {
		if _, err := b.Cycle(context.Background()); err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
	}

	payloads := adv.Payloads()
	if len(payloads) != 3 {
		t.Fatalf("unexpected number of payloads: %d", len(payloads))
	}
	for i, payload := range payloads {
		adv, err := bthome.DecodeAdvertisement(payload, b.Registry())
		if err != nil {
			t.Fatalf("failed to decode payload % X: %s", payload, err)
		}
		if adv.Measurements[0].Kind != bthome.KindPacketID || adv.Measurements[0].Scaled != int64(i) {
			t.Fatalf("unexpected packet id in cycle %d: %v", i, adv.Measurements)
		}
	}
	if stats := b.Stats(); stats.PacketID != 3 {
		t.Fatalf("unexpected packet id in stats: %d", stats.PacketID)
	}
}

func TestCycleErrors(t *testing.T) {
	var tests = []struct {
		name     string
		device   string
		readings []beacon.Reading
		expected error
	}{
		{
			name:     "unknown kind",
			device:   "HON",
			readings: []beacon.Reading{{Kind: "radiation", Value: 1}},
			expected: bthome.ErrUnknownKind,
		},
		{
			name:     "out of range",
			device:   "HON",
			readings: []beacon.Reading{{Kind: bthome.KindHumidity, Value: -3}},
			expected: bthome.ErrRange,
		},
		{
			name:   "exceeding envelope",
			device: "DIY-sensor-livingroom",
			readings: []beacon.Reading{
				{Kind: bthome.KindTemperature, Value: 25},
				{Kind: bthome.KindHumidity, Value: 50.55},
			},
			expected: bthome.ErrCapacityExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, adv := newTestBeacon(t, tt.device, mock.NewSensor(tt.readings...))

			handlerCalled := false
			b.SetCycleHandler(func(beacon.Cycle) { handlerCalled = true })

			if _, err := b.Cycle(context.Background()); !errors.Is(err, tt.expected) {
				t.Fatalf("expected %v, got %v", tt.expected, err)
			}
			if len(adv.Payloads()) != 0 {
				t.Fatalf("skipped cycle was advertised")
			}
			if handlerCalled {
				t.Fatalf("cycle handler called for skipped cycle")
			}

			stats := b.Stats()
			if stats.Cycles != 1 || stats.Skipped != 1 || stats.LastError == "" {
				t.Fatalf("unexpected stats: %+v", stats)
			}
		})
	}
}

func TestCycleDriverErrors(t *testing.T) {
	errSensor := errors.New("i2c timeout")
	sensor := mock.NewSensor(beacon.Reading{Kind: bthome.KindTemperature, Value: 25})
	b, adv := newTestBeacon(t, "HON", sensor)

	sensor.SetError(errSensor)
	if _, err := b.Cycle(context.Background()); !errors.Is(err, errSensor) {
		t.Fatalf("expected sensor error, got %v", err)
	}
	sensor.SetError(nil)

	errRadio := errors.New("hci down")
	adv.SetError(errRadio)
	if _, err := b.Cycle(context.Background()); !errors.Is(err, errRadio) {
		t.Fatalf("expected advertiser error, got %v", err)
	}
	adv.SetError(nil)

	// Recovers once the drivers are back
	if _, err := b.Cycle(context.Background()); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if stats := b.Stats(); stats.Cycles != 3 || stats.Skipped != 2 || stats.LastError != "" {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestRun(t *testing.T) {
	sensor := mock.NewSensor(beacon.Reading{Kind: bthome.KindTemperature, Value: 20})
	sensor.SetDrift(bthome.KindTemperature, 0.5)
	b, adv := newTestBeacon(t, "HON", sensor,
		beacon.WithInterval(10*time.Millisecond),
		beacon.WithAdvertiseWindow(time.Millisecond),
	)

	cycleChan := make(chan beacon.Cycle, 16)
	b.SetCycleChannel(cycleChan)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- b.Run(ctx)
	}()

	for i := 0; i < 3; i++ {
		select {
		case <-cycleChan:
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for cycle %d", i)
		}
	}
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	payloads := adv.Payloads()
	if len(payloads) < 3 {
		t.Fatalf("unexpected number of payloads: %d", len(payloads))
	}
	if bytes.Equal(payloads[0], payloads[1]) {
		t.Fatalf("drifting readings produced identical payloads")
	}

	if err := b.Close(); err != nil {
		t.Fatalf("unexpected error closing beacon: %s", err)
	}
	if _, err := b.Cycle(context.Background()); !errors.Is(err, mock.ErrClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
}

type failingAdvertiser struct {
	*mock.Advertiser
	err error
}

func (a *failingAdvertiser) Close() error {
	_ = a.Advertiser.Close()
	return a.err
}

type failingSensor struct {
	*mock.Sensor
	err error
}

func (s *failingSensor) Close() error {
	_ = s.Sensor.Close()
	return s.err
}

func TestCloseErrors(t *testing.T) {
	errAdvertiser := errors.New("advertiser busy")
	errSensor := errors.New("sensor bus timeout")

	builder, err := bthome.New("HON")
	if err != nil {
		t.Fatal(err)
	}
	b, err := beacon.New(builder,
		&failingAdvertiser{Advertiser: mock.NewAdvertiser(), err: errAdvertiser},
		&failingSensor{Sensor: mock.NewSensor(), err: errSensor},
	)
	if err != nil {
		t.Fatalf("failed to instantiate beacon: %s", err)
	}

	err = b.Close()
	if !errors.Is(err, errAdvertiser) {
		t.Fatalf("advertiser close error was dropped: %v", err)
	}
	if !errors.Is(err, errSensor) {
		t.Fatalf("sensor close error was dropped: %v", err)
	}
}
