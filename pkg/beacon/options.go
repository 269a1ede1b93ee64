package beacon

import "time"

// WithInterval sets the time between the start of two cycles
func WithInterval(interval time.Duration) func(*Beacon) {
	return func(b *Beacon) {
		b.interval = interval
	}
}

// WithAdvertiseWindow sets for how long each payload is advertised
func WithAdvertiseWindow(window time.Duration) func(*Beacon) {
	return func(b *Beacon) {
		b.advertiseWindow = window
	}
}

// WithPacketID enables a rolling packet id, allowing receivers to discard
// repeated advertisements of the same cycle
func WithPacketID(enabled bool) func(*Beacon) {
	return func(b *Beacon) {
		b.withPacketID = enabled
	}
}

// WithLogger sets a logger
func WithLogger(logger Logger) func(*Beacon) {
	return func(b *Beacon) {
		b.logger = logger
	}
}
