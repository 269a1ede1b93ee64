package gattadv

import (
	"github.com/fako1024/bthome/pkg/beacon"
	"github.com/fako1024/gatt"
)

// WithHCIDevice sets the HCI device id (-1 selects the first available device)
func WithHCIDevice(id int) func(*Advertiser) {
	return func(a *Advertiser) {
		a.hciDevice = id
	}
}

// WithFlags overrides the flags structure prepended to each payload
func WithFlags(flags byte) func(*Advertiser) {
	return func(a *Advertiser) {
		a.flags = flags
	}
}

// WithDevice sets the Bluetooth device
func WithDevice(btDevice gatt.Device) func(*Advertiser) {
	return func(a *Advertiser) {
		a.btDevice = btDevice
	}
}

// WithLogger sets a logger
func WithLogger(logger beacon.Logger) func(*Advertiser) {
	return func(a *Advertiser) {
		a.logger = logger
	}
}
