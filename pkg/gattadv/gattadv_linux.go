package gattadv

import "github.com/fako1024/gatt"

func deviceOptions(hciDevice int) []gatt.Option {
	return []gatt.Option{
		gatt.LnxMaxConnections(1),
		gatt.LnxDeviceID(hciDevice, true),
	}
}
