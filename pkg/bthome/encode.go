package bthome

import (
	"fmt"
	"sort"
)

const (

	// ServiceUUID is the 16-bit service UUID assigned to BTHome
	ServiceUUID uint16 = 0xFCD2

	// DeviceInfo is the device information byte: unencrypted, BTHome version 2
	DeviceInfo byte = 0x40

	// LegacyAdvertisingCapacity is the size of a legacy advertising PDU payload
	LegacyAdvertisingCapacity = 31

	// FlagsOverhead is the size of the flags AD structure prepended by the radio stack
	FlagsOverhead = 3

	// AD types used by the assembler
	ADTypeFlags         byte = 0x01
	ADTypeShortName     byte = 0x08
	ADTypeCompleteName  byte = 0x09
	ADTypeServiceData16 byte = 0x16

	// AD type + UUID + device info
	serviceDataHeaderLen = 1 + 2 + 1

	maxADLength = 0xFF
)

// ServiceData encodes the pending items into a length-prefixed service data AD
// structure. Items are emitted in ascending object id order, items with equal
// object ids retain their insertion order. The pending items are not modified
func (b *Builder) ServiceData() ([]byte, error) {
	rules, sorted, err := b.sorted()
	if err != nil {
		return nil, err
	}

	length := serviceDataHeaderLen
	for i := range sorted {
		length += 1 + rules[i].Width
	}
	if length > maxADLength {
		return nil, fmt.Errorf("%w: service data length %d exceeds single AD structure", ErrCapacityExceeded, length)
	}

	data := make([]byte, 0, length+1)
	data = append(data, byte(length), ADTypeServiceData16, byte(ServiceUUID&0xFF), byte(ServiceUUID>>8), DeviceInfo)
	for i, item := range sorted {
		rule := rules[i]
		if lo, hi := rule.Bounds(); item.Value < lo || item.Value > hi {
			return nil, &RangeError{Kind: item.Kind, Raw: rule.Value(item.Value), Value: item.Value, Min: lo, Max: hi}
		}

		data = append(data, rule.ObjectID)
		data = appendLittleEndian(data, uint64(item.Value), rule.Width)
	}

	return data, nil
}

// Build assembles the advertising payload: the complete local name structure
// followed by the service data structure. The flags structure is left to the
// radio stack. On error no payload is returned
func (b *Builder) Build() ([]byte, error) {
	serviceData, err := b.ServiceData()
	if err != nil {
		return nil, err
	}

	payload := make([]byte, 0, 2+len(b.deviceName)+len(serviceData))
	payload = AppendAD(payload, ADTypeCompleteName, []byte(b.deviceName))
	return append(payload, serviceData...), nil
}

// EncodedLen returns the length of the payload Build would produce
func (b *Builder) EncodedLen() (int, error) {
	length := 2 + len(b.deviceName) + 1 + serviceDataHeaderLen
	for _, item := range b.pending {
		rule, err := b.registry.Lookup(item.Kind)
		if err != nil {
			return 0, err
		}
		length += 1 + rule.Width
	}

	return length, nil
}

// CheckEnvelope returns a *CapacityWarning if the payload, together with the
// flags structure, does not fit a legacy advertisement
func CheckEnvelope(payload []byte) error {
	if len(payload)+FlagsOverhead > LegacyAdvertisingCapacity {
		return &CapacityWarning{
			Length:   len(payload),
			Overhead: FlagsOverhead,
			Capacity: LegacyAdvertisingCapacity,
		}
	}
	return nil
}

////////////////////////////////////////////////////////////////////////////////

func (b *Builder) sorted() ([]Rule, []Item, error) {
	sorted := make([]Item, len(b.pending))
	copy(sorted, b.pending)

	ids := make(map[Kind]Rule, len(sorted))
	for _, item := range sorted {
		if _, ok := ids[item.Kind]; ok {
			continue
		}
		rule, err := b.registry.Lookup(item.Kind)
		if err != nil {
			return nil, nil, err
		}
		ids[item.Kind] = rule
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		return ids[sorted[i].Kind].ObjectID < ids[sorted[j].Kind].ObjectID
	})

	rules := make([]Rule, len(sorted))
	for i, item := range sorted {
		rules[i] = ids[item.Kind]
	}

	return rules, sorted, nil
}

func appendLittleEndian(dst []byte, v uint64, width int) []byte {
	for i := 0; i < width; i++ {
		dst = append(dst, byte(v>>(8*i)))
	}
	return dst
}
