package bthome

import (
	"fmt"
)

const (
	deviceInfoEncrypted   = 0x01
	deviceInfoVersionMask = 0xE0
)

// Measurement denotes a decoded measurement
type Measurement struct {
	Kind     Kind    `json:"kind"`
	ObjectID byte    `json:"object_id"`
	Scaled   int64   `json:"scaled"`
	Value    float64 `json:"value"`
	Unit     string  `json:"unit,omitempty"`
}

// String returns a human readable representation of the measurement
func (m Measurement) String() string {
	return fmt.Sprintf("%s: %g%s", m.Kind, m.Value, m.Unit)
}

// Advertisement denotes a decoded advertising payload
type Advertisement struct {
	Name         string        `json:"name"`
	Measurements []Measurement `json:"measurements"`
}

// DecodeAdvertisement decodes an advertising payload as produced by Build (the
// flags structure may or may not be present)
func DecodeAdvertisement(payload []byte, reg *Registry) (Advertisement, error) {
	structures, err := SplitAD(payload)
	if err != nil {
		return Advertisement{}, err
	}

	var (
		adv   Advertisement
		found bool
	)
	for _, s := range structures {
		switch s.Type {
		case ADTypeCompleteName, ADTypeShortName:
			adv.Name = string(s.Data)
		case ADTypeServiceData16:
			if len(s.Data) < 2 || uint16(s.Data[0])|uint16(s.Data[1])<<8 != ServiceUUID {
				continue
			}
			if adv.Measurements, err = Decode(s.Data, reg); err != nil {
				return Advertisement{}, err
			}
			found = true
		}
	}
	if !found {
		return Advertisement{}, fmt.Errorf("%w: no BTHome service data found", ErrMalformed)
	}

	return adv, nil
}

// Decode decodes the value of a BTHome service data structure (UUID, device
// info and objects). Like a receiver, decoding stops silently at the first
// object id without registry entry
func Decode(serviceData []byte, reg *Registry) ([]Measurement, error) {
	if len(serviceData) < 3 {
		return nil, fmt.Errorf("%w: service data too short (%d bytes)", ErrMalformed, len(serviceData))
	}
	if uuid := uint16(serviceData[0]) | uint16(serviceData[1])<<8; uuid != ServiceUUID {
		return nil, fmt.Errorf("%w: unexpected service UUID 0x%04X", ErrMalformed, uuid)
	}

	info := serviceData[2]
	if info&deviceInfoEncrypted != 0 {
		return nil, fmt.Errorf("%w: encrypted payloads are not supported", ErrMalformed)
	}
	if info&deviceInfoVersionMask != DeviceInfo&deviceInfoVersionMask {
		return nil, fmt.Errorf("%w: unsupported BTHome version %d", ErrMalformed, info>>5)
	}

	var measurements []Measurement
	objects := serviceData[3:]
	for i := 0; i < len(objects); {
		rule, ok := reg.LookupObjectID(objects[i])
		if !ok {
			break
		}
		i++

		if i+rule.Width > len(objects) {
			return nil, fmt.Errorf("%w: object 0x%02X wants %d bytes, have %d", ErrMalformed, rule.ObjectID, rule.Width, len(objects)-i)
		}
		scaled := readLittleEndian(objects[i:i+rule.Width], rule.Signed)
		i += rule.Width

		measurements = append(measurements, Measurement{
			Kind:     rule.Kind,
			ObjectID: rule.ObjectID,
			Scaled:   scaled,
			Value:    rule.Value(scaled),
			Unit:     rule.Unit,
		})
	}

	return measurements, nil
}

func readLittleEndian(b []byte, signed bool) int64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}

	bits := uint(8 * len(b))
	if signed && v&(1<<(bits-1)) != 0 {
		return int64(v) - int64(1)<<bits
	}
	return int64(v)
}
