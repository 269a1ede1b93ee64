package bthome

import "fmt"

// ADStructure denotes a single advertising data structure (length, type, data)
type ADStructure struct {
	Type byte
	Data []byte
}

// Bytes returns the length-prefixed wire form of the structure
func (s ADStructure) Bytes() []byte {
	return AppendAD(make([]byte, 0, 2+len(s.Data)), s.Type, s.Data)
}

// AppendAD appends a length-prefixed AD structure to dst
func AppendAD(dst []byte, typ byte, data []byte) []byte {
	dst = append(dst, byte(len(data)+1), typ)
	return append(dst, data...)
}

// SplitAD splits an advertising payload into its AD structures
func SplitAD(payload []byte) ([]ADStructure, error) {
	var structures []ADStructure
	for i := 0; i < len(payload); {
		length := int(payload[i])

		// A zero length marks the (optional) padding at the end of a PDU
		if length == 0 {
			break
		}
		if i+length >= len(payload) {
			return nil, fmt.Errorf("%w: AD structure at offset %d wants %d bytes, have %d", ErrMalformed, i, length, len(payload)-i-1)
		}

		data := make([]byte, length-1)
		copy(data, payload[i+2:i+1+length])
		structures = append(structures, ADStructure{
			Type: payload[i+1],
			Data: data,
		})

		i += length + 1
	}

	return structures, nil
}
