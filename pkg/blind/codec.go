package blind

import (
	"encoding/binary"
	"fmt"
)

// PositionSize is the wire size of a position value.
const PositionSize = 2

// EncodePosition renders a position as a 2-byte little-endian unsigned integer.
func EncodePosition(v uint16) []byte {
	buf := make([]byte, PositionSize)
	binary.LittleEndian.PutUint16(buf, v)
	return buf
}

// DecodePosition parses a payload read from the position characteristic.
func DecodePosition(data []byte) (uint16, error) {
	if len(data) != PositionSize {
		return 0, NewError(KindDecode, "decode_position",
			fmt.Errorf("expected %d bytes, got %d (% x)", PositionSize, len(data), data))
	}
	return binary.LittleEndian.Uint16(data), nil
}
