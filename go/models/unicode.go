package models

import (
	"encoding/binary"
	"unicode/utf16"
)

// EncodeUTF16 returns s as little-endian UTF-16 without a terminator.
func EncodeUTF16(s string) []byte {
	w := utf16.Encode([]rune(s))
	p := make([]byte, len(w)*2)
	for i, c := range w {
		binary.LittleEndian.PutUint16(p[i*2:], c)
	}
	return p
}

// DecodeUTF16 decodes little-endian UTF-16, stopping at the first NUL.
func DecodeUTF16(p []byte) string {
	w := make([]uint16, 0, len(p)/2)
	for i := 0; i+1 < len(p); i += 2 {
		c := binary.LittleEndian.Uint16(p[i:])
		if c == 0 {
			break
		}
		w = append(w, c)
	}
	return string(utf16.Decode(w))
}
