package models

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/lunixbochs/struc"
)

// StrucStream packs guest structures. Guests are little-endian x86, so a
// zero Order means binary.LittleEndian.
type StrucStream struct {
	Stream io.ReadWriter
	Order  binary.ByteOrder
}

func (s *StrucStream) order() binary.ByteOrder {
	if s.Order == nil {
		return binary.LittleEndian
	}
	return s.Order
}

func (s *StrucStream) Pack(i interface{}) error {
	return struc.PackWithOrder(s.Stream, i, s.order())
}

func (s *StrucStream) Unpack(i interface{}) error {
	return struc.UnpackWithOrder(s.Stream, i, s.order())
}

// Sizeof returns the packed size of a guest structure.
func Sizeof(i interface{}) int {
	n, err := struc.Sizeof(i)
	if err != nil {
		panic(err)
	}
	return n
}

// Pack serializes a guest structure into a new little-endian buffer.
func Pack(i interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := struc.PackWithOrder(&buf, i, binary.LittleEndian); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func Unpack(p []byte, i interface{}) error {
	return struc.UnpackWithOrder(bytes.NewReader(p), i, binary.LittleEndian)
}
