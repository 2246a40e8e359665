package common

import (
	"github.com/pkg/errors"

	"github.com/lunixbochs/ntcorn/go/models"
)

type (
	Buf struct {
		Addr uint64
		K    *KernelBase
	}
	// Obuf is an output pointer. Only its address is traced.
	Obuf   struct{ Buf }
	Len    uint64
	Ptr    uint64
	Handle uint32
	// UnicodeString is read through a guest UNICODE_STRING pointer.
	UnicodeString string
)

// UNICODE_STRING
type UnicodeStringHeader struct {
	Length        uint16
	MaximumLength uint16
	Buffer        uint32
}

// OBJECT_ATTRIBUTES
type ObjectAttributesHeader struct {
	Length                   uint32
	RootDirectory            uint32
	ObjectName               uint32
	Attributes               uint32
	SecurityDescriptor       uint32
	SecurityQualityOfService uint32
}

const OBJ_CASE_INSENSITIVE = 0x40

// ObjectAttributes is the decoded form of an OBJECT_ATTRIBUTES argument. A
// null pointer decodes to the zero value.
type ObjectAttributes struct {
	Addr          uint64
	RootDirectory Handle
	Name          string
	Attributes    uint32
}

func NewBuf(k Kernel, addr uint64) Buf {
	return Buf{K: k.Base(), Addr: addr}
}

func (b Buf) Struc() *models.StrucStream {
	return models.StrucAt(b.K.Mem, b.Addr)
}

func (b Buf) Pack(i interface{}) error {
	if err := b.Struc().Pack(i); err != nil {
		return errors.Wrap(models.STATUS_ACCESS_VIOLATION, err.Error())
	}
	return nil
}

func (b Buf) Unpack(i interface{}) error {
	if err := b.Struc().Unpack(i); err != nil {
		return errors.Wrap(models.STATUS_ACCESS_VIOLATION, err.Error())
	}
	return nil
}

func (b Buf) Uint32() (uint32, error) {
	v, err := models.ReadUint32(b.K.Mem, b.Addr)
	if err != nil {
		return 0, errors.Wrap(models.STATUS_ACCESS_VIOLATION, err.Error())
	}
	return v, nil
}

func (b Buf) PutUint32(v uint32) error {
	if err := models.WriteUint32(b.K.Mem, b.Addr, v); err != nil {
		return errors.Wrap(models.STATUS_ACCESS_VIOLATION, err.Error())
	}
	return nil
}

func (b Buf) Write(p []byte) error {
	if err := b.K.Mem.MemWrite(b.Addr, p); err != nil {
		return errors.Wrap(models.STATUS_ACCESS_VIOLATION, err.Error())
	}
	return nil
}

func (b Buf) Read(size uint64) ([]byte, error) {
	p := make([]byte, size)
	if err := b.K.Mem.MemReadInto(p, b.Addr); err != nil {
		return nil, errors.Wrap(models.STATUS_ACCESS_VIOLATION, err.Error())
	}
	return p, nil
}

func (b Buf) Null() bool {
	return b.Addr == 0
}

// ReadUnicodeString decodes the UNICODE_STRING at addr.
func ReadUnicodeString(mem models.Memory, addr uint64) (string, error) {
	var us UnicodeStringHeader
	if err := models.StrucAt(mem, addr).Unpack(&us); err != nil {
		return "", errors.Wrap(models.STATUS_ACCESS_VIOLATION, err.Error())
	}
	s, err := models.ReadStringW(mem, uint64(us.Buffer), uint64(us.Length))
	if err != nil {
		return "", errors.Wrap(models.STATUS_ACCESS_VIOLATION, err.Error())
	}
	return s, nil
}

func ReadObjectAttributes(mem models.Memory, addr uint64) (*ObjectAttributes, error) {
	oa := &ObjectAttributes{Addr: addr}
	if addr == 0 {
		return oa, nil
	}
	var hdr ObjectAttributesHeader
	if err := models.StrucAt(mem, addr).Unpack(&hdr); err != nil {
		return nil, errors.Wrap(models.STATUS_ACCESS_VIOLATION, err.Error())
	}
	oa.RootDirectory = Handle(hdr.RootDirectory)
	oa.Attributes = hdr.Attributes
	if hdr.ObjectName != 0 {
		name, err := ReadUnicodeString(mem, uint64(hdr.ObjectName))
		if err != nil {
			return nil, err
		}
		oa.Name = name
	}
	return oa, nil
}
