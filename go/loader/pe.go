package loader

import (
	"bytes"
	"io"
	"io/ioutil"

	"github.com/Binject/debug/pe"
	"github.com/pkg/errors"

	"github.com/lunixbochs/ntcorn/go/models"
	"github.com/lunixbochs/ntcorn/go/models/cpu"
)

const (
	IMAGE_SCN_CNT_UNINITIALIZED_DATA = 0x00000080
	IMAGE_SCN_MEM_EXECUTE            = 0x20000000
	IMAGE_SCN_MEM_READ               = 0x40000000
	IMAGE_SCN_MEM_WRITE              = 0x80000000

	IMAGE_FILE_DLL = 0x2000
)

var peMagic = []byte{'M', 'Z'}

// MatchPE reports whether r starts with a DOS header.
func MatchPE(r io.ReaderAt) bool {
	magic := make([]byte, len(peMagic))
	if _, err := r.ReadAt(magic, 0); err != nil {
		return false
	}
	return bytes.Equal(magic, peMagic)
}

type Section struct {
	Name            string
	VirtualAddress  uint32
	VirtualSize     uint32
	Characteristics uint32
	Data            []byte
}

// Prot converts the section characteristics to page protections.
func (s *Section) Prot() int {
	prot := 0
	if s.Characteristics&IMAGE_SCN_MEM_READ != 0 {
		prot |= cpu.PROT_READ
	}
	if s.Characteristics&IMAGE_SCN_MEM_WRITE != 0 {
		prot |= cpu.PROT_WRITE
	}
	if s.Characteristics&IMAGE_SCN_MEM_EXECUTE != 0 {
		prot |= cpu.PROT_EXEC
	}
	return prot
}

type Export struct {
	Name string
	RVA  uint32
}

// Image is a parsed 32-bit PE file, ready to be laid out in memory.
type Image struct {
	ImageBase     uint32
	EntryRVA      uint32
	SizeOfImage   uint32
	SizeOfHeaders uint32
	StackReserve  uint32
	StackCommit   uint32
	Subsystem     uint16
	Dll           bool

	Headers  []byte
	Sections []Section
	Exports  []Export
}

func LoadFile(path string) (*Image, error) {
	p, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "ioutil.ReadFile() failed")
	}
	return Load(bytes.NewReader(p))
}

// Load parses a PE image. Malformed files fail with a Status so callers can
// hand the error straight back to the guest.
func Load(r io.ReaderAt) (*Image, error) {
	if !MatchPE(r) {
		return nil, errors.WithStack(models.STATUS_INVALID_IMAGE_NOT_MZ)
	}
	file, err := pe.NewFile(r)
	if err != nil {
		return nil, errors.Wrap(models.STATUS_INVALID_IMAGE_FORMAT, err.Error())
	}
	defer file.Close()
	oh, ok := file.OptionalHeader.(*pe.OptionalHeader32)
	if !ok {
		return nil, errors.Wrap(models.STATUS_INVALID_IMAGE_FORMAT, "not a 32-bit image")
	}
	img := &Image{
		ImageBase:     oh.ImageBase,
		EntryRVA:      oh.AddressOfEntryPoint,
		SizeOfImage:   oh.SizeOfImage,
		SizeOfHeaders: oh.SizeOfHeaders,
		StackReserve:  oh.SizeOfStackReserve,
		StackCommit:   oh.SizeOfStackCommit,
		Subsystem:     oh.Subsystem,
		Dll:           file.FileHeader.Characteristics&IMAGE_FILE_DLL != 0,
	}
	if img.SizeOfHeaders > img.SizeOfImage {
		return nil, errors.Wrap(models.STATUS_INVALID_IMAGE_FORMAT, "headers larger than image")
	}
	img.Headers = make([]byte, img.SizeOfHeaders)
	if n, err := r.ReadAt(img.Headers, 0); err != nil && n < len(img.Headers) {
		return nil, errors.Wrap(models.STATUS_INVALID_IMAGE_FORMAT, "short header read")
	}
	for _, s := range file.Sections {
		data, err := s.Data()
		if err != nil {
			return nil, errors.Wrapf(models.STATUS_INVALID_IMAGE_FORMAT, "section %s: %v", s.Name, err)
		}
		vsize := s.VirtualSize
		if vsize == 0 {
			vsize = s.Size
		}
		if uint64(s.VirtualAddress)+uint64(vsize) > uint64(img.SizeOfImage) {
			return nil, errors.Wrapf(models.STATUS_INVALID_IMAGE_FORMAT, "section %s outside image", s.Name)
		}
		if s.Characteristics&IMAGE_SCN_CNT_UNINITIALIZED_DATA != 0 {
			data = nil
		}
		img.Sections = append(img.Sections, Section{
			Name:            s.Name,
			VirtualAddress:  s.VirtualAddress,
			VirtualSize:     vsize,
			Characteristics: s.Characteristics,
			Data:            data,
		})
	}
	exports, err := file.Exports()
	if err != nil {
		return nil, errors.Wrap(models.STATUS_INVALID_IMAGE_FORMAT, err.Error())
	}
	for _, e := range exports {
		img.Exports = append(img.Exports, Export{Name: e.Name, RVA: e.VirtualAddress})
	}
	return img, nil
}

func (img *Image) Entry() uint32 {
	return img.ImageBase + img.EntryRVA
}

// Export returns the RVA of a named export.
func (img *Image) Export(name string) (uint32, bool) {
	for _, e := range img.Exports {
		if e.Name == name {
			return e.RVA, true
		}
	}
	return 0, false
}

// Layout copies the headers and sections to their virtual offsets in dst,
// which must hold at least SizeOfImage bytes.
func (img *Image) Layout(dst []byte) error {
	if uint64(len(dst)) < uint64(img.SizeOfImage) {
		return errors.Errorf("layout buffer too small: %#x < %#x", len(dst), img.SizeOfImage)
	}
	copy(dst, img.Headers)
	for _, s := range img.Sections {
		data := s.Data
		if uint32(len(data)) > s.VirtualSize {
			data = data[:s.VirtualSize]
		}
		copy(dst[s.VirtualAddress:], data)
	}
	return nil
}
