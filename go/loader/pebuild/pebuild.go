// Package pebuild assembles small 32-bit PE images in memory. It is used to
// produce test executables and the stand-in system DLL without shipping
// binaries.
package pebuild

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/lunixbochs/ntcorn/go/models"
)

const (
	fileAlign    = 0x200
	sectionAlign = 0x1000
	headerSize   = 0x400
	peOffset     = 0x80

	SCN_CODE  = 0x60000020 // code, execute, read
	SCN_DATA  = 0xc0000040 // initialized data, read, write
	SCN_RDATA = 0x40000040 // initialized data, read
)

type dosHeader struct {
	Magic  [2]byte
	Pad    [0x3a]byte
	Lfanew uint32
	Stub   [peOffset - 0x40]byte
}

type fileHeader struct {
	Signature            [4]byte
	Machine              uint16
	NumberOfSections     uint16
	TimeDateStamp        uint32
	PointerToSymbolTable uint32
	NumberOfSymbols      uint32
	SizeOfOptionalHeader uint16
	Characteristics      uint16
}

type optionalHeader32 struct {
	Magic                       uint16
	MajorLinkerVersion          uint8
	MinorLinkerVersion          uint8
	SizeOfCode                  uint32
	SizeOfInitializedData       uint32
	SizeOfUninitializedData     uint32
	AddressOfEntryPoint         uint32
	BaseOfCode                  uint32
	BaseOfData                  uint32
	ImageBase                   uint32
	SectionAlignment            uint32
	FileAlignment               uint32
	MajorOperatingSystemVersion uint16
	MinorOperatingSystemVersion uint16
	MajorImageVersion           uint16
	MinorImageVersion           uint16
	MajorSubsystemVersion       uint16
	MinorSubsystemVersion       uint16
	Win32VersionValue           uint32
	SizeOfImage                 uint32
	SizeOfHeaders               uint32
	CheckSum                    uint32
	Subsystem                   uint16
	DllCharacteristics          uint16
	SizeOfStackReserve          uint32
	SizeOfStackCommit           uint32
	SizeOfHeapReserve           uint32
	SizeOfHeapCommit            uint32
	LoaderFlags                 uint32
	NumberOfRvaAndSizes         uint32
	// virtual address and size pairs
	DataDirectory [32]uint32
}

type sectionHeader struct {
	Name                 [8]byte
	VirtualSize          uint32
	VirtualAddress       uint32
	SizeOfRawData        uint32
	PointerToRawData     uint32
	PointerToRelocations uint32
	PointerToLinenumbers uint32
	NumberOfRelocations  uint16
	NumberOfLinenumbers  uint16
	Characteristics      uint32
}

type exportDirectory struct {
	Characteristics       uint32
	TimeDateStamp         uint32
	MajorVersion          uint16
	MinorVersion          uint16
	Name                  uint32
	Base                  uint32
	NumberOfFunctions     uint32
	NumberOfNames         uint32
	AddressOfFunctions    uint32
	AddressOfNames        uint32
	AddressOfNameOrdinals uint32
}

type Section struct {
	Name            string
	Data            []byte
	Characteristics uint32
	// VirtualSize defaults to len(Data)
	VirtualSize uint32
}

// Builder describes an image. Sections are placed one section alignment
// apart starting at 0x1000, in the order they were added.
type Builder struct {
	ImageBase uint32
	Dll       bool
	DllName   string
	Subsystem uint16

	entrySection int
	entryOffset  uint32
	sections     []*Section
	exports      map[string]exportTarget
}

type exportTarget struct {
	section int
	offset  uint32
}

func New(base uint32) *Builder {
	return &Builder{ImageBase: base, Subsystem: 3, entrySection: -1}
}

// AddSection appends a section and returns its index.
func (b *Builder) AddSection(s Section) int {
	sec := s
	b.sections = append(b.sections, &sec)
	return len(b.sections) - 1
}

// SetEntry sets the entry point to an offset inside a section.
func (b *Builder) SetEntry(section int, offset uint32) {
	b.entrySection, b.entryOffset = section, offset
}

// Export names an offset inside a section.
func (b *Builder) Export(name string, section int, offset uint32) {
	if b.exports == nil {
		b.exports = make(map[string]exportTarget)
	}
	b.exports[name] = exportTarget{section, offset}
}

func align(n, a uint32) uint32 {
	return (n + a - 1) &^ (a - 1)
}

func (s *Section) vsize() uint32 {
	if s.VirtualSize != 0 {
		return s.VirtualSize
	}
	return uint32(len(s.Data))
}

// span is the address space a section occupies, at least one page.
func (s *Section) span() uint32 {
	n := s.vsize()
	if n == 0 {
		n = 1
	}
	return align(n, sectionAlign)
}

// RVA reports where a section will be placed.
func (b *Builder) RVA(section int) uint32 {
	rva := uint32(sectionAlign)
	for i, s := range b.sections {
		if i == section {
			return rva
		}
		rva += s.span()
	}
	return rva
}

func (b *Builder) exportSection(rva uint32) []byte {
	names := make([]string, 0, len(b.exports))
	for name := range b.exports {
		names = append(names, name)
	}
	sort.Strings(names)
	n := uint32(len(names))

	var dir exportDirectory
	dirSize := uint32(models.Sizeof(&dir))
	funcs := rva + dirSize
	namePtrs := funcs + n*4
	ords := namePtrs + n*4
	strs := ords + n*2

	var tail bytes.Buffer
	dllName := b.DllName
	if dllName == "" {
		dllName = "image.dll"
	}
	nameRVA := strs
	tail.WriteString(dllName + "\x00")

	fn := make([]uint32, n)
	np := make([]uint32, n)
	ord := make([]uint16, n)
	for i, name := range names {
		t := b.exports[name]
		fn[i] = b.RVA(t.section) + t.offset
		np[i] = strs + uint32(tail.Len())
		ord[i] = uint16(i)
		tail.WriteString(name + "\x00")
	}
	dir = exportDirectory{
		Name:                  nameRVA,
		Base:                  1,
		NumberOfFunctions:     n,
		NumberOfNames:         n,
		AddressOfFunctions:    funcs,
		AddressOfNames:        namePtrs,
		AddressOfNameOrdinals: ords,
	}
	p, err := models.Pack(&dir)
	if err != nil {
		panic(err)
	}
	out := bytes.NewBuffer(p)
	for _, v := range fn {
		binary.Write(out, binary.LittleEndian, v)
	}
	for _, v := range np {
		binary.Write(out, binary.LittleEndian, v)
	}
	binary.Write(out, binary.LittleEndian, ord)
	out.Write(tail.Bytes())
	return out.Bytes()
}

// Bytes serializes the image.
func (b *Builder) Bytes() []byte {
	sections := b.sections
	var exportVA, exportSize uint32
	if len(b.exports) > 0 {
		rva := b.RVA(len(b.sections))
		edata := &Section{Name: ".edata", Characteristics: SCN_RDATA}
		edata.Data = b.exportSection(rva)
		sections = append(append([]*Section(nil), sections...), edata)
		exportVA, exportSize = rva, uint32(len(edata.Data))
	}

	rva := uint32(sectionAlign)
	raw := uint32(headerSize)
	headers := make([]sectionHeader, len(sections))
	for i, s := range sections {
		h := &headers[i]
		copy(h.Name[:], s.Name)
		h.VirtualSize = s.vsize()
		h.VirtualAddress = rva
		h.SizeOfRawData = align(uint32(len(s.Data)), fileAlign)
		if len(s.Data) > 0 {
			h.PointerToRawData = raw
		}
		h.Characteristics = s.Characteristics
		raw += h.SizeOfRawData
		rva += s.span()
	}

	var dos dosHeader
	dos.Magic = [2]byte{'M', 'Z'}
	dos.Lfanew = peOffset
	var oh optionalHeader32
	fh := fileHeader{
		Signature:            [4]byte{'P', 'E', 0, 0},
		Machine:              0x14c,
		NumberOfSections:     uint16(len(sections)),
		SizeOfOptionalHeader: uint16(models.Sizeof(&oh)),
		Characteristics:      0x0102,
	}
	if b.Dll {
		fh.Characteristics |= 0x2000
	}
	var entry uint32
	if b.entrySection >= 0 {
		entry = b.RVA(b.entrySection) + b.entryOffset
	}
	oh = optionalHeader32{
		Magic:                       0x10b,
		AddressOfEntryPoint:         entry,
		ImageBase:                   b.ImageBase,
		SectionAlignment:            sectionAlign,
		FileAlignment:               fileAlign,
		MajorOperatingSystemVersion: 5,
		MajorSubsystemVersion:       5,
		SizeOfImage:                 rva,
		SizeOfHeaders:               headerSize,
		Subsystem:                   b.Subsystem,
		SizeOfStackReserve:          0x100000,
		SizeOfStackCommit:           0x1000,
		SizeOfHeapReserve:           0x100000,
		SizeOfHeapCommit:            0x1000,
		NumberOfRvaAndSizes:         16,
	}
	oh.DataDirectory[0], oh.DataDirectory[1] = exportVA, exportSize

	var out bytes.Buffer
	packed := []interface{}{&dos, &fh, &oh}
	for i := range headers {
		packed = append(packed, &headers[i])
	}
	for _, v := range packed {
		p, err := models.Pack(v)
		if err != nil {
			panic(err)
		}
		out.Write(p)
	}
	out.Write(make([]byte, headerSize-out.Len()))
	for i, s := range sections {
		out.Write(s.Data)
		out.Write(make([]byte, headers[i].SizeOfRawData-uint32(len(s.Data))))
	}
	return out.Bytes()
}
