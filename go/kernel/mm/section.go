package mm

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/lunixbochs/ntcorn/go/kernel/ob"
	"github.com/lunixbochs/ntcorn/go/loader"
	"github.com/lunixbochs/ntcorn/go/models"
)

// Section is a reference-counted block of memory that views map into
// address spaces. Its backing is anonymous host memory outside the Go heap,
// so the slice stays valid and at a fixed host address for the section's
// lifetime and native CPU backends can map it directly.
type Section struct {
	ob.Header
	Size    uint64
	Protect uint32
	// Image is set for SEC_IMAGE sections.
	Image *loader.Image

	backing []byte
}

func (s *Section) TypeName() string { return "Section" }

func allocBacking(size uint64) ([]byte, error) {
	p, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrap(models.STATUS_NO_MEMORY, err.Error())
	}
	return p, nil
}

// NewSection creates a zero-filled anonymous section.
func NewSection(size uint64, protect uint32) (*Section, error) {
	if size == 0 {
		return nil, errors.Wrap(models.STATUS_INVALID_PARAMETER, "zero section size")
	}
	if !ValidProtect(protect) {
		return nil, errors.WithStack(models.STATUS_INVALID_PAGE_PROTECTION)
	}
	size = pageUp(size)
	backing, err := allocBacking(size)
	if err != nil {
		return nil, err
	}
	return &Section{Size: size, Protect: protect, backing: backing}, nil
}

// NewImageSection lays a parsed PE image out in a fresh section.
func NewImageSection(img *loader.Image) (*Section, error) {
	size := pageUp(uint64(img.SizeOfImage))
	if size == 0 {
		return nil, errors.Wrap(models.STATUS_INVALID_IMAGE_FORMAT, "empty image")
	}
	backing, err := allocBacking(size)
	if err != nil {
		return nil, err
	}
	if err := img.Layout(backing); err != nil {
		unix.Munmap(backing)
		return nil, errors.Wrap(models.STATUS_INVALID_IMAGE_FORMAT, err.Error())
	}
	return &Section{Size: size, Protect: PAGE_EXECUTE_WRITECOPY, Image: img, backing: backing}, nil
}

// Data is the kernel-side view of the section contents.
func (s *Section) Data() []byte {
	return s.backing
}

func (s *Section) Destroy() {
	if s.backing != nil {
		unix.Munmap(s.backing)
		s.backing = nil
	}
}

// pageProtect is the initial protection of a page of a view.
func (s *Section) pageProtect(offset uint64, viewProtect uint32) uint32 {
	if s.Image == nil {
		return viewProtect
	}
	if offset < pageUp(uint64(s.Image.SizeOfHeaders)) {
		return PAGE_READONLY
	}
	for i := range s.Image.Sections {
		sec := &s.Image.Sections[i]
		start := uint64(sec.VirtualAddress)
		if offset >= start && offset < start+pageUp(uint64(sec.VirtualSize)) {
			return PageProt(sec.Prot())
		}
	}
	return PAGE_NOACCESS
}

// NewFileImageSection parses an open file as a PE image.
func NewFileImageSection(f *ob.File) (*Section, error) {
	if f.F == nil || f.Dir {
		return nil, errors.Wrapf(models.STATUS_INVALID_IMAGE_FORMAT, "%s is not a file", f.Path)
	}
	img, err := loader.Load(f.F)
	if err != nil {
		return nil, err
	}
	return NewImageSection(img)
}
