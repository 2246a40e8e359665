package nt

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/lunixbochs/ntcorn/go/kernel/common"
	"github.com/lunixbochs/ntcorn/go/kernel/mm"
	"github.com/lunixbochs/ntcorn/go/kernel/ob"
	"github.com/lunixbochs/ntcorn/go/models"
)

const (
	MemoryBasicInformation = 0

	memoryBasicInformationSize = 28
)

func pageDown(addr uint64) uint64 { return addr &^ (mm.PAGE_SIZE - 1) }
func pageUp(addr uint64) uint64   { return pageDown(addr + mm.PAGE_SIZE - 1) }

func (k *Kernel) NtAllocateVirtualMemory(process common.Handle, baseAddr common.Buf, zeroBits uint32, sizeAddr common.Buf, allocType, protect uint32) models.Status {
	p, err := k.processArg(process)
	if err != nil {
		return k.fail(err)
	}
	addr, err := baseAddr.Uint32()
	if err != nil {
		return k.fail(err)
	}
	size, err := sizeAddr.Uint32()
	if err != nil {
		return k.fail(err)
	}
	base, n, err := p.Space.Allocate(uint64(addr), uint64(size), allocType, protect)
	if err != nil {
		return k.fail(err)
	}
	k.Config.Debugf("allocated %08x-%08x\n", base, base+n)
	if err := baseAddr.PutUint32(uint32(base)); err != nil {
		return k.fail(err)
	}
	return k.fail(sizeAddr.PutUint32(uint32(n)))
}

func (k *Kernel) NtFreeVirtualMemory(process common.Handle, baseAddr common.Buf, sizeAddr common.Buf, freeType uint32) models.Status {
	p, err := k.processArg(process)
	if err != nil {
		return k.fail(err)
	}
	addr, err := baseAddr.Uint32()
	if err != nil {
		return k.fail(err)
	}
	size, err := sizeAddr.Uint32()
	if err != nil {
		return k.fail(err)
	}
	base, n, err := p.Space.Free(uint64(addr), uint64(size), freeType)
	if err != nil {
		return k.fail(err)
	}
	if err := baseAddr.PutUint32(uint32(base)); err != nil {
		return k.fail(err)
	}
	return k.fail(sizeAddr.PutUint32(uint32(n)))
}

func (k *Kernel) NtProtectVirtualMemory(process common.Handle, baseAddr common.Buf, sizeAddr common.Buf, protect uint32, oldProtect common.Obuf) models.Status {
	p, err := k.processArg(process)
	if err != nil {
		return k.fail(err)
	}
	addr, err := baseAddr.Uint32()
	if err != nil {
		return k.fail(err)
	}
	size, err := sizeAddr.Uint32()
	if err != nil {
		return k.fail(err)
	}
	start, end := pageDown(uint64(addr)), pageUp(uint64(addr)+uint64(size))
	old, err := p.Space.Protect(start, end-start, protect)
	if err != nil {
		return k.fail(err)
	}
	if err := oldProtect.PutUint32(old); err != nil {
		return k.fail(err)
	}
	if err := baseAddr.PutUint32(uint32(start)); err != nil {
		return k.fail(err)
	}
	return k.fail(sizeAddr.PutUint32(uint32(end - start)))
}

func (k *Kernel) NtQueryVirtualMemory(process common.Handle, addr uint32, class uint32, buf common.Obuf, length common.Len, retLen common.Obuf) models.Status {
	if class != MemoryBasicInformation {
		k.Config.Debugf("NtQueryVirtualMemory: unknown class %d\n", class)
		return models.STATUS_INVALID_INFO_CLASS
	}
	if length < memoryBasicInformationSize {
		return models.STATUS_INFO_LENGTH_MISMATCH
	}
	p, err := k.processArg(process)
	if err != nil {
		return k.fail(err)
	}
	info, err := p.Space.Query(uint64(addr))
	if err != nil {
		return k.fail(err)
	}
	if err := buf.Pack(&info); err != nil {
		return k.fail(err)
	}
	if !retLen.Null() {
		return k.fail(retLen.PutUint32(memoryBasicInformationSize))
	}
	return models.STATUS_SUCCESS
}

// readLargeInteger reads a LARGE_INTEGER, or returns ok=false for a null
// pointer.
func readLargeInteger(b common.Buf) (int64, bool, error) {
	if b.Null() {
		return 0, false, nil
	}
	raw, err := b.Read(8)
	if err != nil {
		return 0, false, err
	}
	return int64(binary.LittleEndian.Uint64(raw)), true, nil
}

func (k *Kernel) NtCreateSection(out common.Obuf, access uint32, oa *common.ObjectAttributes, maxSize common.Buf, protect, attributes uint32, file common.Handle) models.Status {
	p := k.current().Process
	size, _, err := readLargeInteger(maxSize)
	if err != nil {
		return k.fail(err)
	}
	var f *ob.File
	if file != 0 {
		o, err := p.Handles.LookupType(uint32(file), "File")
		if err != nil {
			return k.fail(err)
		}
		f = o.(*ob.File)
	}
	var sec *mm.Section
	if attributes&mm.SEC_IMAGE != 0 {
		if f == nil {
			return models.STATUS_INVALID_PARAMETER
		}
		sec, err = mm.NewFileImageSection(f)
	} else {
		sec, err = newDataSection(f, uint64(size), protect)
	}
	if err != nil {
		return k.fail(err)
	}
	defer ob.Release(sec)
	if err := k.insertNamed(p, oa, sec); err != nil {
		return k.fail(err)
	}
	return k.fail(k.allocHandle(p, out, sec))
}

// newDataSection creates a pagefile section, or a private copy of f's
// contents when f is set. A zero size takes the file's size.
func newDataSection(f *ob.File, size uint64, protect uint32) (*mm.Section, error) {
	if f != nil && size == 0 {
		fi, err := f.F.Stat()
		if err != nil {
			return nil, errors.Wrap(models.STATUS_INVALID_PARAMETER, err.Error())
		}
		size = uint64(fi.Size())
	}
	if size == 0 {
		return nil, errors.WithStack(models.STATUS_INVALID_PARAMETER)
	}
	sec, err := mm.NewSection(size, protect)
	if err != nil {
		return nil, err
	}
	if f != nil {
		if _, err := f.F.ReadAt(sec.Data(), 0); err != nil && err != io.EOF {
			ob.Release(sec)
			return nil, errors.Wrap(models.STATUS_UNSUCCESSFUL, err.Error())
		}
	}
	return sec, nil
}

func (k *Kernel) NtMapViewOfSection(section, process common.Handle, baseAddr common.Buf, zeroBits, commitSize uint32, offsetAddr common.Buf, sizeAddr common.Buf, inherit, allocType, protect uint32) models.Status {
	cur := k.current().Process
	o, err := cur.Handles.LookupType(uint32(section), "Section")
	if err != nil {
		return k.fail(err)
	}
	sec := o.(*mm.Section)
	p, err := k.processArg(process)
	if err != nil {
		return k.fail(err)
	}
	addr, err := baseAddr.Uint32()
	if err != nil {
		return k.fail(err)
	}
	size, err := sizeAddr.Uint32()
	if err != nil {
		return k.fail(err)
	}
	offset, _, err := readLargeInteger(offsetAddr)
	if err != nil {
		return k.fail(err)
	}
	v, err := p.Space.MapSection(sec, uint64(addr), uint64(offset), uint64(size), protect)
	if err != nil {
		return k.fail(err)
	}
	k.Config.Debugf("mapped section at %08x-%08x\n", v.Base, v.End())
	if err := baseAddr.PutUint32(uint32(v.Base)); err != nil {
		return k.fail(err)
	}
	if err := sizeAddr.PutUint32(uint32(v.Size)); err != nil {
		return k.fail(err)
	}
	if sec.Image != nil && uint32(v.Base) != sec.Image.ImageBase {
		return models.STATUS_IMAGE_NOT_AT_BASE
	}
	return models.STATUS_SUCCESS
}

func (k *Kernel) NtUnmapViewOfSection(process common.Handle, addr uint32) models.Status {
	p, err := k.processArg(process)
	if err != nil {
		return k.fail(err)
	}
	return k.fail(p.Space.Unmap(uint64(addr)))
}
