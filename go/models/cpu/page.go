package cpu

import (
	"fmt"
	"sort"
	"strings"
)

// Page is a contiguous mapped range. Data may alias the backing store of a
// section, in which case every Page slicing the same backing observes the
// same bytes.
type Page struct {
	Addr uint64
	Size uint64
	Prot int
	Data []byte

	Desc string
	// Tag is opaque to the memory model. The address space manager stores
	// the view or region the page belongs to here.
	Tag interface{}
}

func (p *Page) String() string {
	prots := []int{PROT_READ, PROT_WRITE, PROT_EXEC}
	chars := []string{"r", "w", "x"}
	prot := ""
	for i := range prots {
		if p.Prot&prots[i] != 0 {
			prot += chars[i]
		} else {
			prot += "-"
		}
	}
	desc := fmt.Sprintf("0x%08x-0x%08x %s", p.Addr, p.Addr+p.Size, prot)
	if p.Desc != "" {
		desc += fmt.Sprintf(" [%s]", p.Desc)
	}
	return desc
}

func (p *Page) Contains(addr uint64) bool {
	return addr >= p.Addr && addr < p.Addr+p.Size
}

// start = max(s1, s2), end = min(e1, e2), ok = end > start
func (p *Page) Intersect(addr, size uint64) (uint64, uint64, bool) {
	start := p.Addr
	end := p.Addr + p.Size
	e2 := addr + size
	if end > e2 {
		end = e2
	}
	if start < addr {
		start = addr
	}
	return start, end - start, end > start
}

func (p *Page) Overlaps(addr, size uint64) bool {
	_, _, ok := p.Intersect(addr, size)
	return ok
}

// slice returns a page covering addr:addr+size of p, sharing p's data.
func (p *Page) slice(addr, size uint64) *Page {
	o := addr - p.Addr
	return &Page{Addr: addr, Size: size, Prot: p.Prot, Data: p.Data[o : o+size : o+size], Desc: p.Desc, Tag: p.Tag}
}

/*
Split trims p to the intersection with addr:size and returns the parts of p
left and right of it. The caller must pass a range that overlaps p.

laddr                      rsize
|      lsize       raddr   |
[------|----page---|-------]
[-left-][---mid---][-right-]
|       |         |        |
|       addr      size     |
paddr                      psize
*/
func (p *Page) Split(addr, size uint64) (left, right *Page) {
	addr, size, _ = p.Intersect(addr, size)
	if addr+size < p.Addr+p.Size {
		right = p.slice(addr+size, p.Addr+p.Size-(addr+size))
	}
	if addr > p.Addr {
		left = p.slice(p.Addr, addr-p.Addr)
	}
	mid := p.slice(addr, size)
	p.Addr, p.Size, p.Data = mid.Addr, mid.Size, mid.Data
	return left, right
}

func (pg *Page) Write(addr uint64, p []byte) {
	copy(pg.Data[addr-pg.Addr:], p)
}

type Pages []*Page

func (p Pages) Len() int           { return len(p) }
func (p Pages) Swap(i, j int)      { p[i], p[j] = p[j], p[i] }
func (p Pages) Less(i, j int) bool { return p[i].Addr < p[j].Addr }

func (p Pages) String() string {
	s := make([]string, len(p))
	for i, v := range p {
		s[i] = v.String()
	}
	return strings.Join(s, "\n")
}

// bsearch returns the index of the region containing addr, or -1.
func (p Pages) bsearch(addr uint64) int {
	i := sort.Search(len(p), func(i int) bool {
		return p[i].Addr+p[i].Size > addr
	})
	if i < len(p) && p[i].Contains(addr) {
		return i
	}
	return -1
}

func (p Pages) Find(addr uint64) *Page {
	if i := p.bsearch(addr); i >= 0 {
		return p[i]
	}
	return nil
}

// FindRange returns every page overlapping addr:addr+size.
func (p Pages) FindRange(addr, size uint64) Pages {
	var ret Pages
	for _, pg := range p {
		if pg.Overlaps(addr, size) {
			ret = append(ret, pg)
		}
	}
	return ret
}
