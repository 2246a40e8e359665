package cpu

import (
	cs "github.com/lunixbochs/capstr"
	"github.com/pkg/errors"

	"github.com/lunixbochs/ntcorn/go/models"
)

// Capstr disassembles guest code. The zero value is a 32-bit x86
// disassembler that opens its engine on first use.
type Capstr struct {
	Arch, Mode int

	cs *cs.Engine
	dc *models.Discache
}

func (c *Capstr) Open() error {
	if c.Arch == 0 && c.Mode == 0 {
		c.Arch, c.Mode = cs.ARCH_X86, cs.MODE_32
	}
	engine, err := cs.New(c.Arch, c.Mode)
	if err != nil {
		return errors.Wrap(err, "cs.New() failed")
	}
	c.cs = engine
	c.dc = models.NewDiscache()
	return nil
}

func (c *Capstr) Dis(mem []byte, addr uint64) ([]models.Ins, error) {
	if c.cs == nil {
		if err := c.Open(); err != nil {
			return nil, err
		}
	}
	if ent := c.dc.Get(addr, mem); ent != nil {
		return ent.Dis, nil
	}
	dis, err := c.cs.Dis(mem, addr, 0)
	if err != nil {
		return nil, errors.Wrap(err, "capstone disassembly failed")
	}
	ret := make([]models.Ins, len(dis))
	for i, v := range dis {
		ret[i] = v
	}
	c.dc.Put(addr, mem, ret)
	return ret, nil
}
