package trace

import (
	"encoding/binary"
	"io"
	"strings"

	"github.com/golang/snappy"
	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

var TRACE_MAGIC = "NTSY"

type TraceHeader struct {
	// MAGIC ("NTSY")
	Magic   string `struc:"[4]byte"`
	Version uint32
	// NT path of the initial executable, right-null-padded.
	Exe string `struc:"[256]byte"`
	// 1 when syscalls are numbered by the XP service table, 0 for Win2K.
	Table uint8
}

// Syscall is one traced service call.
type Syscall struct {
	Thread  uint32
	Num     uint32
	Ret     uint32
	ArgLen  uint8 `struc:"sizeof=Args"`
	Args    []uint32
	NameLen uint8 `struc:"sizeof=Name"`
	Name    string
}

type TraceWriter struct {
	w  io.WriteCloser
	zw *snappy.Writer
}

func NewWriter(w io.WriteCloser, exe string, xp bool) (*TraceWriter, error) {
	header := &TraceHeader{
		Magic:   TRACE_MAGIC,
		Version: 1,
		Exe:     exe,
	}
	if xp {
		header.Table = 1
	}
	if err := struc.PackWithOrder(w, header, binary.LittleEndian); err != nil {
		return nil, errors.Wrap(err, "failed to pack header")
	}
	return &TraceWriter{w: w, zw: snappy.NewBufferedWriter(w)}, nil
}

func (t *TraceWriter) Pack(sys *Syscall) error {
	if len(sys.Name) > 0xff {
		sys.Name = sys.Name[:0xff]
	}
	return struc.PackWithOrder(t.zw, sys, binary.LittleEndian)
}

func (t *TraceWriter) Close() error {
	if err := t.zw.Close(); err != nil {
		t.w.Close()
		return err
	}
	return t.w.Close()
}

type TraceReader struct {
	r      io.ReadCloser
	zr     *snappy.Reader
	Header TraceHeader
}

func NewReader(r io.ReadCloser) (*TraceReader, error) {
	t := &TraceReader{r: r}
	if err := struc.UnpackWithOrder(r, &t.Header, binary.LittleEndian); err != nil {
		return nil, errors.Wrap(err, "failed to unpack header")
	}
	if t.Header.Magic != TRACE_MAGIC {
		return nil, errors.New("invalid trace file magic")
	}
	t.Header.Exe = strings.TrimRight(t.Header.Exe, "\x00")
	t.zr = snappy.NewReader(r)
	return t, nil
}

// Next returns io.EOF after the last record.
func (t *TraceReader) Next() (*Syscall, error) {
	var sys Syscall
	if err := struc.UnpackWithOrder(t.zr, &sys, binary.LittleEndian); err != nil {
		if c := errors.Cause(err); c == io.EOF || c == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, err
	}
	return &sys, nil
}

func (t *TraceReader) Close() {
	t.zr.Reset(nil)
	t.r.Close()
}
