package win32k

import (
	"github.com/pkg/errors"

	"github.com/lunixbochs/ntcorn/go/kernel/ps"
	"github.com/lunixbochs/ntcorn/go/models"
)

const (
	NUMBER_OF_MESSAGE_MAPS = 0x1d

	ConnectVersion = 0x50000

	// message maps with real bitmaps, and their size in messages
	messageMapBitmapA = 0x1b
	messageMapBitmapB = 0x1c
	messageMapLast    = 0x400
)

type MessageMap struct {
	MaxMessage uint32
	Bitmap     uint32
}

// USER_PROCESS_CONNECT_INFO. The XP variant appends two words the kernel
// leaves alone.
type ConnectInfo struct {
	Version    uint32
	Empty      [2]uint32
	Ptr        [4]uint32
	MessageMap [NUMBER_OF_MESSAGE_MAPS]MessageMap
}

var (
	ConnectInfoSize   = uint32(models.Sizeof(&ConnectInfo{}))
	ConnectInfoXPSize = ConnectInfoSize + 8
)

// ProcessConnect fills in the connect info guests pass to
// NtUserProcessConnect. buf is the guest's buffer and is updated in place.
func (m *Manager) ProcessConnect(p *ps.Process, buf []byte) error {
	size := uint32(len(buf))
	if size != ConnectInfoSize && size != ConnectInfoXPSize {
		m.Config.Debugf("buffer size wrong %d (not WinXP or Win2K?)\n", size)
		return errors.WithStack(models.STATUS_UNSUCCESSFUL)
	}
	var info ConnectInfo
	if err := models.Unpack(buf, &info); err != nil {
		return errors.Wrap(models.STATUS_UNSUCCESSFUL, err.Error())
	}
	if info.Version != ConnectVersion {
		m.Config.Debugf("version wrong %08x %08x\n", info.Version, ConnectVersion)
		return errors.WithStack(models.STATUS_UNSUCCESSFUL)
	}
	if err := m.MapShared(p); err != nil {
		return err
	}
	info.Ptr[0] = uint32(p.Win32.UserSharedMem)
	info.Ptr[1] = uint32(p.Win32.UserHandles)
	info.Ptr[2] = 0xbee30000
	info.Ptr[3] = 0xbee40000
	for i := range info.MessageMap {
		info.MessageMap[i] = MessageMap{Bitmap: uint32(i)}
	}
	for _, i := range []int{messageMapBitmapA, messageMapBitmapB} {
		msgMap, err := m.allocMessageBitmap(p, messageMapLast)
		if err != nil {
			return err
		}
		info.MessageMap[i] = msgMap
		m.messageMaps[i] = MessageMap{MaxMessage: msgMap.MaxMessage, Bitmap: msgMap.Bitmap - uint32(p.Win32.UserSharedMem)}
	}
	out, err := models.Pack(&info)
	if err != nil {
		return errors.Wrap(err, "models.Pack() failed")
	}
	copy(buf, out)
	return nil
}

// allocMessageBitmap carves a zeroed bitmap of last bits from the arena.
// The returned map points at it in p.
func (m *Manager) allocMessageBitmap(p *ps.Process, last uint32) (MessageMap, error) {
	off, ok := m.arena.Alloc((last + 7) / 8)
	if !ok {
		return MessageMap{}, errNoArena
	}
	msgMap := MessageMap{MaxMessage: last, Bitmap: m.KernelToUser(p, off)}
	m.Config.Debugf("bitmap = %08x last = %d\n", msgMap.Bitmap, msgMap.MaxMessage)
	return msgMap, nil
}
