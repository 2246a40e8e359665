package nt

import (
	"github.com/lunixbochs/ntcorn/go/kernel/common"
	"github.com/lunixbochs/ntcorn/go/models"
)

// NtTerminateProcess with a null handle ends every other thread of the
// caller's process, which is how ExitProcess starts.
func (k *Kernel) NtTerminateProcess(h common.Handle, status uint32) models.Status {
	t := k.current()
	if h == 0 {
		for _, other := range t.Process.LiveThreads() {
			if other != t {
				other.Terminate(models.Status(status))
			}
		}
		return models.STATUS_SUCCESS
	}
	p, err := k.processArg(h)
	if err != nil {
		return k.fail(err)
	}
	k.Config.Debugf("process %04x exiting with %08x\n", p.ID, status)
	p.Terminate(models.Status(status))
	return models.STATUS_SUCCESS
}

func (k *Kernel) NtTerminateThread(h common.Handle, status uint32) models.Status {
	t, err := k.threadArg(h)
	if err != nil {
		return k.fail(err)
	}
	t.Terminate(models.Status(status))
	return models.STATUS_SUCCESS
}

// NtCallbackReturn completes the innermost user callback of the caller.
func (k *Kernel) NtCallbackReturn(result common.Ptr, length common.Len, status uint32) models.Status {
	t := k.current()
	var data []byte
	if result != 0 && length > 0 {
		var err error
		if data, err = common.NewBuf(k, uint64(result)).Read(uint64(length)); err != nil {
			return k.fail(err)
		}
	}
	return k.fail(t.CallbackReturn(models.Status(status), data))
}

func (k *Kernel) NtDisplayString(s common.UnicodeString) models.Status {
	k.Config.Printf("%s", string(s))
	return models.STATUS_SUCCESS
}
