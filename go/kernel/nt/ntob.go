package nt

import (
	"time"

	"github.com/pkg/errors"

	"github.com/lunixbochs/ntcorn/go/kernel/common"
	"github.com/lunixbochs/ntcorn/go/kernel/ob"
	"github.com/lunixbochs/ntcorn/go/kernel/ps"
	"github.com/lunixbochs/ntcorn/go/models"
)

const (
	// NtCurrentProcess() and NtCurrentThread()
	currentProcess = 0xffffffff
	currentThread  = 0xfffffffe

	// WAIT_TYPE
	WaitAll = 0
	WaitAny = 1

	FILE_OPENED = 1
)

type ioStatusBlock struct {
	Status      uint32
	Information uint32
}

type largeInteger struct {
	Low, High uint32
}

func (k *Kernel) current() *ps.Thread {
	return k.Procs.Current()
}

// fail turns an error into the status returned to the guest.
func (k *Kernel) fail(err error) models.Status {
	if err != nil {
		k.Config.Debugf("%v\n", err)
	}
	return models.StatusOf(err)
}

func (k *Kernel) processArg(h common.Handle) (*ps.Process, error) {
	p := k.current().Process
	if h == currentProcess {
		return p, nil
	}
	o, err := p.Handles.LookupType(uint32(h), "Process")
	if err != nil {
		return nil, err
	}
	return o.(*ps.Process), nil
}

func (k *Kernel) threadArg(h common.Handle) (*ps.Thread, error) {
	t := k.current()
	if h == 0 || h == currentThread {
		return t, nil
	}
	o, err := t.Process.Handles.LookupType(uint32(h), "Thread")
	if err != nil {
		return nil, err
	}
	return o.(*ps.Thread), nil
}

// rootOf resolves OBJECT_ATTRIBUTES.RootDirectory. The object is borrowed
// from the handle table.
func (k *Kernel) rootOf(p *ps.Process, oa *common.ObjectAttributes) (ob.Object, error) {
	if oa.RootDirectory == 0 {
		return nil, nil
	}
	return p.Handles.Lookup(uint32(oa.RootDirectory))
}

// insertNamed publishes o in the namespace if oa names it.
func (k *Kernel) insertNamed(p *ps.Process, oa *common.ObjectAttributes, o ob.Object) error {
	if oa == nil || oa.Name == "" {
		return nil
	}
	root, err := k.rootOf(p, oa)
	if err != nil {
		return err
	}
	k.Config.Debugf("creating %s %s\n", ob.TypeName(o), oa.Name)
	return k.Namespace.Insert(oa.Name, root, o)
}

// lookup opens the object oa names, checking its type when typ is set.
// The caller owns the returned reference.
func (k *Kernel) lookup(p *ps.Process, oa *common.ObjectAttributes, typ string, openLink bool) (ob.Object, error) {
	if oa == nil || (oa.Name == "" && oa.RootDirectory == 0) {
		return nil, errors.WithStack(models.STATUS_OBJECT_NAME_INVALID)
	}
	root, err := k.rootOf(p, oa)
	if err != nil {
		return nil, err
	}
	o, err := k.Namespace.Lookup(oa.Name, root, openLink)
	if err != nil {
		return nil, err
	}
	if typ != "" && ob.TypeName(o) != typ {
		ob.Release(o)
		return nil, errors.Wrapf(models.STATUS_OBJECT_TYPE_MISMATCH, "%s is a %s", oa.Name, ob.TypeName(o))
	}
	return o, nil
}

// allocHandle opens a handle to o and writes it to out.
func (k *Kernel) allocHandle(p *ps.Process, out common.Obuf, o ob.Object) error {
	h, err := p.Handles.Alloc(o)
	if err != nil {
		return err
	}
	if err := out.PutUint32(h); err != nil {
		p.Handles.Free(h)
		return err
	}
	return nil
}

func (k *Kernel) NtClose(h common.Handle) models.Status {
	return k.fail(k.current().Process.Handles.Free(uint32(h)))
}

func (k *Kernel) NtCreateDirectoryObject(out common.Obuf, access uint32, oa *common.ObjectAttributes) models.Status {
	p := k.current().Process
	d := ob.NewDirectory()
	defer ob.Release(d)
	if err := k.insertNamed(p, oa, d); err != nil {
		return k.fail(err)
	}
	return k.fail(k.allocHandle(p, out, d))
}

func (k *Kernel) NtOpenDirectoryObject(out common.Obuf, access uint32, oa *common.ObjectAttributes) models.Status {
	p := k.current().Process
	o, err := k.lookup(p, oa, "Directory", false)
	if err != nil {
		return k.fail(err)
	}
	defer ob.Release(o)
	return k.fail(k.allocHandle(p, out, o))
}

func (k *Kernel) NtCreateSymbolicLinkObject(out common.Obuf, access uint32, oa *common.ObjectAttributes, target common.UnicodeString) models.Status {
	p := k.current().Process
	link := &ob.Symlink{Target: string(target)}
	defer ob.Release(link)
	if err := k.insertNamed(p, oa, link); err != nil {
		return k.fail(err)
	}
	return k.fail(k.allocHandle(p, out, link))
}

func (k *Kernel) NtOpenSymbolicLinkObject(out common.Obuf, access uint32, oa *common.ObjectAttributes) models.Status {
	p := k.current().Process
	o, err := k.lookup(p, oa, "SymbolicLink", true)
	if err != nil {
		return k.fail(err)
	}
	defer ob.Release(o)
	return k.fail(k.allocHandle(p, out, o))
}

// NtQuerySymbolicLinkObject fills in a UNICODE_STRING with the target.
func (k *Kernel) NtQuerySymbolicLinkObject(h common.Handle, target common.Buf, retLen common.Obuf) models.Status {
	o, err := k.current().Process.Handles.LookupType(uint32(h), "SymbolicLink")
	if err != nil {
		return k.fail(err)
	}
	link := o.(*ob.Symlink)
	var us common.UnicodeStringHeader
	if err := target.Unpack(&us); err != nil {
		return k.fail(err)
	}
	p := models.EncodeUTF16(link.Target)
	if !retLen.Null() {
		if err := retLen.PutUint32(uint32(len(p))); err != nil {
			return k.fail(err)
		}
	}
	if len(p) > int(us.MaximumLength) {
		return models.STATUS_BUFFER_TOO_SMALL
	}
	if err := common.NewBuf(k, uint64(us.Buffer)).Write(p); err != nil {
		return k.fail(err)
	}
	us.Length = uint16(len(p))
	return k.fail(target.Pack(&us))
}

func (k *Kernel) NtOpenFile(out common.Obuf, access uint32, oa *common.ObjectAttributes, iosb common.Obuf, share, options uint32) models.Status {
	p := k.current().Process
	k.Config.Debugf("open file %s\n", oa.Name)
	o, err := k.lookup(p, oa, "File", false)
	if err != nil {
		return k.fail(err)
	}
	defer ob.Release(o)
	if err := k.allocHandle(p, out, o); err != nil {
		return k.fail(err)
	}
	if !iosb.Null() {
		if err := iosb.Pack(&ioStatusBlock{Information: FILE_OPENED}); err != nil {
			return k.fail(err)
		}
	}
	return models.STATUS_SUCCESS
}

func (k *Kernel) NtCreateEvent(out common.Obuf, access uint32, oa *common.ObjectAttributes, eventType, initialState uint32) models.Status {
	if eventType != ob.NotificationEvent && eventType != ob.SynchronizationEvent {
		return models.STATUS_INVALID_PARAMETER
	}
	p := k.current().Process
	ev := ob.NewEvent(int(eventType), initialState != 0)
	defer ob.Release(ev)
	if err := k.insertNamed(p, oa, ev); err != nil {
		return k.fail(err)
	}
	return k.fail(k.allocHandle(p, out, ev))
}

// eventOp applies op to the event h and writes the previous state to prev
// when it is set.
func (k *Kernel) eventOp(h common.Handle, prev common.Obuf, op func(*ob.Event) bool) models.Status {
	o, err := k.current().Process.Handles.LookupType(uint32(h), "Event")
	if err != nil {
		return k.fail(err)
	}
	was := op(o.(*ob.Event))
	if !prev.Null() {
		state := uint32(0)
		if was {
			state = 1
		}
		return k.fail(prev.PutUint32(state))
	}
	return models.STATUS_SUCCESS
}

func (k *Kernel) NtSetEvent(h common.Handle, prev common.Obuf) models.Status {
	return k.eventOp(h, prev, (*ob.Event).Set)
}

func (k *Kernel) NtResetEvent(h common.Handle, prev common.Obuf) models.Status {
	return k.eventOp(h, prev, (*ob.Event).Reset)
}

func (k *Kernel) NtPulseEvent(h common.Handle, prev common.Obuf) models.Status {
	return k.eventOp(h, prev, (*ob.Event).Pulse)
}

func (k *Kernel) NtClearEvent(h common.Handle) models.Status {
	return k.eventOp(h, common.Obuf{}, (*ob.Event).Reset)
}

// NT times count 100ns intervals since 1601.
const epochDelta = 116444736000000000

func systemTime(t time.Time) int64 {
	return t.UnixNano()/100 + epochDelta
}

// readTimeout decodes a wait timeout: negative values are relative,
// positive ones absolute system times. A null pointer waits forever.
func (k *Kernel) readTimeout(b common.Buf) (*time.Duration, error) {
	v, ok, err := readLargeInteger(b)
	if err != nil || !ok {
		return nil, err
	}
	var d time.Duration
	if v < 0 {
		d = time.Duration(-v) * 100
	} else {
		d = time.Duration(v-systemTime(k.Procs.Timers.Now())) * 100
	}
	return &d, nil
}

func (k *Kernel) waitable(p *ps.Process, h uint32) (ob.Waitable, error) {
	o, err := p.Handles.Lookup(h)
	if err != nil {
		return nil, err
	}
	w, ok := o.(ob.Waitable)
	if !ok {
		return nil, errors.Wrapf(models.STATUS_OBJECT_TYPE_MISMATCH, "%s is not waitable", ob.TypeName(o))
	}
	return w, nil
}

func (k *Kernel) NtWaitForSingleObject(h common.Handle, alertable uint32, timeout common.Buf) models.Status {
	t := k.current()
	w, err := k.waitable(t.Process, uint32(h))
	if err != nil {
		return k.fail(err)
	}
	d, err := k.readTimeout(timeout)
	if err != nil {
		return k.fail(err)
	}
	return t.Wait([]ob.Waitable{w}, false, d)
}

func (k *Kernel) NtWaitForMultipleObjects(count uint32, handles common.Buf, waitType, alertable uint32, timeout common.Buf) models.Status {
	if count == 0 || count > ps.MaxWaitObjects {
		return models.STATUS_INVALID_PARAMETER
	}
	if waitType != WaitAll && waitType != WaitAny {
		return models.STATUS_INVALID_PARAMETER
	}
	t := k.current()
	objs := make([]ob.Waitable, count)
	for i := range objs {
		h, err := common.NewBuf(k, handles.Addr+uint64(i*4)).Uint32()
		if err != nil {
			return k.fail(err)
		}
		if objs[i], err = k.waitable(t.Process, h); err != nil {
			return k.fail(err)
		}
	}
	d, err := k.readTimeout(timeout)
	if err != nil {
		return k.fail(err)
	}
	return t.Wait(objs, waitType == WaitAll, d)
}

func (k *Kernel) NtDelayExecution(alertable uint32, interval common.Buf) models.Status {
	d, err := k.readTimeout(interval)
	if err != nil {
		return k.fail(err)
	}
	if d == nil {
		return models.STATUS_ACCESS_VIOLATION
	}
	return k.current().Sleep(*d)
}

func (k *Kernel) NtYieldExecution() models.Status {
	k.Sched.Yield()
	return models.STATUS_SUCCESS
}

func (k *Kernel) NtQuerySystemTime(out common.Obuf) models.Status {
	now := uint64(systemTime(k.Procs.Timers.Now()))
	return k.fail(out.Pack(&largeInteger{uint32(now), uint32(now >> 32)}))
}
