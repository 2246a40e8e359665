package nt

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/lunixbochs/ntcorn/go/kernel/common"
	"github.com/lunixbochs/ntcorn/go/kernel/mm"
	"github.com/lunixbochs/ntcorn/go/kernel/ob"
	"github.com/lunixbochs/ntcorn/go/kernel/ps"
)

// callbackStub stands in for KiUserCallbackDispatcher. It is entered with
// a return slot, ApiNumber, InputBuffer and InputLength on the stack,
// calls the PEB's kernel callback table and hands the result to
// NtCallbackReturn.
const callbackStub = `
mov eax, dword ptr fs:[%#x]
mov eax, dword ptr [eax+%#x]
mov ecx, dword ptr [esp+4]
push dword ptr [esp+12]
push dword ptr [esp+12]
call dword ptr [eax+ecx*4]
push eax
push 0
push 0
mov edx, esp
mov eax, %#x
int 0x2e
`

// buildStubs assembles the kernel stub page mapped into processes whose
// system image has no callback dispatcher.
func (k *Kernel) buildStubs() error {
	if k.Asm == nil {
		k.Config.Debugf("no KiUserCallbackDispatcher and no assembler, user callbacks disabled\n")
		return nil
	}
	num, _ := k.ServiceNumber("NtCallbackReturn")
	src := fmt.Sprintf(callbackStub, ps.TEB_PEB, ps.PEB_KERNEL_CALLBACK_TABLE, num)
	code, err := k.Asm.Asm(src, 0)
	if err != nil {
		return errors.Wrap(err, "failed to assemble callback stub")
	}
	sec, err := mm.NewSection(mm.PAGE_SIZE, mm.PAGE_EXECUTE_READ)
	if err != nil {
		return err
	}
	copy(sec.Data(), code)
	if k.Procs.Stubs != nil {
		ob.Release(k.Procs.Stubs)
	}
	k.Procs.Stubs = sec
	k.Procs.StubCallbackOffset = 0
	return nil
}

// user services that only have to succeed

func (k *Kernel) NtUserSetThreadDesktop(desktop uint32) uint32 {
	return TRUE
}

func (k *Kernel) NtUserSetImeHotKey(id, modifiers, vk, hkl, action uint32) uint32 {
	return TRUE
}

func (k *Kernel) NtUserUpdatePerUserSystemParameters(unknown, enable uint32) uint32 {
	return TRUE
}

func (k *Kernel) NtUserSystemParametersInfo(action, param uint32, info common.Ptr, flags uint32) uint32 {
	return TRUE
}

func (k *Kernel) NtUserSetWindowStationUser(winsta uint32, luid common.Ptr, sid common.Ptr, size uint32) uint32 {
	return TRUE
}

func (k *Kernel) NtUserNotifyProcessCreate(pid, parent, unknown, flags uint32) uint32 {
	return TRUE
}

func (k *Kernel) NtUserConsoleControl(class uint32, info common.Ptr, length common.Len) uint32 {
	return TRUE
}

func (k *Kernel) NtUserGetObjectInformation(h, index uint32, info common.Ptr, length common.Len, needed common.Ptr) uint32 {
	return TRUE
}

func (k *Kernel) NtUserResolveDesktop(process common.Ptr, desktop common.Ptr, inherit uint32, winsta common.Ptr) uint32 {
	return TRUE
}

func (k *Kernel) NtUserMessageCall(hwnd, msg, wparam, lparam, result, fnid, ansi uint32) uint32 {
	return TRUE
}

func (k *Kernel) NtUserValidateRect(hwnd uint32, rect common.Ptr) uint32 {
	return TRUE
}

func (k *Kernel) NtUserGetUpdateRgn(hwnd, region, erase uint32) uint32 {
	return TRUE
}

func (k *Kernel) NtUserSetMenu(hwnd, menu, repaint uint32) uint32 {
	return TRUE
}

func (k *Kernel) NtUserSetLogonNotifyWindow(hwnd uint32) uint32 {
	return TRUE
}

func (k *Kernel) NtUserLoadKeyboardLayoutEx(file common.Ptr, offset uint32, klid common.Ptr, hkl, flags uint32) uint32 {
	return TRUE
}

func (k *Kernel) NtUserSetCursorIconData(cursor uint32, module, resource common.Ptr, data common.Ptr) uint32 {
	return TRUE
}

func (k *Kernel) NtUserGetIconInfo(icon uint32, info common.Ptr, module, resource common.Ptr, bpp, internal uint32) uint32 {
	return TRUE
}
