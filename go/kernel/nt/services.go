package nt

// System call numbers of the implemented services as the Windows XP SP2
// and Windows 2000 SP4 system images use them. Numbers from 0x1000 index
// the win32k table.
var serviceTable = []struct {
	Name    string
	XP, W2K uint32
}{
	{"NtAllocateVirtualMemory", 0x011, 0x010},
	{"NtCallbackReturn", 0x014, 0x013},
	{"NtClearEvent", 0x018, 0x017},
	{"NtClose", 0x019, 0x018},
	{"NtCreateDirectoryObject", 0x022, 0x01d},
	{"NtCreateEvent", 0x023, 0x01e},
	{"NtCreateSection", 0x032, 0x02b},
	{"NtCreateSymbolicLinkObject", 0x034, 0x02d},
	{"NtDelayExecution", 0x03b, 0x032},
	{"NtDisplayString", 0x043, 0x037},
	{"NtFreeVirtualMemory", 0x053, 0x047},
	{"NtMapViewOfSection", 0x06c, 0x05d},
	{"NtOpenDirectoryObject", 0x071, 0x061},
	{"NtOpenFile", 0x074, 0x064},
	{"NtOpenSymbolicLinkObject", 0x080, 0x070},
	{"NtProtectVirtualMemory", 0x089, 0x077},
	{"NtPulseEvent", 0x08d, 0x07a},
	{"NtQuerySymbolicLinkObject", 0x0ab, 0x095},
	{"NtQuerySystemTime", 0x0ae, 0x097},
	{"NtQueryVirtualMemory", 0x0b2, 0x09c},
	{"NtResetEvent", 0x0ce, 0x0ac},
	{"NtSetEvent", 0x0db, 0x0c4},
	{"NtTerminateProcess", 0x101, 0x0e0},
	{"NtTerminateThread", 0x102, 0x0e1},
	{"NtUnmapViewOfSection", 0x10b, 0x0e7},
	{"NtWaitForMultipleObjects", 0x10e, 0x0e9},
	{"NtWaitForSingleObject", 0x10f, 0x0ea},
	{"NtYieldExecution", 0x116, 0x0f3},

	{"NtGdiBitBlt", 0x100d, 0x100d},
	{"NtGdiExtTextOutW", 0x1092, 0x108a},
	{"NtGdiGetDeviceCaps", 0x10b6, 0x10ad},
	{"NtGdiInit", 0x10e3, 0x10d4},
	{"NtGdiRectangle", 0x10f3, 0x10e3},
	{"NtGdiSetPixel", 0x1104, 0x10f2},
	{"NtUserBeginPaint", 0x1116, 0x1100},
	{"NtUserCallNoParam", 0x1142, 0x1129},
	{"NtUserCallOneParam", 0x1143, 0x112a},
	{"NtUserCallTwoParam", 0x1144, 0x112b},
	{"NtUserConsoleControl", 0x114c, 0x1132},
	{"NtUserCreateAcceleratorTable", 0x1153, 0x1138},
	{"NtUserCreateDesktop", 0x1155, 0x113a},
	{"NtUserCreateWindowEx", 0x1157, 0x113c},
	{"NtUserCreateWindowStation", 0x1158, 0x113d},
	{"NtUserDestroyWindow", 0x1163, 0x1146},
	{"NtUserDispatchMessage", 0x1165, 0x1148},
	{"NtUserEndPaint", 0x116f, 0x1151},
	{"NtUserFindExistingCursorIcon", 0x1177, 0x1158},
	{"NtUserGetAsyncKeyState", 0x1184, 0x1163},
	{"NtUserGetCaretBlinkTime", 0x118a, 0x1168},
	{"NtUserGetClassInfo", 0x118c, 0x116a},
	{"NtUserGetDC", 0x1193, 0x1170},
	{"NtUserGetIconInfo", 0x11a4, 0x117f},
	{"NtUserGetKeyboardLayoutList", 0x11a5, 0x1180},
	{"NtUserGetMessage", 0x11b2, 0x118a},
	{"NtUserGetObjectInformation", 0x11b6, 0x118e},
	{"NtUserGetProcessWindowStation", 0x11b9, 0x1190},
	{"NtUserGetThreadDesktop", 0x11c0, 0x1196},
	{"NtUserGetThreadState", 0x11c1, 0x1197},
	{"NtUserGetUpdateRgn", 0x11c6, 0x119b},
	{"NtUserInitialize", 0x11d2, 0x11a5},
	{"NtUserInitializeClientPfnArrays", 0x11d3, 0x11a6},
	{"NtUserInvalidateRect", 0x11d7, 0x11a9},
	{"NtUserLoadKeyboardLayoutEx", 0x11de, 0x11af},
	{"NtUserMessageCall", 0x11e6, 0x11b6},
	{"NtUserMoveWindow", 0x11e9, 0x11b9},
	{"NtUserNotifyProcessCreate", 0x11ea, 0x11ba},
	{"NtUserOpenDesktop", 0x11ee, 0x11bd},
	{"NtUserPeekMessage", 0x11f4, 0x11c2},
	{"NtUserProcessConnect", 0x11f8, 0x11c5},
	{"NtUserRedrawWindow", 0x11ff, 0x11cb},
	{"NtUserRegisterClassExWOW", 0x1200, 0x11cc},
	{"NtUserRegisterWindowMessage", 0x1205, 0x11d0},
	{"NtUserResolveDesktop", 0x1210, 0x11d9},
	{"NtUserSelectPalette", 0x121c, 0x11e4},
	{"NtUserSetCapture", 0x121f, 0x11e6},
	{"NtUserSetCursorIconData", 0x1227, 0x11ed},
	{"NtUserSetImeHotKey", 0x122f, 0x11f4},
	{"NtUserSetInformationThread", 0x1230, 0x11f5},
	{"NtUserSetLogonNotifyWindow", 0x1233, 0x11f7},
	{"NtUserSetMenu", 0x1234, 0x11f8},
	{"NtUserSetProcessWindowStation", 0x123d, 0x1200},
	{"NtUserSetThreadDesktop", 0x1241, 0x1203},
	{"NtUserSetWindowStationUser", 0x125b, 0x121a},
	{"NtUserShowWindow", 0x125f, 0x121d},
	{"NtUserSystemParametersInfo", 0x1265, 0x1222},
	{"NtUserTranslateAccelerator", 0x126b, 0x1227},
	{"NtUserTranslateMessage", 0x126c, 0x1228},
	{"NtUserUpdatePerUserSystemParameters", 0x1274, 0x122f},
	{"NtUserValidateRect", 0x1279, 0x1233},
	{"NtUserWindowFromPoint", 0x1284, 0x123c},
}

func (k *Kernel) selectServices(xp bool) {
	k.XP = xp
	k.services = make(map[uint32]string, len(serviceTable))
	k.numbers = make(map[string]uint32, len(serviceTable))
	for _, s := range serviceTable {
		num := s.W2K
		if xp {
			num = s.XP
		}
		k.services[num] = s.Name
		k.numbers[s.Name] = num
	}
}

// ServiceName resolves a system call number in the active table.
func (k *Kernel) ServiceName(num uint32) (string, bool) {
	name, ok := k.services[num]
	return name, ok
}

// ServiceNumber is the inverse of ServiceName.
func (k *Kernel) ServiceNumber(name string) (uint32, bool) {
	num, ok := k.numbers[name]
	return num, ok
}
