//go:build windows

package platform

import (
	"context"
	"sync"
	"time"
	"unsafe"

	"deskwatch/internal/redact"

	"golang.org/x/sys/windows"
)

var (
	user32   = windows.NewLazySystemDLL("user32.dll")
	kernel32 = windows.NewLazySystemDLL("kernel32.dll")

	procEnumWindows      = user32.NewProc("EnumWindows")
	procGetWindowTextW   = user32.NewProc("GetWindowTextW")
	procGetWindowRect    = user32.NewProc("GetWindowRect")
	procIsWindowVisible  = user32.NewProc("IsWindowVisible")
	procIsIconic         = user32.NewProc("IsIconic")
	procGetLastInputInfo = user32.NewProc("GetLastInputInfo")
	procGetTickCount     = kernel32.NewProc("GetTickCount")
)

func Detect() Capabilities {
	return Capabilities{
		Screen:  DisplayCapturer{},
		Windows: &win32Lister{},
		Idle:    win32Idle{},
	}
}

type win32Rect struct {
	Left, Top, Right, Bottom int32
}

// EnumWindows callbacks are a scarce resource, so one is shared and
// enumeration is serialized.
var (
	enumMu       sync.Mutex
	enumFound    []redact.Window
	enumCallback = windows.NewCallback(func(hwnd, _ uintptr) uintptr {
		enumFound = append(enumFound, describeWindow(hwnd))
		return 1
	})
)

type win32Lister struct{}

func (*win32Lister) ListWindows(context.Context) ([]redact.Window, error) {
	enumMu.Lock()
	defer enumMu.Unlock()

	enumFound = nil
	r, _, err := procEnumWindows.Call(enumCallback, 0)
	if r == 0 {
		return nil, err
	}

	out := make([]redact.Window, 0, len(enumFound))
	for _, w := range enumFound {
		if w.Title != "" {
			out = append(out, w)
		}
	}
	enumFound = nil
	return out, nil
}

func describeWindow(hwnd uintptr) redact.Window {
	buf := make([]uint16, 512)
	n, _, _ := procGetWindowTextW.Call(hwnd, uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))

	var rc win32Rect
	procGetWindowRect.Call(hwnd, uintptr(unsafe.Pointer(&rc)))
	visible, _, _ := procIsWindowVisible.Call(hwnd)
	iconic, _, _ := procIsIconic.Call(hwnd)

	return redact.Window{
		Title:     windows.UTF16ToString(buf[:n]),
		Bounds:    redact.Rect{Left: int(rc.Left), Top: int(rc.Top), Right: int(rc.Right), Bottom: int(rc.Bottom)},
		Visible:   visible != 0,
		Minimized: iconic != 0,
	}
}

type lastInputInfo struct {
	cbSize uint32
	dwTime uint32
}

type win32Idle struct{}

func (win32Idle) SystemIdle(context.Context) (time.Duration, error) {
	info := lastInputInfo{cbSize: uint32(unsafe.Sizeof(lastInputInfo{}))}
	r, _, err := procGetLastInputInfo.Call(uintptr(unsafe.Pointer(&info)))
	if r == 0 {
		return 0, err
	}
	now, _, _ := procGetTickCount.Call()
	// Both counters are 32-bit milliseconds and wrap together.
	return time.Duration(uint32(now)-info.dwTime) * time.Millisecond, nil
}
