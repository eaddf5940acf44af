package platform

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"deskwatch/internal/redact"
)

// runner executes a helper command and returns stdout.
type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// WmctrlLister lists windows with `wmctrl -lG` on X11 desktops.
type WmctrlLister struct {
	run runner
}

func NewWmctrlLister() *WmctrlLister {
	return &WmctrlLister{run: runCommand}
}

func (l *WmctrlLister) ListWindows(ctx context.Context) ([]redact.Window, error) {
	out, err := l.run(ctx, "wmctrl", "-lG")
	if err != nil {
		return nil, err
	}
	current := AnyDesktop
	if desktops, err := l.run(ctx, "wmctrl", "-d"); err != nil {
		log.Printf("Platform: failed to read current desktop, treating all windows as visible: %v", err)
	} else if d, ok := ParseCurrentDesktop(desktops); ok {
		current = d
	}
	return ParseWmctrl(out, current), nil
}

// AnyDesktop as the current desktop marks every listed window visible. As a
// window's desktop it means the window is sticky.
const AnyDesktop = -1

// ParseCurrentDesktop finds the desktop marked with '*' in `wmctrl -d`
// output:
//
//	0  * DG: 1920x1080  VP: 0,0  WA: 0,32 1920x1048  Workspace 1
//	1  - DG: 1920x1080  VP: N/A  WA: 0,32 1920x1048  Workspace 2
func ParseCurrentDesktop(out []byte) (int, bool) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 || fields[1] != "*" {
			continue
		}
		n, err := strconv.Atoi(fields[0])
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// ParseWmctrl reads `wmctrl -lG` output:
//
//	0x03a00003  0 0    24   1920 1056 host Title with spaces
//
// A window is visible when it sits on the current desktop or is sticky.
// wmctrl does not report minimized state.
func ParseWmctrl(out []byte, current int) []redact.Window {
	var windows []redact.Window
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 7 {
			continue
		}
		desktop, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		nums := make([]int, 4)
		ok := true
		for i := range nums {
			n, err := strconv.Atoi(fields[2+i])
			if err != nil {
				ok = false
				break
			}
			nums[i] = n
		}
		if !ok {
			continue
		}
		title := ""
		if len(fields) > 7 {
			title = strings.Join(fields[7:], " ")
		}
		x, y, w, h := nums[0], nums[1], nums[2], nums[3]
		windows = append(windows, redact.Window{
			Title:   title,
			Bounds:  redact.Rect{Left: x, Top: y, Right: x + w, Bottom: y + h},
			Visible: current == AnyDesktop || desktop == AnyDesktop || desktop == current,
		})
	}
	return windows
}

// XprintidleSource reads X11 idle time in milliseconds from `xprintidle`.
type XprintidleSource struct {
	run runner
}

func NewXprintidleSource() *XprintidleSource {
	return &XprintidleSource{run: runCommand}
}

func (s *XprintidleSource) SystemIdle(ctx context.Context) (time.Duration, error) {
	out, err := s.run(ctx, "xprintidle")
	if err != nil {
		return 0, err
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected xprintidle output %q: %w", out, err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// IoregSource reads HIDIdleTime from the IOHIDSystem registry entry on macOS.
type IoregSource struct {
	run runner
}

func NewIoregSource() *IoregSource {
	return &IoregSource{run: runCommand}
}

func (s *IoregSource) SystemIdle(ctx context.Context) (time.Duration, error) {
	out, err := s.run(ctx, "ioreg", "-c", "IOHIDSystem", "-d", "4")
	if err != nil {
		return 0, err
	}
	return ParseIoregIdle(out)
}

// ParseIoregIdle extracts the first "HIDIdleTime" = <nanoseconds> value.
func ParseIoregIdle(out []byte) (time.Duration, error) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		i := strings.Index(line, `"HIDIdleTime"`)
		if i < 0 {
			continue
		}
		eq := strings.Index(line[i:], "=")
		if eq < 0 {
			continue
		}
		value := strings.TrimSpace(line[i+eq+1:])
		ns, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("unexpected HIDIdleTime %q: %w", value, err)
		}
		return time.Duration(ns), nil
	}
	return 0, fmt.Errorf("HIDIdleTime not found")
}
