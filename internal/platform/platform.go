// Package platform hides the OS-specific pieces the monitor depends on:
// screen capture, window enumeration and system idle time. Detect picks the
// implementations for the running OS once at startup.
package platform

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"deskwatch/internal/redact"

	"github.com/kbinani/screenshot"
)

var (
	ErrNoDisplayFound = errors.New("no active display found")
	ErrCaptureFailed  = errors.New("screen capture failed")
	ErrUnsupported    = errors.New("not supported on this platform")
)

// ScreenCapturer grabs the primary display. origin is the screen position of
// the image's top-left pixel.
type ScreenCapturer interface {
	CapturePrimary() (img *image.RGBA, origin image.Point, err error)
}

// WindowLister enumerates top-level windows for redaction.
type WindowLister interface {
	ListWindows(ctx context.Context) ([]redact.Window, error)
}

// IdleSource reports time since the last OS-level input event.
type IdleSource interface {
	SystemIdle(ctx context.Context) (time.Duration, error)
}

// Capabilities is the set of platform services available. Windows and Idle
// may be nil when the platform has no implementation.
type Capabilities struct {
	Screen  ScreenCapturer
	Windows WindowLister
	Idle    IdleSource
}

func (c Capabilities) String() string {
	return fmt.Sprintf("screen=%t windows=%t idle=%t", c.Screen != nil, c.Windows != nil, c.Idle != nil)
}

// DisplayCapturer captures display 0 with github.com/kbinani/screenshot.
type DisplayCapturer struct{}

func (DisplayCapturer) CapturePrimary() (*image.RGBA, image.Point, error) {
	if screenshot.NumActiveDisplays() < 1 {
		return nil, image.Point{}, ErrNoDisplayFound
	}
	bounds := screenshot.GetDisplayBounds(0)
	if bounds.Empty() {
		return nil, image.Point{}, ErrNoDisplayFound
	}
	img, err := screenshot.CaptureRect(bounds)
	if err != nil {
		return nil, image.Point{}, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}
	return img, bounds.Min, nil
}
