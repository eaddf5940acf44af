//go:build darwin

package platform

// Detect on macOS has no window lister; enumerating other apps' windows
// needs CoreGraphics.
func Detect() Capabilities {
	return Capabilities{
		Screen: DisplayCapturer{},
		Idle:   NewIoregSource(),
	}
}
