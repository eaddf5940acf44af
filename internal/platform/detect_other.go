//go:build !linux && !darwin && !windows

package platform

func Detect() Capabilities {
	return Capabilities{Screen: DisplayCapturer{}}
}
