//go:build linux

package platform

import (
	"log"
	"os/exec"
)

// Detect uses wmctrl and xprintidle when they are installed.
func Detect() Capabilities {
	caps := Capabilities{Screen: DisplayCapturer{}}
	if _, err := exec.LookPath("wmctrl"); err == nil {
		caps.Windows = NewWmctrlLister()
	} else {
		log.Printf("Platform: wmctrl not found, window redaction disabled")
	}
	if _, err := exec.LookPath("xprintidle"); err == nil {
		caps.Idle = NewXprintidleSource()
	} else {
		log.Printf("Platform: xprintidle not found, system idle reporting disabled")
	}
	return caps
}
