// Package encoder locates the ffmpeg binary and supervises the screen-capture
// and concatenation processes it runs.
package encoder

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
)

var (
	// ErrEncoderUnavailable means no usable binary was found or downloaded.
	ErrEncoderUnavailable = errors.New("encoder unavailable")
	// ErrSpawnFailed means the binary exists but the process did not start.
	ErrSpawnFailed = errors.New("encoder process failed to start")
)

// Params are the capture settings. Every segment of a session is encoded
// with the same Params so the segments can be joined with stream copy.
type Params struct {
	FrameRate   int
	Codec       string
	Preset      string
	CRF         int
	PixelFormat string
	// Display is the X11 display on Linux or the avfoundation device on macOS.
	Display string
}

// DefaultParams matches the agent's default recording config.
func DefaultParams() Params {
	return Params{
		FrameRate:   15,
		Codec:       "libx264",
		Preset:      "ultrafast",
		CRF:         28,
		PixelFormat: "yuv420p",
		Display:     ":0.0",
	}
}

// CommandError carries the stderr of a failed ffmpeg run.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("ffmpeg failed: %v: %s", e.Err, e.Stderr)
	}
	return fmt.Sprintf("ffmpeg failed: %v", e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// InputArgs selects the screen grabber for goos.
func InputArgs(goos string, p Params) []string {
	rate := strconv.Itoa(p.FrameRate)
	switch goos {
	case "windows":
		return []string{"-f", "gdigrab", "-framerate", rate, "-i", "desktop"}
	case "darwin":
		device := p.Display
		if device == "" || device[0] == ':' {
			device = "1:none"
		}
		return []string{"-f", "avfoundation", "-framerate", rate, "-capture_cursor", "1", "-i", device}
	default:
		display := p.Display
		if display == "" {
			display = ":0.0"
		}
		return []string{"-f", "x11grab", "-framerate", rate, "-i", display}
	}
}

// CaptureArgs is the full argument list for recording one segment.
func CaptureArgs(goos string, p Params, outputPath string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-y"}
	args = append(args, InputArgs(goos, p)...)

	pixFmt := p.PixelFormat
	if pixFmt == "" {
		pixFmt = "yuv420p"
	}
	args = append(args,
		"-c:v", p.Codec,
		"-preset", p.Preset,
		"-crf", strconv.Itoa(p.CRF),
		"-pix_fmt", pixFmt,
		"-f", "matroska",
		outputPath,
	)
	return args
}

// ConcatArgs joins the files listed in manifestPath without re-encoding.
func ConcatArgs(manifestPath, outputPath string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "concat",
		"-safe", "0",
		"-i", manifestPath,
		"-c", "copy",
		outputPath,
	}
}
