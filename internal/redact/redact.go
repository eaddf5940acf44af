// Package redact blacks out on-screen windows whose titles match an excluded
// keyword before a captured frame leaves the machine.
package redact

import (
	"image"
	"image/color"
	"image/draw"
	"strings"
)

// maxAreaRatio guards against a misreported full-screen window blanking the
// whole capture.
const maxAreaRatio = 0.9

// Rect is a window rectangle in screen coordinates. It is kept separate from
// image.Rectangle, which would canonicalize inverted rectangles.
type Rect struct {
	Left, Top, Right, Bottom int
}

// Window is one entry from the platform window list.
type Window struct {
	Title     string
	Bounds    Rect
	Visible   bool
	Minimized bool
}

// Matches reports whether title contains any pattern, ignoring case. Empty
// patterns never match.
func Matches(title string, patterns []string) bool {
	lower := strings.ToLower(title)
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Region converts a window rectangle to image coordinates and clamps it to
// bounds. ok is false when the result is degenerate or too large.
func Region(r Rect, origin image.Point, bounds image.Rectangle) (image.Rectangle, bool) {
	left := clamp(r.Left-origin.X+bounds.Min.X, bounds.Min.X, bounds.Max.X)
	top := clamp(r.Top-origin.Y+bounds.Min.Y, bounds.Min.Y, bounds.Max.Y)
	right := clamp(r.Right-origin.X+bounds.Min.X, bounds.Min.X, bounds.Max.X)
	bottom := clamp(r.Bottom-origin.Y+bounds.Min.Y, bounds.Min.Y, bounds.Max.Y)

	if right <= left || bottom <= top {
		return image.Rectangle{}, false
	}

	area := (right - left) * (bottom - top)
	total := bounds.Dx() * bounds.Dy()
	if total == 0 || float64(area) > maxAreaRatio*float64(total) {
		return image.Rectangle{}, false
	}
	return image.Rect(left, top, right, bottom), true
}

// Redact fills every visible, non-minimized window matching patterns with
// opaque black. origin is the screen position of the image's top-left pixel.
// It returns the number of regions filled.
func Redact(img draw.Image, origin image.Point, windows []Window, patterns []string) int {
	if img == nil || len(patterns) == 0 {
		return 0
	}
	bounds := img.Bounds()
	black := image.NewUniform(color.RGBA{A: 0xff})

	filled := 0
	for _, w := range windows {
		if !w.Visible || w.Minimized || !Matches(w.Title, patterns) {
			continue
		}
		region, ok := Region(w.Bounds, origin, bounds)
		if !ok {
			continue
		}
		draw.Draw(img, region, black, image.Point{}, draw.Src)
		filled++
	}
	return filled
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
