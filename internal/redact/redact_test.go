package redact

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

var (
	white = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	black = color.RGBA{A: 0xff}
)

func whiteImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, white)
		}
	}
	return img
}

func countBlack(img *image.RGBA) int {
	n := 0
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if img.RGBAAt(x, y) == black {
				n++
			}
		}
	}
	return n
}

func TestRedact_SmallWindowExactRegion(t *testing.T) {
	img := whiteImage(100, 80)
	windows := []Window{{Title: "Online Banking - Firefox", Bounds: Rect{10, 20, 30, 25}, Visible: true}}

	n := Redact(img, image.Point{}, windows, []string{"banking"})

	assert.Equal(t, 1, n)
	for y := 0; y < 80; y++ {
		for x := 0; x < 100; x++ {
			inside := x >= 10 && x < 30 && y >= 20 && y < 25
			want := white
			if inside {
				want = black
			}
			if img.RGBAAt(x, y) != want {
				t.Fatalf("pixel (%d,%d) = %v, want %v", x, y, img.RGBAAt(x, y), want)
			}
		}
	}
}

func TestRedact_LargeWindowIsSkipped(t *testing.T) {
	img := whiteImage(100, 100)
	// 96x96 covers 92% of the frame.
	windows := []Window{{Title: "Secret", Bounds: Rect{0, 0, 96, 96}, Visible: true}}

	n := Redact(img, image.Point{}, windows, []string{"secret"})

	assert.Zero(t, n)
	assert.Zero(t, countBlack(img))
}

func TestRedact_DegenerateRectanglesAreSkipped(t *testing.T) {
	img := whiteImage(50, 50)
	windows := []Window{
		{Title: "secret inverted x", Bounds: Rect{30, 10, 10, 20}, Visible: true},
		{Title: "secret inverted y", Bounds: Rect{10, 30, 20, 10}, Visible: true},
		{Title: "secret empty", Bounds: Rect{5, 5, 5, 5}, Visible: true},
		{Title: "secret offscreen", Bounds: Rect{200, 200, 300, 300}, Visible: true},
	}

	assert.NotPanics(t, func() {
		assert.Zero(t, Redact(img, image.Point{}, windows, []string{"SECRET"}))
	})
	assert.Zero(t, countBlack(img))
}

func TestRedact_HiddenAndMinimizedWindows(t *testing.T) {
	img := whiteImage(50, 50)
	windows := []Window{
		{Title: "secret", Bounds: Rect{0, 0, 10, 10}, Visible: false},
		{Title: "secret", Bounds: Rect{0, 0, 10, 10}, Visible: true, Minimized: true},
		{Title: "notes", Bounds: Rect{0, 0, 10, 10}, Visible: true},
	}
	assert.Zero(t, Redact(img, image.Point{}, windows, []string{"secret"}))
	assert.Zero(t, Redact(img, image.Point{}, windows, nil))
	assert.Zero(t, Redact(img, image.Point{}, windows, []string{"", "  "}))
}

func TestRedact_ClampsPartiallyOffscreen(t *testing.T) {
	img := whiteImage(40, 40)
	windows := []Window{{Title: "Password Manager", Bounds: Rect{-10, -10, 5, 5}, Visible: true}}

	assert.Equal(t, 1, Redact(img, image.Point{}, windows, []string{"password"}))
	assert.Equal(t, 25, countBlack(img))
}

func TestRedact_DisplayOrigin(t *testing.T) {
	// Capture of a secondary display whose top-left is at (1920, 0).
	img := whiteImage(100, 100)
	windows := []Window{{Title: "secret", Bounds: Rect{1930, 10, 1940, 20}, Visible: true}}

	assert.Equal(t, 1, Redact(img, image.Point{X: 1920}, windows, []string{"secret"}))
	assert.Equal(t, black, img.RGBAAt(10, 10))
	assert.Equal(t, white, img.RGBAAt(9, 10))
	assert.Equal(t, 100, countBlack(img))
}

func TestMatchesIsCaseInsensitive(t *testing.T) {
	assert.True(t, Matches("Deskwatch ADMIN", []string{"deskwatch admin"}))
	assert.True(t, Matches("my bank", []string{"zzz", "BANK"}))
	assert.False(t, Matches("editor", []string{"bank"}))
}

func TestRedactLocalityProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		w := rapid.IntRange(1, 40).Draw(t, "w")
		h := rapid.IntRange(1, 40).Draw(t, "h")
		r := Rect{
			Left:   rapid.IntRange(-20, 60).Draw(t, "left"),
			Top:    rapid.IntRange(-20, 60).Draw(t, "top"),
			Right:  rapid.IntRange(-20, 60).Draw(t, "right"),
			Bottom: rapid.IntRange(-20, 60).Draw(t, "bottom"),
		}
		img := whiteImage(w, h)
		Redact(img, image.Point{}, []Window{{Title: "x", Bounds: r, Visible: true}}, []string{"x"})

		region, ok := Region(r, image.Point{}, img.Bounds())
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				inside := ok && image.Pt(x, y).In(region)
				got := img.RGBAAt(x, y)
				if inside && got != black {
					t.Fatalf("pixel (%d,%d) inside %v not black", x, y, region)
				}
				if !inside && got != white {
					t.Fatalf("pixel (%d,%d) outside region modified", x, y)
				}
			}
		}
		if ok && float64(region.Dx()*region.Dy()) > 0.9*float64(w*h) {
			t.Fatalf("region %v exceeds area limit", region)
		}
	})
}

func TestExclusions(t *testing.T) {
	e := NewExclusions("Bank", " bank ", "")
	assert.Equal(t, []string{"bank"}, e.List())

	assert.True(t, e.Add("Password"))
	assert.False(t, e.Add("password"))
	assert.False(t, e.Add("   "))
	assert.Equal(t, []string{"bank", "password"}, e.List())

	assert.True(t, e.Remove("BANK"))
	assert.False(t, e.Remove("bank"))

	e.Replace([]string{"Slack", "", "mail"})
	assert.Equal(t, []string{"mail", "slack"}, e.List())
}
