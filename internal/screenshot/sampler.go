// Package screenshot runs the randomized screen sampler that accompanies a
// recording session or runs on its own in screenshot-only mode.
package screenshot

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"time"

	"deskwatch/internal/platform"
	"deskwatch/internal/redact"
	"deskwatch/internal/storage"
)

// Flags are the session flags the sampler polls. It never changes them.
type Flags interface {
	Active() bool
	Paused() bool
}

// Persister is where frames go; *storage.Guard fits.
type Persister interface {
	SaveScreenshot(ctx context.Context, s storage.Screenshot) storage.Outcome
}

type Toucher interface {
	Touch()
}

type Publisher interface {
	Publish(kind string, payload interface{})
}

const (
	PrefixRecording = "snapshot"
	PrefixOnly      = "screenshot"
)

// Job is one sampling run.
type Job struct {
	SessionID string
	Prefix    string
	StartedAt time.Time
	Flags     Flags
}

// Taken is published after every successful capture.
type Taken struct {
	SessionID string `json:"session_id"`
	Filename  string `json:"filename"`
	Size      int    `json:"size"`
	Redacted  int    `json:"redacted_regions"`
	Stored    string `json:"stored"`
}

type Sampler struct {
	Screen     platform.ScreenCapturer
	Windows    platform.WindowLister
	Exclusions *redact.Exclusions
	Store      Persister
	Schedule   *Schedule
	Activity   Toucher
	Events     Publisher
	UserID     string
	// LocalDir keeps a PNG copy on disk when set.
	LocalDir string

	activePoll time.Duration
	pausePoll  time.Duration
	nextWait   func() time.Duration

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewSampler(screen platform.ScreenCapturer, schedule *Schedule) *Sampler {
	return &Sampler{
		Screen:     screen,
		Schedule:   schedule,
		Exclusions: redact.NewExclusions(),
		activePoll: time.Second,
		pausePoll:  100 * time.Millisecond,
		rng:        rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64())),
	}
}

func (s *Sampler) interval() time.Duration {
	if s.nextWait != nil {
		return s.nextWait()
	}
	min, max := s.Schedule.Bounds()
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return NextInterval(s.rng, min, max)
}

// Run samples until the job's session goes inactive or ctx is cancelled.
func (s *Sampler) Run(ctx context.Context, job Job) {
	log.Printf("Screenshot: sampler started for session %s", job.SessionID)
	defer log.Printf("Screenshot: sampler stopped for session %s", job.SessionID)

	for {
		if ctx.Err() != nil || !job.Flags.Active() {
			return
		}
		if job.Flags.Paused() {
			if !sleep(ctx, s.pausePoll) {
				return
			}
			continue
		}

		s.CaptureOnce(ctx, job)

		if !s.wait(ctx, job.Flags, s.interval()) {
			return
		}
	}
}

// wait sleeps for d, re-checking the flags every second (every 100ms while
// paused). It reports false when the session ended or ctx was cancelled.
func (s *Sampler) wait(ctx context.Context, flags Flags, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		if !flags.Active() {
			return false
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		step := s.activePoll
		if flags.Paused() {
			step = s.pausePoll
		}
		if step > remaining {
			step = remaining
		}
		if !sleep(ctx, step) {
			return false
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Filename is {prefix}_{session}_{elapsed_ms}.png.
func Filename(prefix, sessionID string, elapsed time.Duration) string {
	return fmt.Sprintf("%s_%s_%d.png", prefix, sessionID, elapsed.Milliseconds())
}

// CaptureOnce takes, redacts and stores one frame. Failures are logged and
// reported as false; they never stop the sampler.
func (s *Sampler) CaptureOnce(ctx context.Context, job Job) bool {
	img, origin, err := s.Screen.CapturePrimary()
	if err != nil {
		log.Printf("Screenshot: capture failed: %v", err)
		return false
	}

	redacted := 0
	if s.Windows != nil && s.Exclusions != nil {
		if patterns := s.Exclusions.List(); len(patterns) > 0 {
			windows, err := s.Windows.ListWindows(ctx)
			if err != nil {
				log.Printf("Screenshot: window list unavailable, redaction skipped: %v", err)
			} else {
				redacted = redact.Redact(img, origin, windows, patterns)
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		log.Printf("Screenshot: encode failed: %v", err)
		return false
	}

	now := time.Now()
	elapsed := now.Sub(job.StartedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	prefix := job.Prefix
	if prefix == "" {
		prefix = PrefixOnly
	}
	name := Filename(prefix, job.SessionID, elapsed)

	if s.LocalDir != "" {
		if err := os.MkdirAll(s.LocalDir, 0755); err == nil {
			if err := os.WriteFile(filepath.Join(s.LocalDir, name), buf.Bytes(), 0644); err != nil {
				log.Printf("Screenshot: failed to keep local copy: %v", err)
			}
		}
	}

	outcome := storage.Skipped
	if s.Store != nil {
		outcome = s.Store.SaveScreenshot(ctx, storage.Screenshot{
			UserID:       s.UserID,
			SessionID:    job.SessionID,
			Filename:     name,
			Size:         int64(buf.Len()),
			OffsetMillis: elapsed.Milliseconds(),
			CreatedAt:    now,
			Image:        buf.Bytes(),
		})
	}

	if s.Activity != nil {
		s.Activity.Touch()
	}
	if s.Events != nil {
		s.Events.Publish("screenshot-taken", Taken{
			SessionID: job.SessionID,
			Filename:  name,
			Size:      buf.Len(),
			Redacted:  redacted,
			Stored:    outcome.String(),
		})
	}
	return true
}
