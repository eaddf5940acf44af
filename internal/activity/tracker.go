// Package activity classifies the user as active or idle from the time since
// their last input and persists the transitions at a bounded rate.
package activity

import (
	"context"
	"sync"
	"time"

	"deskwatch/internal/platform"
)

// Tracker holds the in-process last-activity timestamp. UI callbacks and
// successful screenshots call Touch.
type Tracker struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func NewTracker() *Tracker {
	t := &Tracker{now: time.Now}
	t.last = t.now()
	return t
}

func (t *Tracker) Touch() {
	t.mu.Lock()
	t.last = t.now()
	t.mu.Unlock()
}

func (t *Tracker) Last() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Since is the time elapsed since the last Touch.
func (t *Tracker) Since() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	d := t.now().Sub(t.last)
	if d < 0 {
		return 0
	}
	return d
}

// Source measures how long the user has been idle.
type Source interface {
	Name() string
	IdleFor(ctx context.Context) (time.Duration, error)
}

// AppSource is app idle: time since the tracker was last touched.
type AppSource struct {
	Tracker *Tracker
}

func (AppSource) Name() string { return "app" }

func (s AppSource) IdleFor(context.Context) (time.Duration, error) {
	return s.Tracker.Since(), nil
}

// SystemSource is system idle: time since the last OS input event.
type SystemSource struct {
	Platform platform.IdleSource
}

func (SystemSource) Name() string { return "system" }

func (s SystemSource) IdleFor(ctx context.Context) (time.Duration, error) {
	if s.Platform == nil {
		return 0, platform.ErrUnsupported
	}
	return s.Platform.SystemIdle(ctx)
}
