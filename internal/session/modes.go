package session

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"deskwatch/internal/activity"
	"deskwatch/internal/redact"
	"deskwatch/internal/screenshot"
	"deskwatch/internal/storage"

	"github.com/google/uuid"
)

// onlyFlags drives a screenshot-only sampler, which is never paused.
type onlyFlags struct {
	active atomic.Bool
}

func (f *onlyFlags) Active() bool { return f.active.Load() }
func (f *onlyFlags) Paused() bool { return false }

type screenshotOnly struct {
	sessionID string
	flags     *onlyFlags
	task      *task
}

func (s *screenshotOnly) stop(timeout time.Duration) {
	s.flags.active.Store(false)
	s.task.stop(timeout)
}

// StartScreenshots runs the sampler without a recording. A recording session
// already samples, so it counts as running.
func (c *Controller) StartScreenshots(ctx context.Context) (string, error) {
	if c.sampler == nil {
		return "", ErrNotRunning
	}
	if c.rec.Active() {
		return "", ErrAlreadyRunning
	}

	c.mu.Lock()
	if c.shots != nil || c.busy {
		c.mu.Unlock()
		return "", ErrAlreadyRunning
	}
	flags := &onlyFlags{}
	flags.active.Store(true)
	only := &screenshotOnly{sessionID: uuid.NewString(), flags: flags}
	job := screenshot.Job{
		SessionID: only.sessionID,
		Prefix:    screenshot.PrefixOnly,
		StartedAt: time.Now(),
		Flags:     flags,
	}
	only.task = c.spawn(func(ctx context.Context) { c.sampler.Run(ctx, job) })
	c.shots = only
	c.mu.Unlock()

	log.Printf("Session: screenshot-only mode started (%s)", only.sessionID)
	c.statusChanged(ctx)
	return only.sessionID, nil
}

// StopScreenshots ends screenshot-only mode and reports whether it was on.
func (c *Controller) StopScreenshots(ctx context.Context) bool {
	c.mu.Lock()
	only := c.shots
	c.shots = nil
	c.mu.Unlock()
	if only == nil {
		return false
	}

	only.stop(c.taskWait)
	log.Printf("Session: screenshot-only mode stopped (%s)", only.sessionID)
	c.statusChanged(ctx)
	return true
}

type idleMonitors struct {
	app    *activity.Monitor
	system *activity.Monitor
	tasks  []*task
}

// StartIdle starts the app idle monitor and, where the platform reports
// input idle time, the system one.
func (c *Controller) StartIdle(ctx context.Context) error {
	c.mu.Lock()
	if c.idle != nil {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	m := &idleMonitors{
		app: activity.NewMonitor(activity.AppSource{Tracker: c.tracker}, c.opts.Thresholds, c.store, c.opts.UserID, c.publishIdle),
	}
	if c.systemIdle != nil {
		m.system = activity.NewMonitor(activity.SystemSource{Platform: c.systemIdle}, c.opts.Thresholds, c.store, c.opts.UserID, c.publishIdle)
	}
	for _, mon := range []*activity.Monitor{m.app, m.system} {
		if mon == nil {
			continue
		}
		m.tasks = append(m.tasks, c.spawn(mon.Run))
	}
	c.idle = m
	c.mu.Unlock()

	c.statusChanged(ctx)
	return nil
}

// StopIdle aborts the idle monitors and reports whether they were running.
func (c *Controller) StopIdle(ctx context.Context) bool {
	c.mu.Lock()
	m := c.idle
	c.idle = nil
	c.mu.Unlock()
	if m == nil {
		return false
	}
	for _, t := range m.tasks {
		t.stop(c.taskWait)
	}
	c.statusChanged(ctx)
	return true
}

func (c *Controller) publishIdle(r activity.Report) {
	if c.events != nil {
		c.events.Publish("idle-status", r)
	}
}

// Touch records UI activity.
func (c *Controller) Touch() { c.tracker.Touch() }

// IdleStatus holds the app and system readings. Either may be nil: the
// system one when the platform cannot measure it, both when a cached read
// is asked for before the monitors have polled.
type IdleStatus struct {
	Running bool             `json:"running"`
	App     *activity.Report `json:"app,omitempty"`
	System  *activity.Report `json:"system,omitempty"`
}

// IdleStatus returns the last polled readings, or measures now when live is
// set.
func (c *Controller) IdleStatus(ctx context.Context, live bool) IdleStatus {
	c.mu.Lock()
	m := c.idle
	c.mu.Unlock()

	st := IdleStatus{Running: m != nil}
	if !live {
		if m == nil {
			return st
		}
		if r, ok := m.app.Last(); ok {
			st.App = &r
		}
		if m.system != nil {
			if r, ok := m.system.Last(); ok {
				st.System = &r
			}
		}
		return st
	}

	probe := m
	if probe == nil {
		probe = &idleMonitors{app: activity.NewMonitor(activity.AppSource{Tracker: c.tracker}, c.opts.Thresholds, nil, c.opts.UserID, nil)}
		if c.systemIdle != nil {
			probe.system = activity.NewMonitor(activity.SystemSource{Platform: c.systemIdle}, c.opts.Thresholds, nil, c.opts.UserID, nil)
		}
	}
	if r, err := probe.app.Live(ctx); err == nil {
		st.App = &r
	}
	if probe.system != nil {
		if r, err := probe.system.Live(ctx); err == nil {
			st.System = &r
		} else {
			log.Printf("Session: system idle unavailable: %v", err)
		}
	}
	return st
}

// LoadExclusions replaces the keyword set with the stored one and adds
// extra, which is not persisted.
func (c *Controller) LoadExclusions(ctx context.Context, extra ...string) {
	titles, outcome := c.store.ExcludedWindows(ctx)
	if outcome == storage.Saved {
		c.exclusions.Replace(titles)
	}
	for _, t := range extra {
		c.exclusions.Add(t)
	}
	log.Printf("Session: %d excluded window keywords loaded", len(c.exclusions.List()))
}

// AddExclusion reports false when the keyword was already present.
func (c *Controller) AddExclusion(ctx context.Context, keyword string) (bool, error) {
	keyword = redact.Normalize(keyword)
	if keyword == "" {
		return false, ErrInvalidKeyword
	}
	added := c.exclusions.Add(keyword)
	if added {
		c.store.AddExcludedWindow(ctx, keyword)
	}
	return added, nil
}

// RemoveExclusion reports false when the keyword was not present.
func (c *Controller) RemoveExclusion(ctx context.Context, keyword string) (bool, error) {
	keyword = redact.Normalize(keyword)
	if keyword == "" {
		return false, ErrInvalidKeyword
	}
	removed := c.exclusions.Remove(keyword)
	if removed {
		c.store.RemoveExcludedWindow(ctx, keyword)
	}
	return removed, nil
}

func (c *Controller) Exclusions() []string { return c.exclusions.List() }

// Interval returns the screenshot bounds in minutes.
func (c *Controller) Interval() (min, max int) {
	return c.sampler.Schedule.Minutes()
}

// SetInterval validates and applies new bounds; a running sampler picks them
// up on its next draw.
func (c *Controller) SetInterval(min, max int) error {
	if err := c.sampler.Schedule.Set(min, max); err != nil {
		return err
	}
	log.Printf("Session: screenshot interval set to %d-%d minutes", min, max)
	return nil
}
