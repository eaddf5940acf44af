// Package session owns the agent's mutable monitoring state: the recording
// session, the screenshot samplers and the idle monitors. One Controller is
// built at startup and shared by every command handler.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"deskwatch/internal/activity"
	"deskwatch/internal/encoder"
	"deskwatch/internal/platform"
	"deskwatch/internal/recorder"
	"deskwatch/internal/redact"
	"deskwatch/internal/screenshot"
	"deskwatch/internal/storage"
)

var (
	ErrAlreadyRunning = errors.New("already running")
	ErrNotRunning     = errors.New("not running")
	ErrNotPaused      = errors.New("not paused")
	ErrInvalidKeyword = errors.New("keyword must not be empty")
)

type State int

const (
	Idle State = iota
	Recording
	Paused
)

func (s State) String() string {
	switch s {
	case Recording:
		return "recording"
	case Paused:
		return "paused"
	default:
		return "idle"
	}
}

// Prober reads duration and size from a finished file; *encoder.Supervisor
// fits.
type Prober interface {
	Probe(ctx context.Context, path string) (*encoder.Metadata, error)
}

type Publisher interface {
	Publish(kind string, payload interface{})
}

type Options struct {
	UserID        string
	RecordingsDir string
	// ScreenshotsDir keeps local PNG copies when set.
	ScreenshotsDir string
	Thresholds     activity.Thresholds
}

type Deps struct {
	Recorder   *recorder.SegmentManager
	Prober     Prober
	Sampler    *screenshot.Sampler
	Store      *storage.Guard
	Exclusions *redact.Exclusions
	Tracker    *activity.Tracker
	SystemIdle platform.IdleSource
	Events     Publisher
}

// task is a cancellable background goroutine.
type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (c *Controller) spawn(run func(ctx context.Context)) *task {
	ctx, cancel := context.WithCancel(c.root)
	t := &task{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		run(ctx)
	}()
	return t
}

// stop cancels the task and waits for it, giving up after timeout.
func (t *task) stop(timeout time.Duration) {
	if t == nil {
		return
	}
	t.cancel()
	select {
	case <-t.done:
	case <-time.After(timeout):
		log.Printf("Session: background task did not stop within %s", timeout)
	}
}

type Controller struct {
	opts       Options
	rec        *recorder.SegmentManager
	prober     Prober
	sampler    *screenshot.Sampler
	store      *storage.Guard
	exclusions *redact.Exclusions
	tracker    *activity.Tracker
	systemIdle platform.IdleSource
	events     Publisher

	root       context.Context
	cancelRoot context.CancelFunc
	taskWait   time.Duration

	mu          sync.Mutex
	busy        bool
	released    chan struct{}
	recSampler  *task
	recordingID storage.RecordingID
	recorded    time.Duration
	shots       *screenshotOnly
	idle        *idleMonitors
}

func New(opts Options, deps Deps) *Controller {
	root, cancel := context.WithCancel(context.Background())
	if deps.Exclusions == nil {
		deps.Exclusions = redact.NewExclusions()
	}
	if deps.Tracker == nil {
		deps.Tracker = activity.NewTracker()
	}
	if opts.Thresholds == (activity.Thresholds{}) {
		opts.Thresholds = activity.DefaultThresholds()
	}
	if deps.Sampler != nil {
		deps.Sampler.Exclusions = deps.Exclusions
		deps.Sampler.Activity = deps.Tracker
		deps.Sampler.UserID = opts.UserID
		deps.Sampler.LocalDir = opts.ScreenshotsDir
		if deps.Store != nil {
			deps.Sampler.Store = deps.Store
		}
		if deps.Events != nil {
			deps.Sampler.Events = deps.Events
		}
	}
	return &Controller{
		opts:       opts,
		rec:        deps.Recorder,
		prober:     deps.Prober,
		sampler:    deps.Sampler,
		store:      deps.Store,
		exclusions: deps.Exclusions,
		tracker:    deps.Tracker,
		systemIdle: deps.SystemIdle,
		events:     deps.Events,
		root:       root,
		cancelRoot: cancel,
		taskWait:   5 * time.Second,
	}
}

// begin claims the single lifecycle slot; errIfBusy is what a concurrent
// caller gets back.
func (c *Controller) begin(errIfBusy error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return errIfBusy
	}
	c.claimLocked()
	return nil
}

// await claims the slot, waiting for a command in flight to finish.
func (c *Controller) await(ctx context.Context) error {
	for {
		c.mu.Lock()
		if !c.busy {
			c.claimLocked()
			c.mu.Unlock()
			return nil
		}
		released := c.released
		c.mu.Unlock()

		select {
		case <-released:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Controller) claimLocked() {
	c.busy = true
	c.released = make(chan struct{})
}

func (c *Controller) end() {
	c.mu.Lock()
	c.busy = false
	close(c.released)
	c.mu.Unlock()
}

// State is derived from the segment manager.
func (c *Controller) State() State {
	snap, ok := c.rec.Snapshot()
	switch {
	case !ok:
		return Idle
	case snap.Paused:
		return Paused
	default:
		return Recording
	}
}

type StartResult struct {
	SessionID string `json:"session_id"`
	Segment   string `json:"segment"`
}

// Start begins a recording session with its first segment and screenshot
// sampler.
func (c *Controller) Start(ctx context.Context) (StartResult, error) {
	if err := c.begin(ErrAlreadyRunning); err != nil {
		return StartResult{}, err
	}
	defer c.end()

	if err := os.MkdirAll(c.opts.RecordingsDir, 0755); err != nil {
		return StartResult{}, fmt.Errorf("failed to create recordings directory: %w", err)
	}

	id, err := c.rec.BeginSession(c.opts.RecordingsDir)
	if errors.Is(err, recorder.ErrSessionExists) {
		return StartResult{}, ErrAlreadyRunning
	}
	if err != nil {
		return StartResult{}, err
	}

	path, err := c.rec.StartSegment(ctx)
	if err != nil {
		c.rec.Clear()
		log.Printf("Session: failed to start recording: %v", err)
		return StartResult{}, err
	}
	log.Printf("Session: recording %s started", id)

	// The recording sampler replaces a screenshot-only one.
	c.mu.Lock()
	only := c.shots
	c.shots = nil
	c.mu.Unlock()
	if only != nil {
		only.stop(c.taskWait)
	}

	snap, _ := c.rec.Snapshot()
	var sampler *task
	if c.sampler != nil {
		job := screenshot.Job{
			SessionID: id,
			Prefix:    screenshot.PrefixRecording,
			StartedAt: snap.StartedAt,
			Flags:     c.rec,
		}
		sampler = c.spawn(func(ctx context.Context) { c.sampler.Run(ctx, job) })
	}

	final := recorder.FinalPath(snap.BaseDir, id)
	now := time.Now()
	recID, _ := c.store.SaveRecording(ctx, storage.Recording{
		UserID:    c.opts.UserID,
		SessionID: id,
		Filename:  filepath.Base(final),
		FilePath:  final,
		CreatedAt: now,
		UpdatedAt: now,
	})

	c.mu.Lock()
	c.recSampler = sampler
	c.recordingID = recID
	c.recorded = 0
	c.mu.Unlock()

	c.statusChanged(ctx)
	return StartResult{SessionID: id, Segment: path}, nil
}

// Pause closes the running segment.
func (c *Controller) Pause(ctx context.Context) error {
	if err := c.begin(ErrNotRunning); err != nil {
		return err
	}
	defer c.end()

	seg, err := c.rec.Pause()
	if errors.Is(err, recorder.ErrNotCapturing) {
		return ErrNotRunning
	}
	if err != nil {
		return err
	}
	log.Printf("Session: recording paused after segment %d", seg.Ordinal)

	c.saveSegment(ctx, seg)
	c.statusChanged(ctx)
	return nil
}

// Resume opens the next segment of a paused session.
func (c *Controller) Resume(ctx context.Context) (string, error) {
	if err := c.begin(ErrNotPaused); err != nil {
		return "", err
	}
	defer c.end()

	if !c.rec.Paused() {
		return "", ErrNotPaused
	}
	path, err := c.rec.Resume(ctx)
	if errors.Is(err, recorder.ErrNotPaused) || errors.Is(err, recorder.ErrCaptureActive) || errors.Is(err, recorder.ErrNoSession) {
		return "", ErrNotPaused
	}
	if err != nil {
		log.Printf("Session: failed to resume recording: %v", err)
		return "", err
	}
	log.Printf("Session: recording resumed into %s", filepath.Base(path))

	c.statusChanged(ctx)
	return path, nil
}

type StopResult struct {
	Stopped   bool   `json:"stopped"`
	SessionID string `json:"session_id,omitempty"`
	Output    string `json:"output,omitempty"`
	Message   string `json:"message"`
	// Warning carries a concatenation failure; the session is still closed.
	Warning string `json:"warning,omitempty"`
}

// Stop ends the session. It waits for a start, pause or resume in flight,
// is a no-op when nothing is recording, and always returns the controller
// to Idle, reporting a failed join as a warning.
func (c *Controller) Stop(ctx context.Context) (StopResult, error) {
	if err := c.await(ctx); err != nil {
		return StopResult{}, err
	}
	defer c.end()

	snap, ok := c.rec.Snapshot()
	if !ok {
		return StopResult{Message: "nothing to stop"}, nil
	}

	c.mu.Lock()
	sampler := c.recSampler
	c.recSampler = nil
	c.mu.Unlock()
	sampler.stop(c.taskWait)

	if seg, had := c.rec.StopCurrent(); had {
		c.saveSegment(ctx, seg)
	}

	c.mu.Lock()
	recorded := c.recorded
	c.mu.Unlock()

	res := StopResult{Stopped: true, SessionID: snap.ID, Message: "recording stopped"}
	out, err := c.rec.Finalize(ctx)
	var concatErr *recorder.ConcatenationError
	switch {
	case errors.As(err, &concatErr):
		res.Warning = fmt.Sprintf("%v; segments kept in %s, run `deskwatch recover %s` to retry", concatErr, snap.BaseDir, snap.ID)
		log.Printf("Session: %s", res.Warning)
	case err != nil:
		res.Warning = err.Error()
		log.Printf("Session: finalize failed: %v", err)
	default:
		res.Output = out
	}

	if out != "" {
		c.updateFinalMetadata(ctx, snap.ID, out, recorded)
	}

	c.rec.Clear()
	c.mu.Lock()
	c.recordingID = ""
	c.recorded = 0
	c.mu.Unlock()
	log.Printf("Session: recording %s stopped", snap.ID)

	c.statusChanged(ctx)
	return res, nil
}

func (c *Controller) metadata(ctx context.Context, path string, fallback time.Duration) (float64, int64) {
	duration := fallback.Seconds()
	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}
	if c.prober != nil {
		if md, err := c.prober.Probe(ctx, path); err == nil && md.DurationSeconds > 0 {
			duration = md.DurationSeconds
		}
	}
	return duration, size
}

func (c *Controller) saveSegment(ctx context.Context, seg recorder.Segment) {
	c.mu.Lock()
	c.recorded += seg.Duration()
	recID := c.recordingID
	c.mu.Unlock()

	snap, ok := c.rec.Snapshot()
	if recID == "" && ok {
		if id, found := c.store.RecordingIDBySession(ctx, snap.ID); found {
			recID = id
			c.mu.Lock()
			c.recordingID = id
			c.mu.Unlock()
		}
	}
	if recID == "" {
		return
	}

	duration, size := c.metadata(ctx, seg.Path, seg.Duration())
	c.store.SaveSegment(ctx, storage.Segment{
		UserID:          c.opts.UserID,
		RecordingID:     recID,
		Ordinal:         seg.Ordinal,
		Filename:        filepath.Base(seg.Path),
		FilePath:        seg.Path,
		DurationSeconds: duration,
		FileSize:        size,
		CreatedAt:       seg.StartedAt,
	})
}

func (c *Controller) updateFinalMetadata(ctx context.Context, sessionID, out string, recorded time.Duration) {
	duration, size := c.metadata(ctx, out, recorded)
	name := filepath.Base(out)
	c.store.UpdateRecordingMetadata(ctx, storage.RecordingUpdate{
		SessionID:       sessionID,
		Filename:        &name,
		FilePath:        &out,
		DurationSeconds: &duration,
		FileSize:        &size,
	})
}

// Shutdown stops every activity and cancels background tasks.
func (c *Controller) Shutdown(ctx context.Context) {
	if res, err := c.Stop(ctx); err != nil {
		log.Printf("Session: stop during shutdown failed: %v", err)
	} else if res.Warning != "" {
		log.Printf("Session: stop during shutdown: %s", res.Warning)
	}
	c.StopScreenshots(ctx)
	c.StopIdle(ctx)
	c.cancelRoot()
}
