package storage

import (
	"context"
	"errors"
	"log"
	"time"
)

// ErrUnavailable is returned by a gateway that cannot reach its backing store.
var ErrUnavailable = errors.New("storage unavailable")

// Gateway is everything the monitoring core persists. Implementations may be
// unavailable at any moment; the core always goes through a Guard.
type Gateway interface {
	IsAvailable(ctx context.Context) bool
	SaveScreenshot(ctx context.Context, s Screenshot) error
	SaveRecording(ctx context.Context, r Recording) (RecordingID, error)
	SaveSegment(ctx context.Context, s Segment) error
	UpdateRecordingMetadata(ctx context.Context, u RecordingUpdate) error
	SaveActivity(ctx context.Context, a Activity) error
	RecordingIDBySession(ctx context.Context, sessionID string) (RecordingID, bool, error)
	SaveNetworkUsage(ctx context.Context, n NetworkUsage) error
	UpdateProcessStatus(ctx context.Context, p ProcessStatus) error
	AddExcludedWindow(ctx context.Context, title string) error
	RemoveExcludedWindow(ctx context.Context, title string) error
	ExcludedWindows(ctx context.Context) ([]string, error)
}

// Reader serves the listing endpoints.
type Reader interface {
	ListRecordings(ctx context.Context, limit int64) ([]Recording, error)
	ListScreenshots(ctx context.Context, sessionID string, limit int64) ([]Screenshot, error)
	ListActivity(ctx context.Context, limit int64) ([]Activity, error)
	ListNetworkUsage(ctx context.Context, limit int64) ([]NetworkUsage, error)
}

// Outcome classifies a best-effort write.
type Outcome int

const (
	Saved Outcome = iota
	Skipped
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Saved:
		return "saved"
	case Skipped:
		return "skipped"
	default:
		return "failed"
	}
}

// Guard wraps a Gateway with the degrade-and-continue policy: an unavailable
// store skips the write, a failing one is logged, and nothing is retried.
type Guard struct {
	gw      Gateway
	timeout time.Duration
}

func NewGuard(gw Gateway) *Guard {
	return &Guard{gw: gw, timeout: 10 * time.Second}
}

func (g *Guard) run(ctx context.Context, what string, op func(ctx context.Context) error) Outcome {
	if g == nil || g.gw == nil {
		return Skipped
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if !g.gw.IsAvailable(ctx) {
		log.Printf("Storage: unavailable, skipping %s", what)
		return Skipped
	}
	if err := op(ctx); err != nil {
		log.Printf("Storage: failed to %s: %v", what, err)
		return Failed
	}
	return Saved
}

func (g *Guard) SaveScreenshot(ctx context.Context, s Screenshot) Outcome {
	return g.run(ctx, "save screenshot "+s.Filename, func(ctx context.Context) error {
		return g.gw.SaveScreenshot(ctx, s)
	})
}

func (g *Guard) SaveRecording(ctx context.Context, r Recording) (RecordingID, Outcome) {
	var id RecordingID
	outcome := g.run(ctx, "save recording "+r.SessionID, func(ctx context.Context) error {
		var err error
		id, err = g.gw.SaveRecording(ctx, r)
		return err
	})
	return id, outcome
}

func (g *Guard) SaveSegment(ctx context.Context, s Segment) Outcome {
	return g.run(ctx, "save segment "+s.Filename, func(ctx context.Context) error {
		return g.gw.SaveSegment(ctx, s)
	})
}

func (g *Guard) UpdateRecordingMetadata(ctx context.Context, u RecordingUpdate) Outcome {
	return g.run(ctx, "update recording "+u.SessionID, func(ctx context.Context) error {
		return g.gw.UpdateRecordingMetadata(ctx, u)
	})
}

func (g *Guard) SaveActivity(ctx context.Context, a Activity) Outcome {
	return g.run(ctx, "save "+string(a.Kind)+" activity", func(ctx context.Context) error {
		return g.gw.SaveActivity(ctx, a)
	})
}

func (g *Guard) RecordingIDBySession(ctx context.Context, sessionID string) (RecordingID, bool) {
	var (
		id    RecordingID
		found bool
	)
	g.run(ctx, "look up recording "+sessionID, func(ctx context.Context) error {
		var err error
		id, found, err = g.gw.RecordingIDBySession(ctx, sessionID)
		return err
	})
	return id, found
}

func (g *Guard) SaveNetworkUsage(ctx context.Context, n NetworkUsage) Outcome {
	return g.run(ctx, "save network usage", func(ctx context.Context) error {
		return g.gw.SaveNetworkUsage(ctx, n)
	})
}

func (g *Guard) UpdateProcessStatus(ctx context.Context, p ProcessStatus) Outcome {
	return g.run(ctx, "update process status", func(ctx context.Context) error {
		return g.gw.UpdateProcessStatus(ctx, p)
	})
}

func (g *Guard) AddExcludedWindow(ctx context.Context, title string) Outcome {
	return g.run(ctx, "add excluded window", func(ctx context.Context) error {
		return g.gw.AddExcludedWindow(ctx, title)
	})
}

func (g *Guard) RemoveExcludedWindow(ctx context.Context, title string) Outcome {
	return g.run(ctx, "remove excluded window", func(ctx context.Context) error {
		return g.gw.RemoveExcludedWindow(ctx, title)
	})
}

func (g *Guard) ExcludedWindows(ctx context.Context) ([]string, Outcome) {
	var titles []string
	outcome := g.run(ctx, "load excluded windows", func(ctx context.Context) error {
		var err error
		titles, err = g.gw.ExcludedWindows(ctx)
		return err
	})
	return titles, outcome
}
