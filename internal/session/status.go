package session

import (
	"context"
	"time"

	"deskwatch/internal/storage"
)

// Status is recomputed from live state on every call.
type Status struct {
	State     string `json:"state"`
	SessionID string `json:"session_id,omitempty"`
	Segments  int    `json:"segments"`
	// ScreenshotSessionID is set in screenshot-only mode.
	ScreenshotSessionID string `json:"screenshot_session_id,omitempty"`
	storage.ProcessStatus
}

func (c *Controller) Status() Status {
	st := Status{State: Idle.String()}
	if snap, ok := c.rec.Snapshot(); ok {
		st.State = Recording.String()
		if snap.Paused {
			st.State = Paused.String()
		}
		st.SessionID = snap.ID
		st.Segments = len(snap.Segments)
		st.RecordingActive = true
	}

	c.mu.Lock()
	st.ScreenshotActive = c.recSampler != nil || c.shots != nil
	if c.shots != nil {
		st.ScreenshotSessionID = c.shots.sessionID
	}
	st.IdleDetectionActive = c.idle != nil
	c.mu.Unlock()

	st.UpdatedAt = time.Now()
	return st
}

// statusChanged persists and publishes the current status.
func (c *Controller) statusChanged(ctx context.Context) {
	st := c.Status()
	c.store.UpdateProcessStatus(ctx, st.ProcessStatus)
	if c.events != nil {
		c.events.Publish("status", st)
	}
}
