// Package recorder splits one recording session into encoder segments and
// joins them back together when the session ends.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"deskwatch/internal/encoder"

	"github.com/google/uuid"
)

var (
	ErrSessionExists = errors.New("a recording session already exists")
	ErrNoSession     = errors.New("no recording session")
	ErrCaptureActive = errors.New("a capture process is already running")
	ErrNotCapturing  = errors.New("no capture process is running")
	ErrNotPaused     = errors.New("recording is not paused")
)

// Encoder is the part of encoder.Supervisor the manager drives.
type Encoder interface {
	StartCapture(ctx context.Context, outputPath string, params encoder.Params) (*encoder.Process, error)
	StopCapture(p *encoder.Process)
	Concat(ctx context.Context, manifestPath, outputPath string) error
}

// Session is a copy of the manager's state; changing it has no effect.
type Session struct {
	ID        string
	BaseDir   string
	Segments  []string
	Paused    bool
	Capturing bool
	StartedAt time.Time
}

// Segment describes a closed segment.
type Segment struct {
	Ordinal   int
	Path      string
	StartedAt time.Time
	EndedAt   time.Time
}

func (s Segment) Duration() time.Duration { return s.EndedAt.Sub(s.StartedAt) }

type session struct {
	id        string
	baseDir   string
	segments  []string
	paused    bool
	startedAt time.Time
}

// SegmentManager owns at most one session. The lock is never held while an
// encoder process is being started or stopped.
type SegmentManager struct {
	enc    Encoder
	params encoder.Params

	mu       sync.Mutex
	session  *session
	current  *encoder.Process
	starting bool

	newID func() string
}

func NewSegmentManager(enc Encoder, params encoder.Params) *SegmentManager {
	return &SegmentManager{
		enc:    enc,
		params: params,
		newID:  uuid.NewString,
	}
}

// SegmentPath is the file for one segment of a session.
func SegmentPath(dir, sessionID string, ordinal int) string {
	return filepath.Join(dir, fmt.Sprintf("recording_%s_seg_%d.mkv", sessionID, ordinal))
}

// FinalPath is the joined recording for a session.
func FinalPath(dir, sessionID string) string {
	return filepath.Join(dir, fmt.Sprintf("recording_%s.mkv", sessionID))
}

// BeginSession allocates a new session id with an empty segment list.
func (m *SegmentManager) BeginSession(baseDir string) (string, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("invalid recording directory: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		return "", ErrSessionExists
	}
	m.session = &session{
		id:        m.newID(),
		baseDir:   abs,
		startedAt: time.Now(),
	}
	return m.session.id, nil
}

// StartSegment starts capture into the next ordinal. The path is appended
// only once the process is running, so a failed spawn leaves no gap.
func (m *SegmentManager) StartSegment(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return "", ErrNoSession
	}
	if m.current != nil || m.starting {
		m.mu.Unlock()
		return "", ErrCaptureActive
	}
	sess := m.session
	path := SegmentPath(sess.baseDir, sess.id, len(sess.segments))
	m.starting = true
	m.mu.Unlock()

	proc, err := m.enc.StartCapture(ctx, path, m.params)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.starting = false
	if err != nil {
		return "", err
	}
	if m.session != sess {
		// Session was cleared while the encoder was starting.
		go m.enc.StopCapture(proc)
		return "", ErrNoSession
	}
	sess.segments = append(sess.segments, path)
	m.current = proc
	return path, nil
}

// Pause stops the running segment and marks the session paused.
func (m *SegmentManager) Pause() (Segment, error) {
	m.mu.Lock()
	if m.session == nil || m.current == nil {
		m.mu.Unlock()
		return Segment{}, ErrNotCapturing
	}
	seg := m.closeCurrentLocked()
	m.session.paused = true
	proc := m.current
	m.current = nil
	m.mu.Unlock()

	m.enc.StopCapture(proc)
	seg.EndedAt = time.Now()
	return seg, nil
}

// Resume starts a new segment and clears the paused flag.
func (m *SegmentManager) Resume(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.session == nil || m.current != nil || m.starting {
		m.mu.Unlock()
		return "", ErrNotPaused
	}
	m.mu.Unlock()

	path, err := m.StartSegment(ctx)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	if m.session != nil {
		m.session.paused = false
	}
	m.mu.Unlock()
	return path, nil
}

// StopCurrent stops the running segment, if any, without pausing.
func (m *SegmentManager) StopCurrent() (Segment, bool) {
	m.mu.Lock()
	if m.session == nil || m.current == nil {
		m.mu.Unlock()
		return Segment{}, false
	}
	seg := m.closeCurrentLocked()
	proc := m.current
	m.current = nil
	m.mu.Unlock()

	m.enc.StopCapture(proc)
	seg.EndedAt = time.Now()
	return seg, true
}

func (m *SegmentManager) closeCurrentLocked() Segment {
	n := len(m.session.segments)
	return Segment{
		Ordinal:   n - 1,
		Path:      m.session.segments[n-1],
		StartedAt: m.current.StartedAt,
	}
}

// Finalize joins the session's segments into FinalPath. The session itself
// stays until Clear is called.
func (m *SegmentManager) Finalize(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return "", nil
	}
	if m.current != nil || m.starting {
		m.mu.Unlock()
		return "", ErrCaptureActive
	}
	id := m.session.id
	dir := m.session.baseDir
	segments := append([]string(nil), m.session.segments...)
	m.mu.Unlock()

	out, err := finalizeSegments(ctx, m.enc, dir, id, segments)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	if m.session != nil && m.session.id == id {
		m.session.segments = nil
	}
	m.mu.Unlock()
	return out, nil
}

// Clear forgets the session. Any running process must be stopped first.
func (m *SegmentManager) Clear() {
	m.mu.Lock()
	m.session = nil
	m.mu.Unlock()
}

// Snapshot returns the current session, or false if there is none.
func (m *SegmentManager) Snapshot() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return Session{}, false
	}
	return Session{
		ID:        m.session.id,
		BaseDir:   m.session.baseDir,
		Segments:  append([]string(nil), m.session.segments...),
		Paused:    m.session.paused,
		Capturing: m.current != nil,
		StartedAt: m.session.startedAt,
	}, true
}

// Active reports whether a session exists, paused or not.
func (m *SegmentManager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

// Paused reports whether the current session is paused.
func (m *SegmentManager) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil && m.session.paused
}

// finalizeSegments: none is a no-op, one is renamed, more are concatenated
// in slice order and deleted only after the join succeeds.
func finalizeSegments(ctx context.Context, enc Encoder, dir, sessionID string, segments []string) (string, error) {
	out := FinalPath(dir, sessionID)

	switch len(segments) {
	case 0:
		return "", nil
	case 1:
		if err := os.Rename(segments[0], out); err != nil {
			return "", fmt.Errorf("failed to rename segment: %w", err)
		}
		return out, nil
	}

	manifestPath := filepath.Join(dir, fmt.Sprintf("recording_%s_concat.txt", sessionID))
	if err := os.WriteFile(manifestPath, []byte(Manifest(segments)), 0644); err != nil {
		return "", fmt.Errorf("failed to write concat manifest: %w", err)
	}

	if err := enc.Concat(ctx, manifestPath, out); err != nil {
		cerr := &ConcatenationError{Err: err}
		var ce *encoder.CommandError
		if errors.As(err, &ce) {
			cerr.Stderr = ce.Stderr
		}
		return "", cerr
	}

	for _, seg := range segments {
		if err := os.Remove(seg); err != nil && !os.IsNotExist(err) {
			log.Printf("Recorder: failed to delete segment %s: %v", seg, err)
		}
	}
	if err := os.Remove(manifestPath); err != nil {
		log.Printf("Recorder: failed to delete manifest %s: %v", manifestPath, err)
	}
	return out, nil
}

// ConcatenationError means the encoder could not join the segments. The
// segment files are kept.
type ConcatenationError struct {
	Stderr string
	Err    error
}

func (e *ConcatenationError) Error() string {
	if e.Stderr != "" {
		return "concatenation failed: " + e.Stderr
	}
	return fmt.Sprintf("concatenation failed: %v", e.Err)
}

func (e *ConcatenationError) Unwrap() error { return e.Err }
