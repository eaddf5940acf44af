package activity

import (
	"context"
	"log"
	"sync"
	"time"

	"deskwatch/internal/storage"
)

type State int

const (
	Active State = iota
	Idle
)

func (s State) String() string {
	if s == Idle {
		return "idle"
	}
	return "active"
}

// Thresholds configure classification and persistence.
type Thresholds struct {
	Idle         time.Duration
	Deep         time.Duration
	Poll         time.Duration
	PersistEvery time.Duration
	// SampleEvery is the window of the aggregate active/idle rows. Zero
	// disables them.
	SampleEvery time.Duration
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Idle:         30 * time.Second,
		Deep:         300 * time.Second,
		Poll:         5 * time.Second,
		PersistEvery: 1800 * time.Second,
		SampleEvery:  900 * time.Second,
	}
}

// Classify maps elapsed time since the last input to a state. deep is set
// from the deep threshold on.
func Classify(elapsed time.Duration, th Thresholds) (state State, deep bool) {
	switch {
	case elapsed >= th.Deep:
		return Idle, true
	case elapsed >= th.Idle:
		return Idle, false
	default:
		return Active, false
	}
}

// Report is one poll result.
type Report struct {
	Source  string        `json:"source"`
	State   State         `json:"-"`
	Status  string        `json:"status"`
	Idle    time.Duration `json:"-"`
	Seconds int64         `json:"idle_seconds"`
	Deep    bool          `json:"deep"`
	At      time.Time     `json:"at"`
}

func newReport(source string, elapsed time.Duration, th Thresholds, at time.Time) Report {
	state, deep := Classify(elapsed, th)
	return Report{
		Source:  source,
		State:   state,
		Status:  state.String(),
		Idle:    elapsed,
		Seconds: int64(elapsed / time.Second),
		Deep:    deep,
		At:      at,
	}
}

// Persister is the storage the monitor writes to; *storage.Guard fits.
type Persister interface {
	SaveActivity(ctx context.Context, a storage.Activity) storage.Outcome
}

// Monitor polls one Source. Continuous idle is written on the
// active-to-idle edge, once on reaching deep idle, and then every
// PersistEvery; the return to active is written with the length of the idle
// span that ended. Every SampleEvery it also writes how long the source was
// active and idle over the window, with reason "sample".
type Monitor struct {
	source   Source
	th       Thresholds
	store    Persister
	userID   string
	onReport func(Report)
	now      func() time.Time

	mu            sync.Mutex
	state         State
	idleStart     time.Time
	lastPersist   time.Time
	deepPersisted bool
	last          Report
	haveLast      bool

	windowStart time.Time
	lastPoll    time.Time
	activeFor   time.Duration
	idleFor     time.Duration
}

func NewMonitor(source Source, th Thresholds, store Persister, userID string, onReport func(Report)) *Monitor {
	return &Monitor{
		source:   source,
		th:       th,
		store:    store,
		userID:   userID,
		onReport: onReport,
		now:      time.Now,
	}
}

func (m *Monitor) Source() string { return m.source.Name() }

// Poll measures, classifies, persists what the policy requires and
// publishes the report.
func (m *Monitor) Poll(ctx context.Context) (Report, error) {
	elapsed, err := m.source.IdleFor(ctx)
	if err != nil {
		return Report{}, err
	}
	now := m.now()
	report := newReport(m.source.Name(), elapsed, m.th, now)
	lastInput := now.Add(-elapsed)

	var pending []storage.Activity
	row := func(kind storage.ActivityKind, reason string, d time.Duration) storage.Activity {
		return storage.Activity{
			UserID:          m.userID,
			Kind:            kind,
			Source:          m.source.Name(),
			Reason:          reason,
			DurationSeconds: int64(d / time.Second),
			Timestamp:       now,
		}
	}

	m.mu.Lock()
	pending = append(pending, m.sampleLocked(now, row)...)
	switch {
	case report.State == Idle && m.state == Active:
		m.idleStart = lastInput
		m.deepPersisted = report.Deep
		m.lastPersist = now
		reason := "idle"
		if report.Deep {
			reason = "deep-idle"
		}
		pending = append(pending, row(storage.ActivityIdle, reason, elapsed))
	case report.State == Idle && report.Deep && !m.deepPersisted:
		m.deepPersisted = true
		m.lastPersist = now
		pending = append(pending, row(storage.ActivityIdle, "deep-idle", elapsed))
	case report.State == Idle && now.Sub(m.lastPersist) >= m.th.PersistEvery:
		m.lastPersist = now
		pending = append(pending, row(storage.ActivityIdle, "still-idle", elapsed))
	case report.State == Active && m.state == Idle:
		span := lastInput.Sub(m.idleStart)
		if span < 0 {
			span = 0
		}
		pending = append(pending, row(storage.ActivityActive, "resumed", span))
		m.deepPersisted = false
	}
	m.state = report.State
	m.last = report
	m.haveLast = true
	m.mu.Unlock()

	for _, a := range pending {
		if m.store != nil {
			m.store.SaveActivity(ctx, a)
		}
	}
	if m.onReport != nil {
		m.onReport(report)
	}
	return report, nil
}

// sampleLocked credits the time since the previous poll to the state seen
// then and closes the window once SampleEvery has passed.
func (m *Monitor) sampleLocked(now time.Time, row func(storage.ActivityKind, string, time.Duration) storage.Activity) []storage.Activity {
	if m.th.SampleEvery <= 0 {
		return nil
	}
	if m.windowStart.IsZero() {
		m.windowStart = now
		m.lastPoll = now
		return nil
	}
	if dt := now.Sub(m.lastPoll); dt > 0 {
		if m.state == Idle {
			m.idleFor += dt
		} else {
			m.activeFor += dt
		}
	}
	m.lastPoll = now
	if now.Sub(m.windowStart) < m.th.SampleEvery {
		return nil
	}

	var rows []storage.Activity
	if m.activeFor > 0 {
		rows = append(rows, row(storage.ActivityActive, "sample", m.activeFor))
	}
	if m.idleFor > 0 {
		rows = append(rows, row(storage.ActivityIdle, "sample", m.idleFor))
	}
	m.windowStart = now
	m.activeFor, m.idleFor = 0, 0
	return rows
}

// Last is the most recent poll result.
func (m *Monitor) Last() (Report, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.haveLast
}

// Live measures now without touching the monitor's state.
func (m *Monitor) Live(ctx context.Context) (Report, error) {
	elapsed, err := m.source.IdleFor(ctx)
	if err != nil {
		return Report{}, err
	}
	return newReport(m.source.Name(), elapsed, m.th, m.now()), nil
}

// Run polls immediately and then every Poll interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	interval := m.th.Poll
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("Activity: %s idle monitor started (every %s)", m.source.Name(), interval)
	defer log.Printf("Activity: %s idle monitor stopped", m.source.Name())

	for {
		if _, err := m.Poll(ctx); err != nil && ctx.Err() == nil {
			log.Printf("Activity: %s idle poll failed: %v", m.source.Name(), err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
