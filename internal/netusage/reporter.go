// Package netusage samples interface byte counters and reports transfer
// rates.
package netusage

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"deskwatch/internal/storage"

	"github.com/dustin/go-humanize"
	psnet "github.com/shirou/gopsutil/v4/net"
)

// Counters are cumulative byte counts across all interfaces.
type Counters struct {
	Recv uint64
	Sent uint64
}

// CounterFunc reads the current counters.
type CounterFunc func(ctx context.Context) (Counters, error)

// SystemCounters aggregates every interface via gopsutil.
func SystemCounters(ctx context.Context) (Counters, error) {
	stats, err := psnet.IOCountersWithContext(ctx, false)
	if err != nil {
		return Counters{}, fmt.Errorf("failed to read interface counters: %w", err)
	}
	if len(stats) == 0 {
		return Counters{}, fmt.Errorf("no interface counters reported")
	}
	return Counters{Recv: stats[0].BytesRecv, Sent: stats[0].BytesSent}, nil
}

type Persister interface {
	SaveNetworkUsage(ctx context.Context, u storage.NetworkUsage) storage.Outcome
}

type Publisher interface {
	Publish(kind string, payload interface{})
}

// Sample is one computed reading.
type Sample struct {
	DownloadRate    float64   `json:"download_bytes_per_sec"`
	UploadRate      float64   `json:"upload_bytes_per_sec"`
	TotalDownloaded uint64    `json:"total_downloaded"`
	TotalUploaded   uint64    `json:"total_uploaded"`
	Download        string    `json:"download"`
	Upload          string    `json:"upload"`
	At              time.Time `json:"at"`
}

type Reporter struct {
	read     CounterFunc
	interval time.Duration
	store    Persister
	events   Publisher
	userID   string

	mu      sync.Mutex
	prev    Counters
	prevAt  time.Time
	started bool
	total   Counters
	last    Sample
}

func NewReporter(read CounterFunc, interval time.Duration, store Persister, events Publisher, userID string) *Reporter {
	if read == nil {
		read = SystemCounters
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reporter{
		read:     read,
		interval: interval,
		store:    store,
		events:   events,
		userID:   userID,
	}
}

// delta is cur-prev, or 0 when the counter went backwards.
func delta(cur, prev uint64) uint64 {
	if cur < prev {
		return 0
	}
	return cur - prev
}

// Observe folds one counter reading in. The first reading only sets the
// baseline and reports false.
func (r *Reporter) Observe(c Counters, at time.Time) (Sample, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		r.started = true
		r.prev, r.prevAt = c, at
		return Sample{}, false
	}

	elapsed := at.Sub(r.prevAt).Seconds()
	down := delta(c.Recv, r.prev.Recv)
	up := delta(c.Sent, r.prev.Sent)
	r.total.Recv += down
	r.total.Sent += up
	r.prev, r.prevAt = c, at

	s := Sample{
		TotalDownloaded: r.total.Recv,
		TotalUploaded:   r.total.Sent,
		At:              at,
	}
	if elapsed > 0 {
		s.DownloadRate = float64(down) / elapsed
		s.UploadRate = float64(up) / elapsed
	}
	s.Download = humanize.Bytes(uint64(s.DownloadRate)) + "/s"
	s.Upload = humanize.Bytes(uint64(s.UploadRate)) + "/s"
	r.last = s
	return s, true
}

// Last returns the most recent sample.
func (r *Reporter) Last() Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Tick reads counters once and persists and publishes the result.
func (r *Reporter) Tick(ctx context.Context) {
	c, err := r.read(ctx)
	if err != nil {
		log.Printf("Network: %v", err)
		return
	}
	s, ok := r.Observe(c, time.Now())
	if !ok {
		return
	}

	if r.store != nil {
		r.store.SaveNetworkUsage(ctx, storage.NetworkUsage{
			UserID:          r.userID,
			DownloadRate:    s.DownloadRate,
			UploadRate:      s.UploadRate,
			TotalDownloaded: s.TotalDownloaded,
			TotalUploaded:   s.TotalUploaded,
			RecordedAt:      s.At,
		})
	}
	if r.events != nil {
		r.events.Publish("network-usage", s)
	}
}

// Run samples every interval until ctx is done.
func (r *Reporter) Run(ctx context.Context) {
	log.Printf("Network: reporter started (every %s)", r.interval)
	defer log.Println("Network: reporter stopped")

	r.Tick(ctx)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}
