package session

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"deskwatch/internal/activity"
	"deskwatch/internal/encoder"
	"deskwatch/internal/recorder"
	"deskwatch/internal/screenshot"
	"deskwatch/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEncoder struct {
	mu         sync.Mutex
	failStarts int
	startErr   error
	concatErr  error
	block      chan struct{}
	entered    chan struct{}
	started    int
	concats    int
	onStop     func()
}

func (f *fakeEncoder) StartCapture(_ context.Context, outputPath string, _ encoder.Params) (*encoder.Process, error) {
	if f.block != nil {
		f.entered <- struct{}{}
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStarts > 0 {
		f.failStarts--
		return nil, f.startErr
	}
	if err := os.WriteFile(outputPath, []byte(filepath.Base(outputPath)+"\n"), 0644); err != nil {
		return nil, err
	}
	f.started++
	return &encoder.Process{OutputPath: outputPath, StartedAt: time.Now()}, nil
}

func (f *fakeEncoder) StopCapture(*encoder.Process) {
	f.mu.Lock()
	hook := f.onStop
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func (f *fakeEncoder) Concat(_ context.Context, manifestPath, outputPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.concats++
	if f.concatErr != nil {
		return f.concatErr
	}
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return err
	}
	var joined []byte
	for _, p := range recorder.ParseManifest(string(data)) {
		seg, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		joined = append(joined, seg...)
	}
	return os.WriteFile(outputPath, joined, 0644)
}

type fakeScreen struct{}

func (fakeScreen) CapturePrimary() (*image.RGBA, image.Point, error) {
	return image.NewRGBA(image.Rect(0, 0, 4, 4)), image.Point{}, nil
}

// memGateway keeps everything in memory and is always available.
type memGateway struct {
	storage.Offline

	mu          sync.Mutex
	recordings  []storage.Recording
	segments    []storage.Segment
	updates     []storage.RecordingUpdate
	screenshots []storage.Screenshot
	activity    []storage.Activity
	statuses    []storage.ProcessStatus
	excluded    []string
}

func (g *memGateway) IsAvailable(context.Context) bool { return true }

func (g *memGateway) SaveRecording(_ context.Context, r storage.Recording) (storage.RecordingID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.recordings = append(g.recordings, r)
	return storage.RecordingID("rec-" + r.SessionID), nil
}

func (g *memGateway) SaveSegment(_ context.Context, s storage.Segment) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.segments = append(g.segments, s)
	return nil
}

func (g *memGateway) UpdateRecordingMetadata(_ context.Context, u storage.RecordingUpdate) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.updates = append(g.updates, u)
	return nil
}

func (g *memGateway) SaveScreenshot(_ context.Context, s storage.Screenshot) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.screenshots = append(g.screenshots, s)
	return nil
}

func (g *memGateway) SaveActivity(_ context.Context, a storage.Activity) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.activity = append(g.activity, a)
	return nil
}

func (g *memGateway) UpdateProcessStatus(_ context.Context, p storage.ProcessStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses = append(g.statuses, p)
	return nil
}

func (g *memGateway) AddExcludedWindow(_ context.Context, title string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.excluded = append(g.excluded, title)
	return nil
}

func (g *memGateway) RemoveExcludedWindow(_ context.Context, title string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, t := range g.excluded {
		if t == title {
			g.excluded = append(g.excluded[:i], g.excluded[i+1:]...)
			break
		}
	}
	return nil
}

func (g *memGateway) ExcludedWindows(context.Context) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.excluded...), nil
}

func (g *memGateway) shotCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.screenshots)
}

func (g *memGateway) lastStatus() storage.ProcessStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.statuses[len(g.statuses)-1]
}

type fixture struct {
	ctl *Controller
	enc *fakeEncoder
	gw  *memGateway
	dir string
}

func newFixture(t *testing.T, gw storage.Gateway) fixture {
	t.Helper()
	enc := &fakeEncoder{}
	sched, err := screenshot.NewSchedule(5*time.Minute, 30*time.Minute)
	require.NoError(t, err)
	dir := filepath.Join(t.TempDir(), "recordings")

	ctl := New(Options{
		UserID:        "alice",
		RecordingsDir: dir,
		Thresholds: activity.Thresholds{
			Idle:         30 * time.Second,
			Deep:         300 * time.Second,
			Poll:         10 * time.Millisecond,
			PersistEvery: 1800 * time.Second,
		},
	}, Deps{
		Recorder: recorder.NewSegmentManager(enc, encoder.DefaultParams()),
		Sampler:  screenshot.NewSampler(fakeScreen{}, sched),
		Store:    storage.NewGuard(gw),
	})
	t.Cleanup(func() { ctl.Shutdown(context.Background()) })

	mem, _ := gw.(*memGateway)
	return fixture{ctl: ctl, enc: enc, gw: mem, dir: dir}
}

func TestController_StartTwiceReturnsAlreadyRunning(t *testing.T) {
	f := newFixture(t, &memGateway{})
	ctx := context.Background()

	first, err := f.ctl.Start(ctx)
	require.NoError(t, err)

	_, err = f.ctl.Start(ctx)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	st := f.ctl.Status()
	assert.Equal(t, "recording", st.State)
	assert.Equal(t, first.SessionID, st.SessionID)
	assert.Equal(t, 1, st.Segments)
	assert.Equal(t, 1, f.enc.started)
}

func TestController_CommandsWithoutSession(t *testing.T) {
	f := newFixture(t, &memGateway{})
	ctx := context.Background()

	assert.ErrorIs(t, f.ctl.Pause(ctx), ErrNotRunning)
	_, err := f.ctl.Resume(ctx)
	assert.ErrorIs(t, err, ErrNotPaused)

	res, err := f.ctl.Stop(ctx)
	require.NoError(t, err)
	assert.False(t, res.Stopped)
	assert.Equal(t, "nothing to stop", res.Message)
	assert.Equal(t, Idle, f.ctl.State())
}

func TestController_ResumeWhileRecording(t *testing.T) {
	f := newFixture(t, &memGateway{})
	ctx := context.Background()
	_, err := f.ctl.Start(ctx)
	require.NoError(t, err)

	_, err = f.ctl.Resume(ctx)
	assert.ErrorIs(t, err, ErrNotPaused)

	require.NoError(t, f.ctl.Pause(ctx))
	assert.ErrorIs(t, f.ctl.Pause(ctx), ErrNotRunning, "already paused")
}

func TestController_FullLifecycle(t *testing.T) {
	f := newFixture(t, &memGateway{})
	ctx := context.Background()

	started, err := f.ctl.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, Recording, f.ctl.State())

	require.NoError(t, f.ctl.Pause(ctx))
	assert.Equal(t, Paused, f.ctl.State())

	seg1, err := f.ctl.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, recorder.SegmentPath(f.dir, started.SessionID, 1), seg1)
	assert.Equal(t, Recording, f.ctl.State())

	res, err := f.ctl.Stop(ctx)
	require.NoError(t, err)
	assert.True(t, res.Stopped)
	assert.Empty(t, res.Warning)
	assert.Equal(t, recorder.FinalPath(f.dir, started.SessionID), res.Output)
	assert.Equal(t, Idle, f.ctl.State())

	data, err := os.ReadFile(res.Output)
	require.NoError(t, err)
	assert.Equal(t,
		"recording_"+started.SessionID+"_seg_0.mkv\nrecording_"+started.SessionID+"_seg_1.mkv\n",
		string(data))
	_, err = os.Stat(recorder.SegmentPath(f.dir, started.SessionID, 0))
	assert.True(t, os.IsNotExist(err), "segments are removed after a successful join")

	require.Len(t, f.gw.recordings, 1)
	assert.Equal(t, "alice", f.gw.recordings[0].UserID)
	require.Len(t, f.gw.segments, 2)
	assert.Equal(t, 0, f.gw.segments[0].Ordinal)
	assert.Equal(t, 1, f.gw.segments[1].Ordinal)
	assert.Equal(t, storage.RecordingID("rec-"+started.SessionID), f.gw.segments[1].RecordingID)
	require.Len(t, f.gw.updates, 1)
	assert.Equal(t, res.Output, *f.gw.updates[0].FilePath)
	assert.Equal(t, int64(len(data)), *f.gw.updates[0].FileSize)

	assert.False(t, f.gw.lastStatus().RecordingActive)

	// A new session can start once the old one is closed.
	_, err = f.ctl.Start(ctx)
	assert.NoError(t, err)
}

func TestController_SingleSegmentIsRenamed(t *testing.T) {
	f := newFixture(t, &memGateway{})
	ctx := context.Background()

	started, err := f.ctl.Start(ctx)
	require.NoError(t, err)
	res, err := f.ctl.Stop(ctx)
	require.NoError(t, err)

	assert.Equal(t, recorder.FinalPath(f.dir, started.SessionID), res.Output)
	assert.Zero(t, f.enc.concats)
}

func TestController_ConcatFailureStillReturnsToIdle(t *testing.T) {
	f := newFixture(t, &memGateway{})
	f.enc.concatErr = &encoder.CommandError{Stderr: "moov atom not found", Err: errors.New("exit status 1")}
	ctx := context.Background()

	started, err := f.ctl.Start(ctx)
	require.NoError(t, err)
	require.NoError(t, f.ctl.Pause(ctx))
	_, err = f.ctl.Resume(ctx)
	require.NoError(t, err)

	res, err := f.ctl.Stop(ctx)
	require.NoError(t, err)
	assert.True(t, res.Stopped)
	assert.Contains(t, res.Warning, "moov atom not found")
	assert.Contains(t, res.Warning, "deskwatch recover "+started.SessionID)
	assert.Empty(t, res.Output)
	assert.Equal(t, Idle, f.ctl.State())

	left, err := recorder.LeftoverSegments(f.dir, started.SessionID)
	require.NoError(t, err)
	assert.Len(t, left, 2)
	assert.Empty(t, f.gw.updates)
}

func TestController_EncoderUnavailable(t *testing.T) {
	f := newFixture(t, &memGateway{})
	f.enc.failStarts = 1
	f.enc.startErr = encoder.ErrEncoderUnavailable
	ctx := context.Background()

	_, err := f.ctl.Start(ctx)
	assert.ErrorIs(t, err, encoder.ErrEncoderUnavailable)
	assert.Equal(t, Idle, f.ctl.State())
	assert.Empty(t, f.gw.recordings)

	_, err = f.ctl.Start(ctx)
	assert.NoError(t, err)
}

func TestController_ResumeSpawnFailureStaysPaused(t *testing.T) {
	f := newFixture(t, &memGateway{})
	ctx := context.Background()
	_, err := f.ctl.Start(ctx)
	require.NoError(t, err)
	require.NoError(t, f.ctl.Pause(ctx))

	f.enc.mu.Lock()
	f.enc.failStarts = 1
	f.enc.startErr = encoder.ErrSpawnFailed
	f.enc.mu.Unlock()

	_, err = f.ctl.Resume(ctx)
	assert.ErrorIs(t, err, encoder.ErrSpawnFailed)
	assert.Equal(t, Paused, f.ctl.State())

	_, err = f.ctl.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, f.ctl.Status().Segments, "the failed spawn left no gap")
}

func TestController_StorageUnavailable(t *testing.T) {
	f := newFixture(t, storage.Offline{})
	ctx := context.Background()

	_, err := f.ctl.Start(ctx)
	require.NoError(t, err)
	require.NoError(t, f.ctl.Pause(ctx))
	_, err = f.ctl.Resume(ctx)
	require.NoError(t, err)
	res, err := f.ctl.Stop(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Output)
}

func TestController_ConcurrentCommandsDuringStart(t *testing.T) {
	f := newFixture(t, &memGateway{})
	f.enc.block = make(chan struct{})
	f.enc.entered = make(chan struct{}, 1)
	ctx := context.Background()

	errc := make(chan error, 1)
	go func() {
		_, err := f.ctl.Start(ctx)
		errc <- err
	}()
	<-f.enc.entered

	_, err := f.ctl.Start(ctx)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.ErrorIs(t, f.ctl.Pause(ctx), ErrNotRunning)
	_, err = f.ctl.Resume(ctx)
	assert.ErrorIs(t, err, ErrNotPaused)

	close(f.enc.block)
	require.NoError(t, <-errc)
	f.enc.block = nil
	assert.Equal(t, Recording, f.ctl.State())
}

func TestController_StopWaitsForStartInFlight(t *testing.T) {
	f := newFixture(t, &memGateway{})
	f.enc.block = make(chan struct{})
	f.enc.entered = make(chan struct{}, 1)
	ctx := context.Background()

	startc := make(chan error, 1)
	go func() {
		_, err := f.ctl.Start(ctx)
		startc <- err
	}()
	<-f.enc.entered

	type stopped struct {
		res StopResult
		err error
	}
	stopc := make(chan stopped, 1)
	go func() {
		res, err := f.ctl.Stop(ctx)
		stopc <- stopped{res, err}
	}()

	select {
	case <-stopc:
		t.Fatal("stop returned while start was still spawning the encoder")
	case <-time.After(50 * time.Millisecond):
	}

	close(f.enc.block)
	require.NoError(t, <-startc)
	got := <-stopc
	require.NoError(t, got.err)
	assert.True(t, got.res.Stopped)
	assert.Equal(t, Idle, f.ctl.State())
}

func TestController_StopGivesUpWhenContextEnds(t *testing.T) {
	f := newFixture(t, &memGateway{})
	f.enc.block = make(chan struct{})
	f.enc.entered = make(chan struct{}, 1)

	startc := make(chan error, 1)
	go func() {
		_, err := f.ctl.Start(context.Background())
		startc <- err
	}()
	<-f.enc.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.ctl.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(f.enc.block)
	require.NoError(t, <-startc)
	f.enc.block = nil
	assert.Equal(t, Recording, f.ctl.State())
}

func TestController_RecordingSamplesScreenshots(t *testing.T) {
	f := newFixture(t, &memGateway{})
	started, err := f.ctl.Start(context.Background())
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return f.gw.shotCount() > 0 }, 2*time.Second, 5*time.Millisecond)
	f.gw.mu.Lock()
	name := f.gw.screenshots[0].Filename
	f.gw.mu.Unlock()
	assert.True(t, strings.HasPrefix(name, "snapshot_"+started.SessionID+"_"), name)
	assert.True(t, f.ctl.Status().ScreenshotActive)

	_, err = f.ctl.Stop(context.Background())
	require.NoError(t, err)
	assert.False(t, f.ctl.Status().ScreenshotActive)
}

func TestController_StopEndsSamplerBeforeEncoder(t *testing.T) {
	f := newFixture(t, &memGateway{})
	_, err := f.ctl.Start(context.Background())
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return f.gw.shotCount() > 0 }, 2*time.Second, 5*time.Millisecond)

	var samplingAtStop bool
	var shotsAtStop int
	f.enc.mu.Lock()
	f.enc.onStop = func() {
		samplingAtStop = f.ctl.Status().ScreenshotActive
		shotsAtStop = f.gw.shotCount()
	}
	f.enc.mu.Unlock()

	_, err = f.ctl.Stop(context.Background())
	require.NoError(t, err)
	assert.False(t, samplingAtStop, "sampler still running when the encoder stopped")
	assert.Equal(t, shotsAtStop, f.gw.shotCount())
}

func TestController_ScreenshotOnlyMode(t *testing.T) {
	f := newFixture(t, &memGateway{})
	ctx := context.Background()

	id, err := f.ctl.StartScreenshots(ctx)
	require.NoError(t, err)
	_, err = f.ctl.StartScreenshots(ctx)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	assert.Eventually(t, func() bool { return f.gw.shotCount() > 0 }, 2*time.Second, 5*time.Millisecond)
	f.gw.mu.Lock()
	assert.True(t, strings.HasPrefix(f.gw.screenshots[0].Filename, "screenshot_"+id+"_"))
	f.gw.mu.Unlock()

	st := f.ctl.Status()
	assert.True(t, st.ScreenshotActive)
	assert.False(t, st.RecordingActive)
	assert.Equal(t, id, st.ScreenshotSessionID)

	assert.True(t, f.ctl.StopScreenshots(ctx))
	assert.False(t, f.ctl.StopScreenshots(ctx))
	assert.False(t, f.ctl.Status().ScreenshotActive)
}

func TestController_RecordingTakesOverScreenshotOnly(t *testing.T) {
	f := newFixture(t, &memGateway{})
	ctx := context.Background()

	_, err := f.ctl.StartScreenshots(ctx)
	require.NoError(t, err)
	_, err = f.ctl.Start(ctx)
	require.NoError(t, err)

	st := f.ctl.Status()
	assert.Empty(t, st.ScreenshotSessionID)
	assert.True(t, st.ScreenshotActive)

	_, err = f.ctl.StartScreenshots(ctx)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestController_Exclusions(t *testing.T) {
	gw := &memGateway{excluded: []string{"bank"}}
	f := newFixture(t, gw)
	ctx := context.Background()

	f.ctl.LoadExclusions(ctx, "Deskwatch Admin")
	assert.Equal(t, []string{"bank", "deskwatch admin"}, f.ctl.Exclusions())
	assert.Equal(t, []string{"bank"}, gw.excluded, "the admin title is not persisted")

	added, err := f.ctl.AddExclusion(ctx, "  Password ")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = f.ctl.AddExclusion(ctx, "password")
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, []string{"bank", "password"}, gw.excluded)

	_, err = f.ctl.AddExclusion(ctx, "   ")
	assert.ErrorIs(t, err, ErrInvalidKeyword)

	removed, err := f.ctl.RemoveExclusion(ctx, "BANK")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, []string{"password"}, gw.excluded)
	assert.Equal(t, []string{"deskwatch admin", "password"}, f.ctl.Exclusions())
}

func TestController_Interval(t *testing.T) {
	f := newFixture(t, &memGateway{})

	min, max := f.ctl.Interval()
	assert.Equal(t, 5, min)
	assert.Equal(t, 30, max)

	require.NoError(t, f.ctl.SetInterval(2, 10))
	min, max = f.ctl.Interval()
	assert.Equal(t, 2, min)
	assert.Equal(t, 10, max)

	assert.ErrorIs(t, f.ctl.SetInterval(10, 10), screenshot.ErrInvalidInterval)
	assert.ErrorIs(t, f.ctl.SetInterval(0, 10), screenshot.ErrInvalidInterval)
}

type fixedIdle time.Duration

func (d fixedIdle) SystemIdle(context.Context) (time.Duration, error) { return time.Duration(d), nil }

func TestController_IdleMonitoring(t *testing.T) {
	f := newFixture(t, &memGateway{})
	f.ctl.systemIdle = fixedIdle(45 * time.Second)
	ctx := context.Background()

	cached := f.ctl.IdleStatus(ctx, false)
	assert.False(t, cached.Running)
	assert.Nil(t, cached.App)

	live := f.ctl.IdleStatus(ctx, true)
	require.NotNil(t, live.App)
	assert.Equal(t, "active", live.App.Status)
	require.NotNil(t, live.System)
	assert.Equal(t, "idle", live.System.Status)

	require.NoError(t, f.ctl.StartIdle(ctx))
	assert.ErrorIs(t, f.ctl.StartIdle(ctx), ErrAlreadyRunning)
	assert.True(t, f.ctl.Status().IdleDetectionActive)

	assert.Eventually(t, func() bool {
		st := f.ctl.IdleStatus(ctx, false)
		return st.App != nil && st.System != nil
	}, time.Second, 5*time.Millisecond)

	// System idle crossed the threshold on the first poll and was persisted.
	assert.Eventually(t, func() bool {
		f.gw.mu.Lock()
		defer f.gw.mu.Unlock()
		for _, a := range f.gw.activity {
			if a.Source == "system" && a.Kind == storage.ActivityIdle {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	assert.True(t, f.ctl.StopIdle(ctx))
	assert.False(t, f.ctl.StopIdle(ctx))
	assert.False(t, f.ctl.Status().IdleDetectionActive)
}

func TestController_ShutdownStopsEverything(t *testing.T) {
	f := newFixture(t, &memGateway{})
	ctx := context.Background()

	_, err := f.ctl.Start(ctx)
	require.NoError(t, err)
	require.NoError(t, f.ctl.StartIdle(ctx))

	f.ctl.Shutdown(ctx)

	st := f.ctl.Status()
	assert.Equal(t, "idle", st.State)
	assert.False(t, st.ScreenshotActive)
	assert.False(t, st.IdleDetectionActive)
}
