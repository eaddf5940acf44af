package encoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func instant(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func noLookPath(string) (string, error) { return "", exec.ErrNotFound }

// testLocator never finds a bundled or system binary.
func testLocator(t *testing.T, url string) *Locator {
	t.Helper()
	l := NewLocator("ffmpeg", filepath.Join(t.TempDir(), "bin"), url)
	l.goos = "linux"
	l.executable = func() (string, error) { return filepath.Join(t.TempDir(), "deskwatch"), nil }
	l.lookPath = noLookPath
	l.Retry.After = instant
	return l
}

func writeExecutable(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0755))
}

func TestInputArgs(t *testing.T) {
	p := DefaultParams()

	tests := []struct {
		goos    string
		grabber string
		input   string
	}{
		{"linux", "x11grab", ":0.0"},
		{"windows", "gdigrab", "desktop"},
		{"darwin", "avfoundation", "1:none"},
	}
	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			args := InputArgs(tt.goos, p)
			assert.Equal(t, []string{"-f", tt.grabber}, args[:2])
			assert.Equal(t, tt.input, args[len(args)-1])
			assert.Contains(t, args, "15")
		})
	}
}

func TestCaptureArgsAreStableAcrossSegments(t *testing.T) {
	p := DefaultParams()
	a := CaptureArgs("linux", p, "seg_0.mkv")
	b := CaptureArgs("linux", p, "seg_1.mkv")

	require.Equal(t, len(a), len(b))
	assert.Equal(t, a[:len(a)-1], b[:len(b)-1], "only the output path differs between segments")
	assert.Equal(t, "seg_1.mkv", b[len(b)-1])
	assert.Contains(t, a, "libx264")
	assert.Contains(t, a, "yuv420p")
}

func TestConcatArgs(t *testing.T) {
	args := ConcatArgs("list.txt", "out.mkv")
	assert.Equal(t, []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "concat", "-safe", "0", "-i", "list.txt", "-c", "copy", "out.mkv",
	}, args)
}

func TestDefaultDownloadURL(t *testing.T) {
	assert.Equal(t, releaseBaseURL+"/ffmpeg-linux-x64", DefaultDownloadURL("linux", "amd64"))
	assert.Equal(t, releaseBaseURL+"/ffmpeg-win32-x64", DefaultDownloadURL("windows", "amd64"))
	assert.Equal(t, releaseBaseURL+"/ffmpeg-darwin-arm64", DefaultDownloadURL("darwin", "arm64"))
}

func TestLocator_PrefersBundledBinary(t *testing.T) {
	exeDir := t.TempDir()
	bundled := filepath.Join(exeDir, "ffmpeg")
	writeExecutable(t, bundled, "#!/bin/sh\n")

	l := testLocator(t, "http://127.0.0.1:1/never")
	l.executable = func() (string, error) { return filepath.Join(exeDir, "deskwatch"), nil }
	l.lookPath = func(string) (string, error) { return "/usr/bin/ffmpeg", nil }

	path, err := l.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, bundled, path)
}

func TestLocator_FallsBackToPath(t *testing.T) {
	l := testLocator(t, "http://127.0.0.1:1/never")
	l.lookPath = func(name string) (string, error) { return "/usr/bin/" + name, nil }

	path, err := l.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/ffmpeg", path)
}

func TestLocator_DownloadsWithRetry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "#!/bin/sh\necho ffmpeg\n")
	}))
	defer srv.Close()

	l := testLocator(t, srv.URL+"/ffmpeg-linux-x64")
	var reports []Progress
	l.Progress = func(p Progress) { reports = append(reports, p) }

	path, err := l.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, l.CachedPath(), path)
	assert.Equal(t, int32(3), hits.Load())
	assert.NotEmpty(t, reports)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "echo ffmpeg")
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file is renamed away")

	// Cached for the life of the locator.
	_, err = l.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
}

func TestLocator_GivesUpAfterThreeAttempts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	l := testLocator(t, srv.URL+"/ffmpeg")
	_, err := l.Resolve(context.Background())

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEncoderUnavailable))
	assert.Equal(t, int32(3), hits.Load())
}

func TestLocator_NotFoundIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	l := testLocator(t, srv.URL+"/missing")
	_, err := l.Resolve(context.Background())

	assert.True(t, errors.Is(err, ErrEncoderUnavailable))
	assert.Equal(t, int32(1), hits.Load())
}

func TestLocator_ExtractsZip(t *testing.T) {
	var archive bytes.Buffer
	zw := zip.NewWriter(&archive)
	w, err := zw.Create("ffmpeg-6.0/bin/ffmpeg")
	require.NoError(t, err)
	_, err = w.Write([]byte("#!/bin/sh\necho zipped\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(archive.Bytes())
	}))
	defer srv.Close()

	l := testLocator(t, srv.URL+"/ffmpeg-release.zip?dl=1")
	path, err := l.Resolve(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "echo zipped")
}

func TestLocator_NoDownloadConfigured(t *testing.T) {
	l := testLocator(t, "")
	l.URL = ""
	_, err := l.Resolve(context.Background())
	assert.True(t, errors.Is(err, ErrEncoderUnavailable))
}

func TestParseProbeOutput(t *testing.T) {
	out := []byte(`{
		"streams": [
			{"codec_type": "audio", "codec_name": "aac"},
			{"codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080, "r_frame_rate": "15/1"}
		],
		"format": {"duration": "12.480000", "size": "734003"}
	}`)

	md, err := parseProbeOutput(out)
	require.NoError(t, err)
	assert.InDelta(t, 12.48, md.DurationSeconds, 0.0001)
	assert.Equal(t, int64(734003), md.FileSize)
	assert.Equal(t, 1920, md.Width)
	assert.Equal(t, "h264", md.Codec)
	assert.Equal(t, 15.0, md.FrameRate)

	_, err = parseProbeOutput([]byte("not json"))
	assert.Error(t, err)
}

func TestTailBufferKeepsEnd(t *testing.T) {
	tb := newTailBuffer(5)
	_, _ = tb.Write([]byte("abc"))
	_, _ = tb.Write([]byte("defgh"))
	assert.Equal(t, "defgh", tb.String())
}

func scriptSupervisor(t *testing.T, script string) *Supervisor {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script encoder stand-in needs a POSIX shell")
	}
	bin := filepath.Join(t.TempDir(), "ffmpeg")
	writeExecutable(t, bin, script)

	l := testLocator(t, "")
	l.lookPath = func(string) (string, error) { return bin, nil }
	return NewSupervisor(l)
}

func TestSupervisor_StartAndStopCapture(t *testing.T) {
	s := scriptSupervisor(t, "#!/bin/sh\nexec sleep 30\n")

	p, err := s.StartCapture(context.Background(), filepath.Join(t.TempDir(), "seg.mkv"), DefaultParams())
	require.NoError(t, err)
	assert.NotZero(t, p.Pid())
	assert.False(t, p.Exited())

	s.StopCapture(p)
	assert.True(t, p.Exited())

	// A second stop is harmless.
	s.StopCapture(p)
	s.StopCapture(nil)
}

func TestSupervisor_ConcatFailureCarriesStderr(t *testing.T) {
	s := scriptSupervisor(t, "#!/bin/sh\necho 'Invalid data found when processing input' >&2\nexit 1\n")

	err := s.Concat(context.Background(), "list.txt", "out.mkv")
	require.Error(t, err)

	var ce *CommandError
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, ce.Stderr, "Invalid data found")
}

func TestSupervisor_StartCaptureWithoutEncoder(t *testing.T) {
	l := testLocator(t, "")
	l.URL = ""
	s := NewSupervisor(l)

	_, err := s.StartCapture(context.Background(), "x.mkv", DefaultParams())
	assert.True(t, errors.Is(err, ErrEncoderUnavailable))
}
