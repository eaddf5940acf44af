package encoder

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"deskwatch/internal/retry"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zip"
	"github.com/pkg/errors"
)

const releaseBaseURL = "https://github.com/eugeneware/ffmpeg-static/releases/download/b6.0"

// DefaultDownloadURL is the static ffmpeg build for the given platform.
func DefaultDownloadURL(goos, goarch string) string {
	platform := goos
	if goos == "windows" {
		platform = "win32"
	}
	arch := goarch
	if goarch == "amd64" {
		arch = "x64"
	}
	return fmt.Sprintf("%s/ffmpeg-%s-%s", releaseBaseURL, platform, arch)
}

// Progress reports a running download. Total is -1 when unknown.
type Progress struct {
	Downloaded int64
	Total      int64
}

// Locator resolves the encoder binary: bundled next to the executable, then
// the system PATH, then a previous download in BinDir, then a fresh download.
type Locator struct {
	Name   string
	BinDir string
	URL    string

	Client   *http.Client
	Retry    retry.Policy
	Progress func(Progress)

	goos       string
	executable func() (string, error)
	lookPath   func(string) (string, error)

	mu       sync.Mutex
	resolved string
}

func NewLocator(name, binDir, url string) *Locator {
	if name == "" {
		name = "ffmpeg"
	}
	if url == "" {
		url = DefaultDownloadURL(runtime.GOOS, runtime.GOARCH)
	}
	return &Locator{
		Name:       name,
		BinDir:     binDir,
		URL:        url,
		Client:     &http.Client{Timeout: 10 * time.Minute},
		Retry:      retry.Policy{Attempts: 3, Delay: 2 * time.Second, Name: "Encoder download"},
		goos:       runtime.GOOS,
		executable: os.Executable,
		lookPath:   exec.LookPath,
	}
}

func (l *Locator) binaryName() string {
	if l.goos == "windows" && !strings.HasSuffix(l.Name, ".exe") {
		return l.Name + ".exe"
	}
	return l.Name
}

// CachedPath is where a downloaded binary is kept.
func (l *Locator) CachedPath() string {
	return filepath.Join(l.BinDir, l.binaryName())
}

// Resolve returns a usable binary path, downloading one if necessary. The
// result is remembered for the life of the Locator.
func (l *Locator) Resolve(ctx context.Context) (string, error) {
	l.mu.Lock()
	if l.resolved != "" {
		path := l.resolved
		l.mu.Unlock()
		return path, nil
	}
	l.mu.Unlock()

	path, err := l.resolve(ctx)
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	l.resolved = path
	l.mu.Unlock()
	return path, nil
}

func (l *Locator) resolve(ctx context.Context) (string, error) {
	if path, ok := l.bundled(); ok {
		log.Printf("Encoder: using bundled binary %s", path)
		return path, nil
	}

	if path, err := l.lookPath(l.binaryName()); err == nil {
		log.Printf("Encoder: using system binary %s", path)
		return path, nil
	}

	cached := l.CachedPath()
	if isExecutableFile(cached) {
		log.Printf("Encoder: using downloaded binary %s", cached)
		return cached, nil
	}

	if l.URL == "" || l.BinDir == "" {
		return "", errors.Wrap(ErrEncoderUnavailable, "not bundled, not on PATH, and no download configured")
	}

	log.Printf("Encoder: %s not found, downloading from %s", l.binaryName(), l.URL)
	err := retry.Run(ctx, l.Retry, func(ctx context.Context) error {
		return l.download(ctx, cached)
	})
	if err != nil {
		return "", errors.Wrapf(ErrEncoderUnavailable, "download failed: %v", err)
	}
	return cached, nil
}

func (l *Locator) bundled() (string, bool) {
	if l.executable == nil {
		return "", false
	}
	exe, err := l.executable()
	if err != nil {
		return "", false
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	dir := filepath.Dir(exe)
	for _, candidate := range []string{
		filepath.Join(dir, l.binaryName()),
		filepath.Join(dir, "bin", l.binaryName()),
	} {
		if isExecutableFile(candidate) {
			return candidate, true
		}
	}
	return "", false
}

func isExecutableFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode()&0111 != 0
}

func (l *Locator) download(ctx context.Context, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return retry.Permanent(fmt.Errorf("failed to create bin directory: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.URL, nil)
	if err != nil {
		return retry.Permanent(fmt.Errorf("invalid download url: %w", err))
	}
	resp, err := l.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download encoder: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("failed to download encoder: HTTP %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return retry.Permanent(err)
		}
		return err
	}

	// Create temp file for atomic write
	tmpPath := destPath + ".tmp"
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0755)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	counter := &progressWriter{total: resp.ContentLength, report: l.Progress}
	written, err := io.Copy(io.MultiWriter(file, counter), resp.Body)
	if err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write encoder: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close encoder: %w", err)
	}

	if isZipURL(l.URL) {
		err := extractBinary(tmpPath, destPath, l.binaryName())
		_ = os.Remove(tmpPath)
		if err != nil {
			return retry.Permanent(err)
		}
	} else if err := os.Rename(tmpPath, destPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize encoder: %w", err)
	}

	if err := os.Chmod(destPath, 0755); err != nil {
		return retry.Permanent(fmt.Errorf("failed to mark encoder executable: %w", err))
	}

	log.Printf("Encoder: downloaded %s (%s)", destPath, humanize.Bytes(uint64(written)))
	return nil
}

func isZipURL(url string) bool {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	return strings.HasSuffix(strings.ToLower(url), ".zip")
}

// extractBinary copies the entry named binary out of the archive at zipPath.
func extractBinary(zipPath, destPath, binary string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("failed to open encoder archive: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		if f.FileInfo().IsDir() || filepath.Base(f.Name) != binary {
			continue
		}
		src, err := f.Open()
		if err != nil {
			return fmt.Errorf("failed to read %s from archive: %w", f.Name, err)
		}
		defer src.Close()

		tmpPath := destPath + ".extract"
		dst, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0755)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", tmpPath, err)
		}
		if _, err := io.Copy(dst, src); err != nil {
			_ = dst.Close()
			_ = os.Remove(tmpPath)
			return fmt.Errorf("failed to extract %s: %w", f.Name, err)
		}
		if err := dst.Close(); err != nil {
			_ = os.Remove(tmpPath)
			return err
		}
		return os.Rename(tmpPath, destPath)
	}
	return fmt.Errorf("archive does not contain %s", binary)
}

type progressWriter struct {
	written  int64
	total    int64
	report   func(Progress)
	lastSent time.Time
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.written += int64(len(p))
	if w.report != nil && (time.Since(w.lastSent) > 250*time.Millisecond || w.written == w.total) {
		w.lastSent = time.Now()
		w.report(Progress{Downloaded: w.written, Total: w.total})
	}
	return len(p), nil
}
