package encoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Process is one running capture. It is owned by whoever started it and
// must be handed back to StopCapture exactly once.
type Process struct {
	OutputPath string
	StartedAt  time.Time

	cmd    *exec.Cmd
	stderr *tailBuffer
	done   chan struct{}
	err    error
}

// Pid is 0 for a process that never started.
func (p *Process) Pid() int {
	if p == nil || p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Exited reports whether the encoder has already terminated on its own.
func (p *Process) Exited() bool {
	if p == nil || p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Supervisor starts and stops encoder processes. It holds no per-session
// state; the caller owns the returned Process.
type Supervisor struct {
	locator     *Locator
	goos        string
	stopTimeout time.Duration
}

func NewSupervisor(locator *Locator) *Supervisor {
	return &Supervisor{
		locator:     locator,
		goos:        runtime.GOOS,
		stopTimeout: 5 * time.Second,
	}
}

// Binary resolves the encoder, downloading it if needed.
func (s *Supervisor) Binary(ctx context.Context) (string, error) {
	return s.locator.Resolve(ctx)
}

// StartCapture spawns a screen recording into outputPath. The process is not
// bound to ctx; ctx only bounds locating the binary.
func (s *Supervisor) StartCapture(ctx context.Context, outputPath string, params Params) (*Process, error) {
	bin, err := s.locator.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	args := CaptureArgs(s.goos, params, outputPath)
	cmd := exec.Command(bin, args...)
	stderr := newTailBuffer(4096)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(ErrSpawnFailed, "%s: %v", bin, err)
	}

	p := &Process{
		OutputPath: outputPath,
		StartedAt:  time.Now(),
		cmd:        cmd,
		stderr:     stderr,
		done:       make(chan struct{}),
	}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()

	log.Printf("Encoder: capture started (pid %d) -> %s", p.Pid(), outputPath)
	return p, nil
}

// StopCapture kills the process and waits for it to exit. Errors are logged;
// the segment file is left as written.
func (s *Supervisor) StopCapture(p *Process) {
	if p == nil || p.cmd == nil || p.cmd.Process == nil {
		return
	}

	if !p.Exited() {
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			log.Printf("Encoder: failed to kill pid %d: %v", p.Pid(), err)
		}
	}

	select {
	case <-p.done:
	case <-time.After(s.stopTimeout):
		log.Printf("Encoder: pid %d did not exit within %s", p.Pid(), s.stopTimeout)
		return
	}

	if tail := strings.TrimSpace(p.stderr.String()); tail != "" {
		log.Printf("Encoder: pid %d stderr: %s", p.Pid(), tail)
	}
	log.Printf("Encoder: capture stopped (pid %d) after %s", p.Pid(), time.Since(p.StartedAt).Round(time.Second))
}

// Concat joins the files in manifestPath into outputPath with stream copy.
func (s *Supervisor) Concat(ctx context.Context, manifestPath, outputPath string) error {
	bin, err := s.locator.Resolve(ctx)
	if err != nil {
		return err
	}

	args := ConcatArgs(manifestPath, outputPath)
	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return &CommandError{Args: args, Stderr: strings.TrimSpace(stderr.String()), Err: err}
	}
	return nil
}

// Metadata is what ffprobe reports about a finished file.
type Metadata struct {
	DurationSeconds float64
	FileSize        int64
	Width           int
	Height          int
	Codec           string
	FrameRate       float64
}

// Probe reads metadata with ffprobe. ffprobe is looked up next to the
// encoder first, then on PATH; its absence is an error the caller may ignore.
func (s *Supervisor) Probe(ctx context.Context, path string) (*Metadata, error) {
	probe := s.probeBinary(ctx)
	if probe == "" {
		return nil, fmt.Errorf("ffprobe not found")
	}

	cmd := exec.CommandContext(ctx, probe,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path)

	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("failed to extract metadata: %w", err)
	}

	md, err := parseProbeOutput(out.Bytes())
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(path); err == nil {
		md.FileSize = info.Size()
	}
	return md, nil
}

func (s *Supervisor) probeBinary(ctx context.Context) string {
	name := "ffprobe"
	if s.goos == "windows" {
		name += ".exe"
	}
	if bin, err := s.locator.Resolve(ctx); err == nil {
		candidate := filepath.Join(filepath.Dir(bin), name)
		if isExecutableFile(candidate) {
			return candidate
		}
	}
	if path, err := exec.LookPath(name); err == nil {
		return path
	}
	return ""
}

func parseProbeOutput(data []byte) (*Metadata, error) {
	var result struct {
		Format struct {
			Duration string `json:"duration"`
			Size     string `json:"size"`
		} `json:"format"`
		Streams []struct {
			CodecType  string `json:"codec_type"`
			CodecName  string `json:"codec_name"`
			Width      int    `json:"width,omitempty"`
			Height     int    `json:"height,omitempty"`
			RFrameRate string `json:"r_frame_rate,omitempty"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	md := &Metadata{}
	if d, err := strconv.ParseFloat(result.Format.Duration, 64); err == nil {
		md.DurationSeconds = d
	}
	if n, err := strconv.ParseInt(result.Format.Size, 10, 64); err == nil {
		md.FileSize = n
	}

	for _, stream := range result.Streams {
		if stream.CodecType != "video" {
			continue
		}
		md.Width = stream.Width
		md.Height = stream.Height
		md.Codec = stream.CodecName

		// Parse frame rate
		parts := strings.Split(stream.RFrameRate, "/")
		if len(parts) == 2 {
			num, errN := strconv.ParseFloat(parts[0], 64)
			den, errD := strconv.ParseFloat(parts[1], 64)
			if errN == nil && errD == nil && den > 0 {
				md.FrameRate = num / den
			}
		}
		break
	}
	return md, nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	if t == nil {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
