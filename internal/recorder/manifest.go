package recorder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Manifest renders the ffmpeg concat list for paths, in the given order.
func Manifest(paths []string) string {
	var b strings.Builder
	for _, p := range paths {
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(p, "'", `'\''`))
		b.WriteString("'\n")
	}
	return b.String()
}

// ParseManifest reads back a list written by Manifest.
func ParseManifest(data string) []string {
	var paths []string
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "file '") || !strings.HasSuffix(line, "'") {
			continue
		}
		quoted := line[len("file '") : len(line)-1]
		paths = append(paths, strings.ReplaceAll(quoted, `'\''`, "'"))
	}
	return paths
}

var segmentName = regexp.MustCompile(`^recording_(.+)_seg_(\d+)\.mkv$`)

// LeftoverSegments lists segment files for sessionID in dir, ordered by
// ordinal.
func LeftoverSegments(dir, sessionID string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	type found struct {
		ordinal int
		path    string
	}
	var segs []found
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := segmentName.FindStringSubmatch(e.Name())
		if m == nil || m[1] != sessionID {
			continue
		}
		n, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		segs = append(segs, found{ordinal: n, path: filepath.Join(dir, e.Name())})
	}

	sort.Slice(segs, func(i, j int) bool { return segs[i].ordinal < segs[j].ordinal })
	paths := make([]string, len(segs))
	for i, s := range segs {
		paths[i] = s.path
	}
	return paths, nil
}

// OrphanedSessions returns the ids of sessions that still have segment files
// in dir.
func OrphanedSessions(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	seen := map[string]bool{}
	var ids []string
	for _, e := range entries {
		m := segmentName.FindStringSubmatch(e.Name())
		if m == nil || seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		ids = append(ids, m[1])
	}
	sort.Strings(ids)
	return ids, nil
}

// Recover joins the segments a crashed or failed session left behind.
func Recover(ctx context.Context, enc Encoder, dir, sessionID string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	segments, err := LeftoverSegments(abs, sessionID)
	if err != nil {
		return "", err
	}
	if len(segments) == 0 {
		return "", fmt.Errorf("no segments found for session %s in %s", sessionID, abs)
	}
	return finalizeSegments(ctx, enc, abs, sessionID, segments)
}
