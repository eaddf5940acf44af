package redact

import (
	"sort"
	"strings"
	"sync"
)

// Exclusions is the runtime set of excluded-window keywords. Keywords are
// stored lowercased and trimmed.
type Exclusions struct {
	mu       sync.RWMutex
	keywords map[string]struct{}
}

func NewExclusions(keywords ...string) *Exclusions {
	e := &Exclusions{keywords: make(map[string]struct{})}
	for _, k := range keywords {
		e.Add(k)
	}
	return e
}

// Normalize is the stored form of a keyword.
func Normalize(keyword string) string {
	return strings.ToLower(strings.TrimSpace(keyword))
}

// Add reports whether the keyword was new. Blank keywords are ignored.
func (e *Exclusions) Add(keyword string) bool {
	k := Normalize(keyword)
	if k == "" {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.keywords[k]; ok {
		return false
	}
	e.keywords[k] = struct{}{}
	return true
}

// Remove reports whether the keyword was present.
func (e *Exclusions) Remove(keyword string) bool {
	k := Normalize(keyword)
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.keywords[k]; !ok {
		return false
	}
	delete(e.keywords, k)
	return true
}

// Replace swaps in a new set, as when reloading from storage.
func (e *Exclusions) Replace(keywords []string) {
	next := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		if k = Normalize(k); k != "" {
			next[k] = struct{}{}
		}
	}
	e.mu.Lock()
	e.keywords = next
	e.mu.Unlock()
}

// List returns the keywords sorted.
func (e *Exclusions) List() []string {
	e.mu.RLock()
	out := make([]string, 0, len(e.keywords))
	for k := range e.keywords {
		out = append(out, k)
	}
	e.mu.RUnlock()
	sort.Strings(out)
	return out
}
