package screenshot

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// ErrInvalidInterval rejects bounds outside 1..120 minutes or with min >= max.
var ErrInvalidInterval = errors.New("invalid screenshot interval")

const (
	MinIntervalMinutes = 1
	MaxIntervalMinutes = 120
)

// Schedule holds the random interval bounds. It is shared between the API
// and the running sampler, so updates apply from the next draw.
type Schedule struct {
	mu  sync.RWMutex
	min time.Duration
	max time.Duration
}

func NewSchedule(min, max time.Duration) (*Schedule, error) {
	s := &Schedule{}
	if err := s.Set(int(min/time.Minute), int(max/time.Minute)); err != nil {
		return nil, err
	}
	return s, nil
}

// Set validates and stores new bounds in minutes.
func (s *Schedule) Set(minMinutes, maxMinutes int) error {
	if minMinutes < MinIntervalMinutes || maxMinutes > MaxIntervalMinutes {
		return fmt.Errorf("%w: bounds must be between %d and %d minutes", ErrInvalidInterval, MinIntervalMinutes, MaxIntervalMinutes)
	}
	if minMinutes >= maxMinutes {
		return fmt.Errorf("%w: min (%d) must be less than max (%d)", ErrInvalidInterval, minMinutes, maxMinutes)
	}
	s.mu.Lock()
	s.min = time.Duration(minMinutes) * time.Minute
	s.max = time.Duration(maxMinutes) * time.Minute
	s.mu.Unlock()
	return nil
}

func (s *Schedule) Bounds() (min, max time.Duration) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.min, s.max
}

func (s *Schedule) Minutes() (min, max int) {
	lo, hi := s.Bounds()
	return int(lo / time.Minute), int(hi / time.Minute)
}

// NextInterval draws a whole number of seconds uniformly from [min, max].
func NextInterval(rng *rand.Rand, min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	span := int64((max - min) / time.Second)
	return min + time.Duration(rng.Int64N(span+1))*time.Second
}
