package scheduler

import (
	"fmt"
	"time"
)

// IntervalSchedule runs a job every Interval.
//
// With Aligned set, runs land on wall-clock multiples of Interval (12:00:00,
// 12:01:00, ...) so every gateway instance ticks at the same moment and the
// scan lease decides which one does the work.
type IntervalSchedule struct {
	Interval time.Duration
	Aligned  bool
}

// NewIntervalSchedule runs every interval counted from the previous run.
// Non-positive intervals fall back to one minute.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	if interval <= 0 {
		interval = time.Minute
	}
	return &IntervalSchedule{Interval: interval}
}

// NewAlignedSchedule runs on wall-clock multiples of interval.
func NewAlignedSchedule(interval time.Duration) *IntervalSchedule {
	s := NewIntervalSchedule(interval)
	s.Aligned = true
	return s
}

// Next returns the first run time strictly after t.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	if !s.Aligned {
		return t.Add(s.Interval)
	}
	next := t.Truncate(s.Interval)
	if !next.After(t) {
		next = next.Add(s.Interval)
	}
	return next
}

func (s *IntervalSchedule) String() string {
	if s.Aligned {
		return fmt.Sprintf("@every %s aligned", s.Interval)
	}
	return fmt.Sprintf("@every %s", s.Interval)
}
