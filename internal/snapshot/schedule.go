package snapshot

import "time"

// Schedule decides when a device is due for a capture.
type Schedule struct {
	// Interval is the default gap between captures.
	Interval time.Duration
	// SolarInterval replaces longer intervals inside the sunrise and sunset
	// windows. Zero disables the solar schedule.
	SolarInterval time.Duration

	sun *dailyCache
}

// NewSchedule builds a schedule. A nil calc disables the solar schedule.
func NewSchedule(interval, solarInterval time.Duration, calc SolarCalculator) *Schedule {
	s := &Schedule{Interval: interval, SolarInterval: solarInterval}
	if calc != nil && solarInterval > 0 {
		s.sun = newDailyCache(calc)
	}
	return s
}

// IntervalAt returns the effective interval at now for a device whose own
// interval is override (zero means the default).
func (s *Schedule) IntervalAt(now time.Time, override time.Duration) time.Duration {
	interval := s.Interval
	if override > 0 {
		interval = override
	}
	if s.sun == nil {
		return interval
	}
	times, err := s.sun.get(now)
	if err != nil || !times.InWindow(now) {
		return interval
	}
	if s.SolarInterval < interval {
		return s.SolarInterval
	}
	return interval
}

// Due reports whether a capture last taken at last is due at now. A zero last
// is always due.
func (s *Schedule) Due(now, last time.Time, override time.Duration) bool {
	if last.IsZero() {
		return true
	}
	return now.Sub(last) >= s.IntervalAt(now, override)
}
