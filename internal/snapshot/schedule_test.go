package snapshot

import (
	"errors"
	"testing"
	"time"
)

type fixedSun struct {
	times SunTimes
	err   error
	calls int
}

func (f *fixedSun) SunTimes(day time.Time) (SunTimes, error) {
	f.calls++
	if f.err != nil {
		return SunTimes{}, f.err
	}
	// Shift the fixed clock times onto the requested day.
	shift := func(t time.Time) time.Time {
		return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, day.Location())
	}
	return SunTimes{Sunrise: shift(f.times.Sunrise), Sunset: shift(f.times.Sunset)}, nil
}

func newFixedSun() *fixedSun {
	return &fixedSun{times: SunTimes{
		Sunrise: time.Date(2026, 6, 1, 6, 0, 0, 0, time.UTC),
		Sunset:  time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC),
	}}
}

func TestDueFixedInterval(t *testing.T) {
	s := NewSchedule(60*time.Second, 0, nil)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	if !s.Due(now, now.Add(-61*time.Second), 0) {
		t.Fatal("expected capture taken 61s ago to be due")
	}
	if s.Due(now, now.Add(-30*time.Second), 0) {
		t.Fatal("capture taken 30s ago should not be due")
	}
	if !s.Due(now, time.Time{}, 0) {
		t.Fatal("never-captured device should be due")
	}
}

func TestDueDeviceOverride(t *testing.T) {
	s := NewSchedule(180*time.Second, 0, nil)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	if !s.Due(now, now.Add(-61*time.Second), time.Minute) {
		t.Fatal("device override of 60s not applied")
	}
}

func TestSolarWindowShortensInterval(t *testing.T) {
	s := NewSchedule(180*time.Second, 30*time.Second, newFixedSun())
	cases := []struct {
		name string
		at   time.Time
		want time.Duration
	}{
		{"before sunrise window", time.Date(2026, 6, 1, 4, 59, 0, 0, time.UTC), 180 * time.Second},
		{"sunrise window start", time.Date(2026, 6, 1, 5, 0, 0, 0, time.UTC), 30 * time.Second},
		{"sunrise window end", time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC), 30 * time.Second},
		{"midday", time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC), 180 * time.Second},
		{"sunset window start", time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC), 30 * time.Second},
		{"after sunset window", time.Date(2026, 6, 1, 21, 1, 0, 0, time.UTC), 180 * time.Second},
	}
	for _, tc := range cases {
		if got := s.IntervalAt(tc.at, 0); got != tc.want {
			t.Errorf("%s: IntervalAt = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestSolarIntervalNeverLengthens(t *testing.T) {
	s := NewSchedule(180*time.Second, 30*time.Second, newFixedSun())
	at := time.Date(2026, 6, 1, 6, 30, 0, 0, time.UTC)
	if got := s.IntervalAt(at, 15*time.Second); got != 15*time.Second {
		t.Fatalf("IntervalAt = %s", got)
	}
}

func TestSunTimesComputedOncePerDay(t *testing.T) {
	sun := newFixedSun()
	s := NewSchedule(180*time.Second, 30*time.Second, sun)
	day := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	for h := 0; h < 24; h++ {
		s.IntervalAt(day.Add(time.Duration(h)*time.Hour), 0)
	}
	if sun.calls != 1 {
		t.Fatalf("computed %d times in one day", sun.calls)
	}
	s.IntervalAt(day.Add(24*time.Hour+time.Minute), 0)
	if sun.calls != 2 {
		t.Fatalf("not recomputed after midnight: %d calls", sun.calls)
	}
}

func TestSolarErrorFallsBackToInterval(t *testing.T) {
	s := NewSchedule(180*time.Second, 30*time.Second, &fixedSun{err: errors.New("polar night")})
	if got := s.IntervalAt(time.Date(2026, 12, 21, 12, 0, 0, 0, time.UTC), 0); got != 180*time.Second {
		t.Fatalf("IntervalAt = %s", got)
	}
}

func TestGeoCalculatorEquinox(t *testing.T) {
	times, err := GeoCalculator{}.SunTimes(time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("SunTimes: %v", err)
	}
	if h := times.Sunrise.Hour(); h < 5 || h > 6 {
		t.Fatalf("sunrise at 0,0 = %s", times.Sunrise)
	}
	if h := times.Sunset.Hour(); h < 17 || h > 18 {
		t.Fatalf("sunset at 0,0 = %s", times.Sunset)
	}
}
