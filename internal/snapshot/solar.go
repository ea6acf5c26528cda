package snapshot

import (
	"fmt"
	"sync"
	"time"

	"github.com/nathan-osman/go-sunrise"
)

// Solar window offsets around sunrise and sunset.
const (
	sunriseLead  = time.Hour
	sunriseTrail = 2 * time.Hour
	sunsetLead   = 2 * time.Hour
	sunsetTrail  = time.Hour
)

// SunTimes holds one day's sunrise and sunset.
type SunTimes struct {
	Sunrise time.Time
	Sunset  time.Time
}

// InWindow reports whether t falls in the sunrise window (-1h to +2h) or the
// sunset window (-2h to +1h).
func (s SunTimes) InWindow(t time.Time) bool {
	inRise := !t.Before(s.Sunrise.Add(-sunriseLead)) && !t.After(s.Sunrise.Add(sunriseTrail))
	inSet := !t.Before(s.Sunset.Add(-sunsetLead)) && !t.After(s.Sunset.Add(sunsetTrail))
	return inRise || inSet
}

// SolarCalculator returns sun times for the calendar day containing day.
type SolarCalculator interface {
	SunTimes(day time.Time) (SunTimes, error)
}

// GeoCalculator computes sun times for a fixed latitude and longitude.
type GeoCalculator struct {
	Latitude  float64
	Longitude float64
}

// SunTimes implements SolarCalculator. Polar day and night have no sunrise
// and return an error.
func (g GeoCalculator) SunTimes(day time.Time) (SunTimes, error) {
	rise, set := sunrise.SunriseSunset(g.Latitude, g.Longitude, day.Year(), day.Month(), day.Day())
	if rise.IsZero() || set.IsZero() {
		return SunTimes{}, fmt.Errorf("no sunrise or sunset at %.4f,%.4f on %s", g.Latitude, g.Longitude, day.Format(time.DateOnly))
	}
	loc := day.Location()
	return SunTimes{Sunrise: rise.In(loc), Sunset: set.In(loc)}, nil
}

// dailyCache computes sun times once per local calendar day. The first
// lookup after midnight recomputes.
type dailyCache struct {
	calc SolarCalculator

	mu    sync.Mutex
	day   string
	times SunTimes
	err   error
}

func newDailyCache(calc SolarCalculator) *dailyCache {
	return &dailyCache{calc: calc}
}

func (c *dailyCache) get(now time.Time) (SunTimes, error) {
	key := now.Format(time.DateOnly)
	c.mu.Lock()
	defer c.mu.Unlock()
	if key != c.day {
		c.times, c.err = c.calc.SunTimes(now)
		c.day = key
	}
	return c.times, c.err
}
