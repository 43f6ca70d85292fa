// Package scheduler contains the send-queue scheduling engine and the
// dispatch worker that drains it
package scheduler

import (
	"time"

	"github.com/atherial/sendqueue/models"
)

// Time-window arithmetic is done in the account's IANA timezone for the
// specific calendar date, never through a fixed UTC offset, so sends land
// inside the configured local window on both sides of a DST transition.

// isoWeekday returns the weekday of t numbered 1=Monday .. 7=Sunday
func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// IsWithinWindow reports whether t falls on a send day and inside the local
// [window_start_hour, window_end_hour) interval of cfg
func IsWithinWindow(t time.Time, cfg models.SchedulingConfig) bool {
	loc, err := cfg.Location()
	if err != nil {
		return false
	}
	local := t.In(loc)
	if !cfg.AllowsDay(isoWeekday(local)) {
		return false
	}
	return local.Hour() >= cfg.WindowStartHour && local.Hour() < cfg.WindowEndHour
}

// NextWindowStart returns the smallest instant >= t inside cfg's window.
// An instant already inside the window is returned unchanged.
func NextWindowStart(t time.Time, cfg models.SchedulingConfig) time.Time {
	if IsWithinWindow(t, cfg) {
		return t
	}

	loc, err := cfg.Location()
	if err != nil {
		return t
	}
	local := t.In(loc)

	// Before today's window on a send day: jump to today's start
	if cfg.AllowsDay(isoWeekday(local)) && local.Hour() < cfg.WindowStartHour {
		return windowStartOn(local, cfg, loc)
	}

	return NextDayWindowStart(t, cfg)
}

// NextDayWindowStart returns the window start of the first send day strictly
// after t's local calendar day
func NextDayWindowStart(t time.Time, cfg models.SchedulingConfig) time.Time {
	loc, err := cfg.Location()
	if err != nil {
		return t
	}
	local := t.In(loc)

	// A send-day set is never empty after normalization, so at most seven
	// steps find the next valid day
	for i := 0; i < 8; i++ {
		local = local.AddDate(0, 0, 1)
		if cfg.AllowsDay(isoWeekday(local)) {
			return windowStartOn(local, cfg, loc)
		}
	}
	return windowStartOn(local, cfg, loc)
}

// WindowEndOn returns the end-of-window instant on t's local calendar day
func WindowEndOn(t time.Time, cfg models.SchedulingConfig) time.Time {
	loc, err := cfg.Location()
	if err != nil {
		return t
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), cfg.WindowEndHour, 0, 0, 0, loc)
}

// LocalDayBounds returns the [midnight, next midnight) interval containing t
// in cfg's timezone, used for daily-cap counting
func LocalDayBounds(t time.Time, cfg models.SchedulingConfig) (time.Time, time.Time) {
	loc, err := cfg.Location()
	if err != nil {
		loc = time.UTC
	}
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// windowStartOn resolves window_start_hour on local's calendar date through
// the zone rules of that date
func windowStartOn(local time.Time, cfg models.SchedulingConfig, loc *time.Location) time.Time {
	return time.Date(local.Year(), local.Month(), local.Day(), cfg.WindowStartHour, 0, 0, 0, loc)
}

// SameLocalDay reports whether a and b fall on the same calendar day in
// cfg's timezone
func SameLocalDay(a, b time.Time, cfg models.SchedulingConfig) bool {
	loc, err := cfg.Location()
	if err != nil {
		loc = time.UTC
	}
	al, bl := a.In(loc), b.In(loc)
	return al.Year() == bl.Year() && al.YearDay() == bl.YearDay()
}
