package models

import (
	"time"

	"github.com/lib/pq"
)

// Scheduling defaults and clamping bounds for operator-supplied configs
const (
	DefaultDailyLimit  = 40
	MaxDailyLimit      = 100
	DefaultMinInterval = 6 * time.Minute
	DefaultMaxInterval = 16 * time.Minute
	MinIntervalFloor   = time.Minute
	MinIntervalCeil    = 60 * time.Minute
	MaxIntervalCeil    = 120 * time.Minute
	DefaultWindowStart = 9
	DefaultWindowEnd   = 17
	DefaultTimezone    = "America/New_York"
)

// SchedulingConfig controls how sends for a campaign or account are spread
// out: daily cap, jitter bounds, the local-time send window and weekday set.
// Days are numbered 1=Monday .. 7=Sunday. Immutable for a scheduling run;
// changes only affect entries scheduled afterwards.
type SchedulingConfig struct {
	DailyLimit      int           `gorm:"column:daily_limit;not null;default:40" json:"daily_limit"`
	MinInterval     time.Duration `gorm:"column:min_interval_ns;not null;default:360000000000" json:"min_interval"`
	MaxInterval     time.Duration `gorm:"column:max_interval_ns;not null;default:960000000000" json:"max_interval"`
	WindowStartHour int           `gorm:"column:window_start_hour;not null;default:9" json:"window_start_hour"`
	WindowEndHour   int           `gorm:"column:window_end_hour;not null;default:17" json:"window_end_hour"`
	SendDays        pq.Int64Array `gorm:"column:send_days;type:bigint[]" json:"send_days"`
	Timezone        string        `gorm:"column:timezone;size:64;not null;default:'America/New_York'" json:"timezone"`
}

// DefaultSchedulingConfig returns the config applied when a campaign carries none
func DefaultSchedulingConfig() SchedulingConfig {
	return SchedulingConfig{
		DailyLimit:      DefaultDailyLimit,
		MinInterval:     DefaultMinInterval,
		MaxInterval:     DefaultMaxInterval,
		WindowStartHour: DefaultWindowStart,
		WindowEndHour:   DefaultWindowEnd,
		SendDays:        pq.Int64Array{1, 2, 3, 4, 5},
		Timezone:        DefaultTimezone,
	}
}

// Normalized clamps operator input into safe bounds and fills gaps with
// defaults, so a partially configured campaign never schedules outside limits
func (c SchedulingConfig) Normalized() SchedulingConfig {
	out := c

	if out.DailyLimit <= 0 {
		out.DailyLimit = DefaultDailyLimit
	}
	out.DailyLimit = min(out.DailyLimit, MaxDailyLimit)

	if out.MinInterval <= 0 {
		out.MinInterval = DefaultMinInterval
	}
	out.MinInterval = max(out.MinInterval, MinIntervalFloor)
	out.MinInterval = min(out.MinInterval, MinIntervalCeil)

	if out.MaxInterval <= 0 {
		out.MaxInterval = DefaultMaxInterval
	}
	out.MaxInterval = max(out.MaxInterval, out.MinInterval)
	out.MaxInterval = min(out.MaxInterval, MaxIntervalCeil)

	// An all-zero window means unset, not a midnight start
	if out.WindowStartHour == 0 && out.WindowEndHour == 0 {
		out.WindowStartHour = DefaultWindowStart
		out.WindowEndHour = DefaultWindowEnd
	}
	if out.WindowStartHour < 0 || out.WindowStartHour > 23 {
		out.WindowStartHour = DefaultWindowStart
	}
	if out.WindowEndHour <= out.WindowStartHour || out.WindowEndHour > 24 {
		out.WindowEndHour = max(out.WindowStartHour+1, DefaultWindowEnd)
		if out.WindowEndHour <= out.WindowStartHour {
			out.WindowEndHour = out.WindowStartHour + 1
		}
	}

	days := make(pq.Int64Array, 0, len(out.SendDays))
	for _, d := range out.SendDays {
		if d >= 1 && d <= 7 {
			days = append(days, d)
		}
	}
	if len(days) == 0 {
		days = pq.Int64Array{1, 2, 3, 4, 5}
	}
	out.SendDays = days

	if out.Timezone == "" {
		out.Timezone = DefaultTimezone
	}
	if _, err := time.LoadLocation(out.Timezone); err != nil {
		out.Timezone = DefaultTimezone
	}

	return out
}

// Location resolves the configured IANA timezone. Normalized configs always
// carry a loadable zone name.
func (c SchedulingConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// AllowsDay reports whether the ISO weekday (1=Mon..7=Sun) is a send day
func (c SchedulingConfig) AllowsDay(isoDay int) bool {
	for _, d := range c.SendDays {
		if int(d) == isoDay {
			return true
		}
	}
	return false
}
