package market

import (
	"fmt"
	"time"
)

// Resolution represents a candle interval, e.g. "15m" or "4h".
type Resolution string

const (
	ResOneSecond      Resolution = "1s"
	ResTwoSeconds     Resolution = "2s"
	ResOneMinute      Resolution = "1m"
	ResFiveMinutes    Resolution = "5m"
	ResFifteenMinutes Resolution = "15m"
	ResOneHour        Resolution = "1h"
	ResTwoHours       Resolution = "2h"
	ResFourHours      Resolution = "4h"
	ResSixHours       Resolution = "6h"
	ResTwelveHours    Resolution = "12h"
	ResOneDay         Resolution = "1d"
	ResOneWeek        Resolution = "1w"
)

// SupportedResolutions lists the resolutions bots may actually trade at.
// Sub-minute and weekly resolutions are recognized but not tradeable.
var SupportedResolutions = []Resolution{
	ResFiveMinutes,
	ResFifteenMinutes,
	ResOneHour,
	ResTwoHours,
	ResFourHours,
	ResSixHours,
	ResTwelveHours,
	ResOneDay,
}

var resolutionDurations = map[Resolution]time.Duration{
	ResOneSecond:      time.Second,
	ResTwoSeconds:     2 * time.Second,
	ResOneMinute:      time.Minute,
	ResFiveMinutes:    5 * time.Minute,
	ResFifteenMinutes: 15 * time.Minute,
	ResOneHour:        time.Hour,
	ResTwoHours:       2 * time.Hour,
	ResFourHours:      4 * time.Hour,
	ResSixHours:       6 * time.Hour,
	ResTwelveHours:    12 * time.Hour,
	ResOneDay:         24 * time.Hour,
	ResOneWeek:        7 * 24 * time.Hour,
}

// ParseResolution validates a raw resolution string.
func ParseResolution(raw string) (Resolution, error) {
	res := Resolution(raw)
	if _, ok := resolutionDurations[res]; !ok {
		return "", fmt.Errorf("unknown time resolution %q", raw)
	}
	return res, nil
}

// IsSupported reports whether bots may trade at this resolution.
func (r Resolution) IsSupported() bool {
	for _, s := range SupportedResolutions {
		if s == r {
			return true
		}
	}
	return false
}

// Duration returns the interval length of one candle at this resolution.
func (r Resolution) Duration() time.Duration {
	d, ok := resolutionDurations[r]
	if !ok {
		// Callers are expected to have validated the resolution.
		panic(fmt.Sprintf("unknown time resolution %q", string(r)))
	}
	return d
}

// Normalize truncates a timestamp to the start of its interval.
func (r Resolution) Normalize(ts time.Time) time.Time {
	return ts.Truncate(r.Duration())
}

func (r Resolution) String() string {
	return string(r)
}
