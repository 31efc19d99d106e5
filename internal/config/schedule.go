// SPDX-License-Identifier: MIT

package config

import "time"

// InSchedule reports whether the clock-time-of-day component of t falls
// within the transcoder's configured schedule window, handling the
// wrap-around case (e.g. 22:00-06:00): start is inclusive, end is
// exclusive.
func (t *TranscoderConfig) InSchedule(now time.Time) bool {
	start, err1 := durationFromHHMM(t.ScheduleStart)
	end, err2 := durationFromHHMM(t.ScheduleEnd)
	if err1 != nil || err2 != nil {
		return false
	}

	local := now.Local()
	sinceMidnight := time.Duration(local.Hour())*time.Hour +
		time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second

	if start <= end {
		return sinceMidnight >= start && sinceMidnight < end
	}
	// Wrap-around window: in-window if at or after start, OR before end.
	return sinceMidnight >= start || sinceMidnight < end
}
