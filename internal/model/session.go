package model

// SleepSession is a recorded interval of sleep with derived quality metrics.
// Sessions are owned and written by an external sync process; the pipeline
// only ever reads them. A session may span two calendar days.
//
// Invariant: sessions for a device are non-overlapping and ordered by start.
type SleepSession struct {
	SessionID string

	// Interval [StartMin, EndMin) in minutes since the Unix epoch.
	StartMin int64
	EndMin   int64

	// Stage durations in minutes.
	DeepMin  int
	RemMin   int
	LightMin int
	AwakeMin int

	// Efficiency is the sleep efficiency percentage, 0-100.
	Efficiency float64

	// Score is the provider-assigned sleep quality score.
	Score int
}

// DurationMin returns the total session length in minutes.
func (s *SleepSession) DurationMin() int64 {
	return s.EndMin - s.StartMin
}

// AsleepMin returns the minutes actually asleep (total minus awake time).
func (s *SleepSession) AsleepMin() int64 {
	asleep := s.DurationMin() - int64(s.AwakeMin)
	if asleep < 0 {
		return 0
	}
	return asleep
}

// Days returns the UTC calendar days the session touches, in order.
// A session crossing midnight returns both adjacent days.
func (s *SleepSession) Days() []string {
	if s.EndMin <= s.StartMin {
		return nil
	}
	days, err := DaysBetween(DayFromEpochMinute(s.StartMin), DayFromEpochMinute(s.EndMin-1))
	if err != nil {
		return nil
	}
	return days
}

// Contains reports whether the given epoch-minute falls within [start, end).
func (s *SleepSession) Contains(epochMin int64) bool {
	return epochMin >= s.StartMin && epochMin < s.EndMin
}

// Overlaps reports whether the session intersects the interval [fromMin, toMin).
func (s *SleepSession) Overlaps(fromMin, toMin int64) bool {
	return s.StartMin < toMin && s.EndMin > fromMin
}

// SleepDate returns the calendar day the session is attributed to: the day
// the sleeper woke up, matching the external provider's convention.
func (s *SleepSession) SleepDate() string {
	if s.EndMin <= s.StartMin {
		return DayFromEpochMinute(s.StartMin)
	}
	return DayFromEpochMinute(s.EndMin - 1)
}
