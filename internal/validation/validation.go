// Package validation provides centralized input validation for somnia.
package validation

import (
	"fmt"
	"math"
	"unicode"

	"github.com/xtxerr/somnia/internal/model"
)

// =============================================================================
// Device ID Validation
// =============================================================================

// DeviceIDRules defines the validation rules for device identifiers.
type DeviceIDRules struct {
	MinLength int
	MaxLength int
}

// DefaultDeviceIDRules returns the default rules for device identifiers.
func DefaultDeviceIDRules() DeviceIDRules {
	return DeviceIDRules{
		MinLength: 1,
		MaxLength: 64,
	}
}

// ValidateDeviceID validates a device identifier according to the rules.
// Device IDs appear in journal records, SQL keys, and archive file contents,
// so the character set is kept deliberately narrow.
func ValidateDeviceID(id string, rules DeviceIDRules) error {
	if len(id) < rules.MinLength {
		return fmt.Errorf("device id too short: minimum %d characters required", rules.MinLength)
	}
	if len(id) > rules.MaxLength {
		return fmt.Errorf("device id too long: maximum %d characters allowed", rules.MaxLength)
	}

	for i, r := range id {
		if r < 32 || r == 127 {
			return fmt.Errorf("device id cannot contain control characters at position %d", i)
		}
		if !isAllowedDeviceIDChar(r) {
			return fmt.Errorf("invalid character '%c' at position %d", r, i)
		}
	}

	return nil
}

func isAllowedDeviceIDChar(r rune) bool {
	if r > unicode.MaxASCII {
		return false
	}
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '-', '_', '.':
		return true
	}
	return false
}

// =============================================================================
// Reading Validation
// =============================================================================

// ValidateMinuteOfDay checks the minute slot range.
func ValidateMinuteOfDay(minute int) error {
	if minute < 0 || minute >= model.MinutesPerDay {
		return fmt.Errorf("minute of day %d out of range [0, %d)", minute, model.MinutesPerDay)
	}
	return nil
}

// ValidateDay checks the calendar day format.
func ValidateDay(day string) error {
	if _, err := model.ParseDay(day); err != nil {
		return fmt.Errorf("day must be YYYY-MM-DD: %q", day)
	}
	return nil
}

// ValidateFinite rejects NaN and infinities. Every numeric metric that
// reaches the queue must be a real number; the aggregation engine assumes it.
func ValidateFinite(name string, v float64) error {
	if math.IsNaN(v) {
		return fmt.Errorf("%s is NaN", name)
	}
	if math.IsInf(v, 0) {
		return fmt.Errorf("%s is infinite", name)
	}
	return nil
}

// =============================================================================
// Session Validation
// =============================================================================

// ValidateSession checks structural session invariants. Content invariants
// (non-overlap per device) are the sync process's responsibility.
func ValidateSession(s *model.SleepSession) error {
	if s.SessionID == "" {
		return fmt.Errorf("session id must not be empty")
	}
	if s.EndMin <= s.StartMin {
		return fmt.Errorf("session end %d must be after start %d", s.EndMin, s.StartMin)
	}
	if d := s.DurationMin(); d > 2*model.MinutesPerDay {
		return fmt.Errorf("session duration %d minutes exceeds two days", d)
	}
	for _, stage := range []struct {
		name string
		min  int
	}{
		{"deep_min", s.DeepMin},
		{"rem_min", s.RemMin},
		{"light_min", s.LightMin},
		{"awake_min", s.AwakeMin},
	} {
		if stage.min < 0 {
			return fmt.Errorf("%s must not be negative", stage.name)
		}
	}
	if s.Efficiency < 0 || s.Efficiency > 100 {
		return fmt.Errorf("efficiency %v out of range [0, 100]", s.Efficiency)
	}
	if err := ValidateFinite("efficiency", s.Efficiency); err != nil {
		return err
	}
	return nil
}
