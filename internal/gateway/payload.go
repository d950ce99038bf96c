package gateway

import (
	"bytes"
	"encoding/json"

	"github.com/xtxerr/somnia/internal/errors"
	"github.com/xtxerr/somnia/internal/model"
	"github.com/xtxerr/somnia/internal/validation"
)

// ReadingPayload is the wire shape of one ingested reading. The timestamp
// arrives either as (day, minute_of_day) or as a single ts_min epoch-minute
// field; exactly one form is required. Required fields are pointers so a
// missing field is distinguishable from a legitimate zero.
type ReadingPayload struct {
	DeviceID    string   `json:"device_id"`
	Day         string   `json:"day,omitempty"`
	MinuteOfDay *int     `json:"minute_of_day,omitempty"`
	TsMin       *int64   `json:"ts_min,omitempty"`
	TempC       *float64 `json:"temp_c"`
	HumidityPct *float64 `json:"humidity_pct"`
	PressureHPa *float64 `json:"pressure_hpa,omitempty"`
	IAQ         *float64 `json:"iaq,omitempty"`
	NoiseDB     *float64 `json:"noise_db,omitempty"`
}

// ParseReadingPayload decodes a payload, rejecting unknown fields so a
// misspelled metric never silently disappears.
func ParseReadingPayload(body []byte) (*ReadingPayload, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()

	var p ReadingPayload
	if err := dec.Decode(&p); err != nil {
		return nil, errors.Wrapf(errors.ErrMalformedPayload, "%v", err)
	}
	if dec.More() {
		return nil, errors.Wrap(errors.ErrMalformedPayload, "trailing data after payload")
	}
	return &p, nil
}

// ToReading validates the payload and converts it to the internal record.
// All field problems are collected and reported together.
func (p *ReadingPayload) ToReading() (*model.Reading, error) {
	v := errors.NewValidationErrors()

	if p.DeviceID == "" {
		v.AddMissing("device_id")
	} else if err := validation.ValidateDeviceID(p.DeviceID, validation.DefaultDeviceIDRules()); err != nil {
		v.AddInvalid("device_id", p.DeviceID, err.Error())
	}

	day, minute := p.Day, 0
	switch {
	case p.TsMin != nil:
		if p.Day != "" || p.MinuteOfDay != nil {
			v.Add(errors.NewInvalidValue("ts_min", *p.TsMin, "must not be combined with day/minute_of_day"))
			break
		}
		day = model.DayFromEpochMinute(*p.TsMin)
		minute = model.MinuteOfDayFromEpochMinute(*p.TsMin)
	case p.Day != "" && p.MinuteOfDay != nil:
		if err := validation.ValidateDay(p.Day); err != nil {
			v.AddInvalid("day", p.Day, err.Error())
		}
		if err := validation.ValidateMinuteOfDay(*p.MinuteOfDay); err != nil {
			v.AddInvalid("minute_of_day", *p.MinuteOfDay, err.Error())
		}
		minute = *p.MinuteOfDay
	case p.Day == "" && p.MinuteOfDay == nil:
		v.AddMissing("ts_min")
	case p.Day == "":
		v.AddMissing("day")
	default:
		v.AddMissing("minute_of_day")
	}

	if p.TempC == nil {
		v.AddMissing("temp_c")
	} else if err := validation.ValidateFinite("temp_c", *p.TempC); err != nil {
		v.AddInvalid("temp_c", *p.TempC, err.Error())
	}
	if p.HumidityPct == nil {
		v.AddMissing("humidity_pct")
	} else if err := validation.ValidateFinite("humidity_pct", *p.HumidityPct); err != nil {
		v.AddInvalid("humidity_pct", *p.HumidityPct, err.Error())
	}

	for _, opt := range []struct {
		name string
		val  *float64
	}{
		{"pressure_hpa", p.PressureHPa},
		{"iaq", p.IAQ},
		{"noise_db", p.NoiseDB},
	} {
		if opt.val == nil {
			continue
		}
		if err := validation.ValidateFinite(opt.name, *opt.val); err != nil {
			v.AddInvalid(opt.name, *opt.val, err.Error())
		}
	}

	if err := v.Err(); err != nil {
		return nil, err
	}

	r := &model.Reading{
		DeviceID:    p.DeviceID,
		Day:         day,
		MinuteOfDay: minute,
		TempC:       *p.TempC,
		HumidityPct: *p.HumidityPct,
		PressureHPa: p.PressureHPa,
		IAQ:         p.IAQ,
		NoiseDB:     p.NoiseDB,
	}
	return r, nil
}

// SessionPayload is the wire shape of one sleep session landed by the
// external sync process.
type SessionPayload struct {
	SessionID  string   `json:"session_id"`
	StartMin   *int64   `json:"start_min"`
	EndMin     *int64   `json:"end_min"`
	DeepMin    int      `json:"deep_min"`
	RemMin     int      `json:"rem_min"`
	LightMin   int      `json:"light_min"`
	AwakeMin   int      `json:"awake_min"`
	Efficiency *float64 `json:"efficiency"`
	Score      int      `json:"score"`
}

// ParseSessionPayload decodes a session payload, rejecting unknown fields.
func ParseSessionPayload(body []byte) (*SessionPayload, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()

	var p SessionPayload
	if err := dec.Decode(&p); err != nil {
		return nil, errors.Wrapf(errors.ErrMalformedPayload, "%v", err)
	}
	return &p, nil
}

// ToSession validates the payload and converts it to the internal record.
func (p *SessionPayload) ToSession() (*model.SleepSession, error) {
	v := errors.NewValidationErrors()

	if p.SessionID == "" {
		v.AddMissing("session_id")
	}
	if p.StartMin == nil {
		v.AddMissing("start_min")
	}
	if p.EndMin == nil {
		v.AddMissing("end_min")
	}
	if p.Efficiency == nil {
		v.AddMissing("efficiency")
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	s := &model.SleepSession{
		SessionID:  p.SessionID,
		StartMin:   *p.StartMin,
		EndMin:     *p.EndMin,
		DeepMin:    p.DeepMin,
		RemMin:     p.RemMin,
		LightMin:   p.LightMin,
		AwakeMin:   p.AwakeMin,
		Efficiency: *p.Efficiency,
		Score:      p.Score,
	}
	if err := validation.ValidateSession(s); err != nil {
		return nil, errors.NewInvalidValue("session", s.SessionID, err.Error())
	}
	return s, nil
}
