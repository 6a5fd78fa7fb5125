// Package schedule turns relative, per-participant schedule windows into
// absolute send instants.
//
// A window is expressed in the participant's wall clock: "day N at HH:MM"
// where day 0 is the local calendar date of signup. Offsets are applied to
// the calendar date first and only then resolved in the participant's zone,
// so a window keeps its local meaning across daylight-saving transitions.
package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidWindow is returned when a window does not begin strictly
	// before it ends.
	ErrInvalidWindow = errors.New("invalid schedule window")

	// ErrInvalidTimezone is returned for unknown or empty IANA zone names.
	ErrInvalidTimezone = errors.New("invalid timezone")

	// ErrInvalidLocalTime is returned for clock values that are not HH:MM.
	ErrInvalidLocalTime = errors.New("invalid local time")
)

// LocalTime is a wall-clock time of day with minute precision.
type LocalTime struct {
	Hour   int `validate:"min=0,max=23"`
	Minute int `validate:"min=0,max=59"`
}

// ParseLocalTime parses "HH:MM" (a trailing ":SS" of zero is tolerated).
func ParseLocalTime(s string) (LocalTime, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return LocalTime{}, fmt.Errorf("%w: %q", ErrInvalidLocalTime, s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return LocalTime{}, fmt.Errorf("%w: %q", ErrInvalidLocalTime, s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return LocalTime{}, fmt.Errorf("%w: %q", ErrInvalidLocalTime, s)
	}
	if len(parts) == 3 && parts[2] != "00" {
		return LocalTime{}, fmt.Errorf("%w: %q", ErrInvalidLocalTime, s)
	}
	return LocalTime{Hour: h, Minute: m}, nil
}

// MustLocalTime is ParseLocalTime for literals known to be valid.
func MustLocalTime(s string) LocalTime {
	t, err := ParseLocalTime(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t LocalTime) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

func (t LocalTime) minutes() int {
	return t.Hour*60 + t.Minute
}

// MarshalText encodes the time as "HH:MM".
func (t LocalTime) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes "HH:MM".
func (t *LocalTime) UnmarshalText(b []byte) error {
	parsed, err := ParseLocalTime(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Window is one entry of a ping template schedule. The JSON field names are
// the persisted format of ping_templates.schedule.
type Window struct {
	BeginDay  int       `json:"begin_day_num"`
	BeginTime LocalTime `json:"begin_time"`
	EndDay    int       `json:"end_day_num"`
	EndTime   LocalTime `json:"end_time"`
}

func (w Window) String() string {
	return fmt.Sprintf("day %d %s - day %d %s", w.BeginDay, w.BeginTime, w.EndDay, w.EndTime)
}

// Validate checks the window ordering on wall-clock values alone. It is the
// save-time check; Bounds repeats it on resolved instants.
func (w Window) Validate() error {
	begin := w.BeginDay*24*60 + w.BeginTime.minutes()
	end := w.EndDay*24*60 + w.EndTime.minutes()
	if begin >= end {
		return fmt.Errorf("%w: %s begins at or after its end", ErrInvalidWindow, w)
	}
	return nil
}

// LoadZone resolves an IANA zone name. Unlike time.LoadLocation it rejects
// the empty name instead of mapping it to UTC.
func LoadZone(name string) (*time.Location, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidTimezone)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidTimezone, name, err)
	}
	return loc, nil
}

// Bounds resolves the window into absolute instants for a participant who
// signed up at signup and lives in loc.
func (w Window) Bounds(signup time.Time, loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: nil location", ErrInvalidTimezone)
	}
	y, m, d := signup.In(loc).Date()

	// time.Date normalises day overflow on the calendar, then applies the
	// zone offset in effect at that wall-clock moment.
	begin := time.Date(y, m, d+w.BeginDay, w.BeginTime.Hour, w.BeginTime.Minute, 0, 0, loc)
	end := time.Date(y, m, d+w.EndDay, w.EndTime.Hour, w.EndTime.Minute, 0, 0, loc)
	if !begin.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %s resolves to %s >= %s",
			ErrInvalidWindow, w, begin.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return begin, end, nil
}
