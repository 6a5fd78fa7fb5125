package schedule

import (
	"encoding/json"
	"errors"
	"math/rand/v2"
	"testing"
	"time"
)

type fixedRand struct{ pick func(n int64) int64 }

func (f fixedRand) Int64N(n int64) int64 { return f.pick(n) }

func mustZone(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := LoadZone(name)
	if err != nil {
		t.Fatalf("LoadZone(%q): %v", name, err)
	}
	return loc
}

func TestParseLocalTime(t *testing.T) {
	cases := []struct {
		in      string
		want    LocalTime
		wantErr bool
	}{
		{"09:00", LocalTime{9, 0}, false},
		{"23:59", LocalTime{23, 59}, false},
		{"7:05", LocalTime{7, 5}, false},
		{"10:30:00", LocalTime{10, 30}, false},
		{"24:00", LocalTime{}, true},
		{"12:60", LocalTime{}, true},
		{"noon", LocalTime{}, true},
		{"10:30:15", LocalTime{}, true},
		{"", LocalTime{}, true},
	}
	for _, tc := range cases {
		got, err := ParseLocalTime(tc.in)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidLocalTime) {
				t.Errorf("ParseLocalTime(%q): want ErrInvalidLocalTime, got %v", tc.in, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("ParseLocalTime(%q) = %v, %v; want %v", tc.in, got, err, tc.want)
		}
	}
}

func TestWindowJSON(t *testing.T) {
	raw := `[{"begin_day_num":1,"begin_time":"09:00","end_day_num":1,"end_time":"10:30"}]`
	var ws []Window
	if err := json.Unmarshal([]byte(raw), &ws); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := Window{BeginDay: 1, BeginTime: LocalTime{9, 0}, EndDay: 1, EndTime: LocalTime{10, 30}}
	if len(ws) != 1 || ws[0] != want {
		t.Fatalf("got %+v, want %+v", ws, want)
	}
	out, err := json.Marshal(ws)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != raw {
		t.Errorf("marshal = %s, want %s", out, raw)
	}
}

func TestLoadZone(t *testing.T) {
	if _, err := LoadZone("America/New_York"); err != nil {
		t.Fatalf("valid zone rejected: %v", err)
	}
	for _, name := range []string{"", "  ", "Mars/Olympus_Mons"} {
		if _, err := LoadZone(name); !errors.Is(err, ErrInvalidTimezone) {
			t.Errorf("LoadZone(%q): want ErrInvalidTimezone, got %v", name, err)
		}
	}
}

func TestWindowValidate(t *testing.T) {
	ok := Window{BeginDay: 1, BeginTime: MustLocalTime("23:00"), EndDay: 2, EndTime: MustLocalTime("01:00")}
	if err := ok.Validate(); err != nil {
		t.Errorf("overnight window rejected: %v", err)
	}
	bad := []Window{
		{BeginDay: 1, BeginTime: MustLocalTime("10:00"), EndDay: 1, EndTime: MustLocalTime("10:00")},
		{BeginDay: 1, BeginTime: MustLocalTime("10:00"), EndDay: 1, EndTime: MustLocalTime("09:00")},
		{BeginDay: 2, BeginTime: MustLocalTime("08:00"), EndDay: 1, EndTime: MustLocalTime("20:00")},
	}
	for _, w := range bad {
		if err := w.Validate(); !errors.Is(err, ErrInvalidWindow) {
			t.Errorf("Validate(%s): want ErrInvalidWindow, got %v", w, err)
		}
	}
}

func TestBoundsUsesLocalCalendarDay(t *testing.T) {
	ny := mustZone(t, "America/New_York")
	// 03:00 UTC on Jan 2 is still Jan 1 in New York, so day 1 is Jan 2.
	signup := time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC)
	w := Window{BeginDay: 1, BeginTime: MustLocalTime("09:00"), EndDay: 1, EndTime: MustLocalTime("10:00")}

	begin, end, err := w.Bounds(signup, ny)
	if err != nil {
		t.Fatalf("Bounds: %v", err)
	}
	wantBegin := time.Date(2024, 1, 2, 14, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)
	if !begin.Equal(wantBegin) || !end.Equal(wantEnd) {
		t.Errorf("Bounds = %s..%s, want %s..%s", begin.UTC(), end.UTC(), wantBegin, wantEnd)
	}
}

func TestBoundsAcrossSpringForward(t *testing.T) {
	ny := mustZone(t, "America/New_York")
	// Clocks jump from 02:00 EST to 03:00 EDT on 2024-03-10.
	signup := time.Date(2024, 3, 9, 14, 0, 0, 0, time.UTC) // 09:00 EST
	w := Window{BeginDay: 1, BeginTime: MustLocalTime("09:00"), EndDay: 1, EndTime: MustLocalTime("10:00")}

	begin, _, err := w.Bounds(signup, ny)
	if err != nil {
		t.Fatalf("Bounds: %v", err)
	}
	// 09:00 EDT, not the 14:00 UTC that adding 24h in UTC would give.
	if want := time.Date(2024, 3, 10, 13, 0, 0, 0, time.UTC); !begin.Equal(want) {
		t.Errorf("begin = %s, want %s", begin.UTC(), want)
	}

	overnight := Window{BeginDay: 1, BeginTime: MustLocalTime("01:00"), EndDay: 1, EndTime: MustLocalTime("04:00")}
	b, e, err := overnight.Bounds(signup, ny)
	if err != nil {
		t.Fatalf("Bounds: %v", err)
	}
	if got := e.Sub(b); got != 2*time.Hour {
		t.Errorf("window spanning the gap lasts %s, want 2h", got)
	}
}

func TestBoundsRejectsInvertedWindow(t *testing.T) {
	ny := mustZone(t, "America/New_York")
	w := Window{BeginDay: 1, BeginTime: MustLocalTime("10:00"), EndDay: 1, EndTime: MustLocalTime("09:59")}
	if _, _, err := w.Bounds(time.Now(), ny); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("want ErrInvalidWindow, got %v", err)
	}
	if _, err := Sample(nil, time.Now(), ny, w); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("Sample: want ErrInvalidWindow, got %v", err)
	}
	if _, _, err := w.Bounds(time.Now(), nil); !errors.Is(err, ErrInvalidTimezone) {
		t.Fatalf("nil location: want ErrInvalidTimezone, got %v", err)
	}
}

func TestSampleStaysInsideWindow(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	zones := []string{"America/New_York", "Europe/London", "Australia/Sydney", "Asia/Kolkata", "UTC"}
	// Signups around the 2024 DST transitions in both hemispheres.
	signups := []time.Time{
		time.Date(2024, 3, 9, 15, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 30, 23, 30, 0, 0, time.UTC),
		time.Date(2024, 4, 6, 12, 0, 0, 0, time.UTC),
		time.Date(2024, 11, 2, 18, 0, 0, 0, time.UTC),
	}
	windows := []Window{
		{BeginDay: 0, BeginTime: MustLocalTime("00:00"), EndDay: 0, EndTime: MustLocalTime("23:59")},
		{BeginDay: 1, BeginTime: MustLocalTime("01:00"), EndDay: 1, EndTime: MustLocalTime("04:00")},
		{BeginDay: 1, BeginTime: MustLocalTime("22:00"), EndDay: 2, EndTime: MustLocalTime("02:00")},
		{BeginDay: 3, BeginTime: MustLocalTime("09:00"), EndDay: 3, EndTime: MustLocalTime("09:01")},
	}

	for _, zone := range zones {
		loc := mustZone(t, zone)
		for _, signup := range signups {
			for _, w := range windows {
				begin, end, err := w.Bounds(signup, loc)
				if err != nil {
					t.Fatalf("%s %s %s: %v", zone, signup, w, err)
				}
				for i := 0; i < 50; i++ {
					got, err := Sample(rng, signup, loc, w)
					if err != nil {
						t.Fatalf("Sample: %v", err)
					}
					if got.Before(begin) || got.After(end) {
						t.Fatalf("%s %s %s: sample %s outside [%s, %s]", zone, signup, w, got, begin, end)
					}
					if got.Location() != time.UTC {
						t.Fatalf("sample not in UTC: %s", got.Location())
					}
				}
			}
		}
	}
}

func TestSampleHitsBothEnds(t *testing.T) {
	ny := mustZone(t, "America/New_York")
	signup := time.Date(2024, 1, 1, 14, 0, 0, 0, time.UTC)
	w := Window{BeginDay: 1, BeginTime: MustLocalTime("09:00"), EndDay: 1, EndTime: MustLocalTime("10:00")}
	begin, end, _ := w.Bounds(signup, ny)

	var gotN int64
	low, _ := Sample(fixedRand{func(n int64) int64 { gotN = n; return 0 }}, signup, ny, w)
	high, _ := Sample(fixedRand{func(n int64) int64 { return n - 1 }}, signup, ny, w)
	if gotN != 3601 {
		t.Errorf("drew from %d values, want 3601", gotN)
	}
	if !low.Equal(begin) || !high.Equal(end) {
		t.Errorf("extremes %s, %s; want %s, %s", low, high, begin, end)
	}
}
