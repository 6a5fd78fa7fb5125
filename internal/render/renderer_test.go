package render

import (
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/kkkkikiki/studyping/internal/model"
	"github.com/kkkkikiki/studyping/internal/schedule"
)

func strp(s string) *string { return &s }

func newBundle() model.PingBundle {
	scheduled := time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC)
	expire := scheduled.Add(2 * time.Hour)
	return model.PingBundle{
		Ping: &model.Ping{
			ID:             7,
			StudyID:        3,
			PingTemplateID: 5,
			EnrollmentID:   11,
			DayNum:         2,
			ScheduledTS:    scheduled,
			ExpireTS:       &expire,
			ForwardingCode: "abc-123",
		},
		Template: &model.PingTemplate{ID: 5, StudyID: 3, Name: "Evening check-in", Message: "Hi"},
		Enrollment: &model.Enrollment{
			ID:          11,
			StudyID:     3,
			TZ:          "America/New_York",
			StudyPID:    "P 042",
			SignupTS:    time.Date(2024, 1, 1, 14, 0, 0, 0, time.UTC),
			PrCompleted: 0.25,
		},
		Study: &model.Study{ID: 3, PublicName: "Sleep Study", InternalName: "sleep-2024"},
	}
}

func TestMessagePlaceholders(t *testing.T) {
	r := NewRenderer("https://pings.example.org", "")
	b := newBundle()
	b.Template.Message = "Hi, ping <PING_ID> for day <DAY_NUM>"

	got, err := r.Message(b)
	if err != nil {
		t.Fatalf("Message: %v", err)
	}
	if want := "Hi, ping 7 for day 2"; got != want {
		t.Errorf("Message = %q, want %q", got, want)
	}
}

func TestMessageFullVocabulary(t *testing.T) {
	r := NewRenderer("https://pings.example.org", "")
	b := newBundle()
	b.Template.Message = "<STUDY_PUBLIC_NAME>/<STUDY_INTERNAL_NAME>/<STUDY_ID> " +
		"<PING_TEMPLATE_NAME>#<PING_TEMPLATE_ID> <PID> e<ENROLLMENT_ID> " +
		"at <SCHEDULED_TIME> until <EXPIRE_TIME> remind <REMINDER_TIME> " +
		"since <ENROLLMENT_SIGNUP_DATE> done <PR_COMPLETED> contact <STUDY_CONTACT_MSG>"

	got, err := r.Message(b)
	if err != nil {
		t.Fatalf("Message: %v", err)
	}
	want := "Sleep Study/sleep-2024/3 Evening check-in#5 P 042 e11 " +
		"at 2024-01-02 09:30:00 AM EST until 2024-01-02 11:30:00 AM EST remind None " +
		"since 2024-01-01 done 0.25 contact None"
	if got != want {
		t.Errorf("Message =\n%q\nwant\n%q", got, want)
	}
}

func TestMessageAppendsLinkWithoutURLToken(t *testing.T) {
	r := NewRenderer("https://pings.example.org/", "")
	b := newBundle()
	b.Template.Message = "Time for your survey."
	b.Template.URL = strp("https://survey.example.com/s?pid=<PID>")

	got, err := r.Message(b)
	if err != nil {
		t.Fatalf("Message: %v", err)
	}
	want := "Time for your survey.\n\n<a href='https://pings.example.org/ping/7?code=abc-123'>Click here</a>"
	if got != want {
		t.Errorf("Message = %q, want %q", got, want)
	}
}

func TestMessageSubstitutesURLToken(t *testing.T) {
	r := NewRenderer("https://pings.example.org", "Open")
	b := newBundle()
	b.Template.Message = "Tap <URL> for <STUDY_PUBLIC_NAME>"
	b.Template.URL = strp("https://survey.example.com")
	b.Template.URLText = strp("the day <DAY_NUM> survey")

	got, err := r.Message(b)
	if err != nil {
		t.Fatalf("Message: %v", err)
	}
	want := "Tap <a href='https://pings.example.org/ping/7?code=abc-123'>the day 2 survey</a> for Sleep Study"
	if got != want {
		t.Errorf("Message = %q, want %q", got, want)
	}
	if strings.Contains(got, "\n\n") {
		t.Error("link must not be appended when <URL> is present")
	}
}

func TestMessageURLTokenWithoutTemplateURL(t *testing.T) {
	r := NewRenderer("https://pings.example.org", "")
	b := newBundle()
	b.Template.Message = "No link here: <URL>."

	got, err := r.Message(b)
	if err != nil {
		t.Fatalf("Message: %v", err)
	}
	if got != "No link here: ." {
		t.Errorf("Message = %q", got)
	}
}

func TestReminder(t *testing.T) {
	r := NewRenderer("https://pings.example.org", "")
	b := newBundle()
	b.Template.Message = "Ping <PING_ID>"

	got, err := r.Reminder(b)
	if err != nil {
		t.Fatalf("Reminder: %v", err)
	}
	if got != "Reminder:\nPing 7" {
		t.Errorf("Reminder = %q", got)
	}
}

func TestSurveyURL(t *testing.T) {
	r := NewRenderer("https://pings.example.org", "")
	b := newBundle()
	b.Template.URL = strp("https://survey.example.com/s?pid=<PID>&ping=<PING_ID>&at=<SCHEDULED_TIME>&x=<URL>")

	got, err := r.SurveyURL(b)
	if err != nil {
		t.Fatalf("SurveyURL: %v", err)
	}
	want := "https://survey.example.com/s?pid=P+042&ping=7&at=2024-01-02T14%3A30%3A00Z&x=<URL>"
	if got != want {
		t.Errorf("SurveyURL = %q, want %q", got, want)
	}

	b.Template.URL = nil
	if got, err := r.SurveyURL(b); err != nil || got != "" {
		t.Errorf("SurveyURL without url = %q, %v", got, err)
	}
}

func TestSurveyURLEscapesReservedCharacters(t *testing.T) {
	r := NewRenderer("https://pings.example.org", "")
	b := newBundle()
	b.Enrollment.StudyPID = "a+b&admin=1"
	b.Template.URL = strp("https://survey.example.com/p/<PID>/s?pid=<PID>")

	got, err := r.SurveyURL(b)
	if err != nil {
		t.Fatalf("SurveyURL: %v", err)
	}
	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("parse %q: %v", got, err)
	}
	q := u.Query()
	if q.Get("pid") != "a+b&admin=1" || q.Has("admin") || len(q) != 1 {
		t.Errorf("query = %v from %q", q, got)
	}
	if u.Path != "/p/a+b&admin=1/s" {
		t.Errorf("path = %q from %q", u.Path, got)
	}
}

func TestMessageEscapesSubstitutedValues(t *testing.T) {
	r := NewRenderer("https://pings.example.org", "")
	b := newBundle()
	b.Study.PublicName = "Sleep & <Mood>"
	b.Template.Message = "<b>Hello</b> from <STUDY_PUBLIC_NAME>"

	got, err := r.Message(b)
	if err != nil {
		t.Fatalf("Message: %v", err)
	}
	if want := "<b>Hello</b> from Sleep &amp; &lt;Mood&gt;"; got != want {
		t.Errorf("Message = %q, want %q", got, want)
	}
}

func TestRenderErrors(t *testing.T) {
	r := NewRenderer("https://pings.example.org", "")
	b := newBundle()
	b.Enrollment.TZ = "Nowhere/Special"
	if _, err := r.Message(b); !errors.Is(err, schedule.ErrInvalidTimezone) {
		t.Errorf("want ErrInvalidTimezone, got %v", err)
	}

	b = newBundle()
	b.Study = nil
	if _, err := r.Message(b); !errors.Is(err, ErrIncompleteBundle) {
		t.Errorf("want ErrIncompleteBundle, got %v", err)
	}
}

func TestFormatRatio(t *testing.T) {
	for in, want := range map[float64]string{0: "0.0", 1: "1.0", 0.25: "0.25", 2.0 / 3.0: "0.6666666666666666"} {
		if got := formatRatio(in); got != want {
			t.Errorf("formatRatio(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestPlaceholdersAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, tok := range append(append([]Token{}, URLTokens...), TokenURL) {
		ph := tok.Placeholder()
		if seen[ph] {
			t.Errorf("duplicate placeholder %s", ph)
		}
		seen[ph] = true
		if tok.Description() == "" {
			t.Errorf("%s has no description", ph)
		}
	}
}
