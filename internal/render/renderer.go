// Package render expands ping template placeholders into outbound message
// text and survey URLs.
package render

import (
	"errors"
	"fmt"
	"html"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kkkkikiki/studyping/internal/model"
	"github.com/kkkkikiki/studyping/internal/schedule"
)

const (
	// NullValue is what an unset field renders as.
	NullValue = "None"

	// ReminderHeader prefixes reminder messages.
	ReminderHeader = "Reminder:\n"

	// DefaultLinkText is used when neither the template nor the config name one.
	DefaultLinkText = "Click here"

	messageTimeLayout = "2006-01-02 03:04:05 PM MST"
	signupDateLayout  = "2006-01-02"
)

// ErrIncompleteBundle is returned when a ping is rendered without the rows
// it refers to.
var ErrIncompleteBundle = errors.New("ping bundle is incomplete")

// Renderer builds participant-facing text for pings
type Renderer struct {
	baseURL  string
	linkText string
}

// NewRenderer creates a Renderer whose forwarding links point at baseURL.
func NewRenderer(baseURL, defaultLinkText string) *Renderer {
	if defaultLinkText == "" {
		defaultLinkText = DefaultLinkText
	}
	return &Renderer{
		baseURL:  strings.TrimRight(baseURL, "/"),
		linkText: defaultLinkText,
	}
}

// ForwardURL is the public redirect URL that authorises a click on p.
func (r *Renderer) ForwardURL(p *model.Ping) string {
	return fmt.Sprintf("%s/ping/%d?code=%s", r.baseURL, p.ID, url.QueryEscape(p.ForwardingCode))
}

// ForwardLink is the HTML anchor sent to the participant.
func (r *Renderer) ForwardLink(b model.PingBundle) string {
	text := r.linkText
	if b.Template.URLText != nil && *b.Template.URLText != "" {
		text = *b.Template.URLText
	}
	return fmt.Sprintf("<a href='%s'>%s</a>", r.ForwardURL(b.Ping), text)
}

// Message renders the text sent at the scheduled time.
func (r *Renderer) Message(b model.PingBundle) (string, error) {
	loc, err := bundleZone(b)
	if err != nil {
		return "", err
	}

	msg := b.Template.Message
	link := ""
	if b.Template.HasURL() {
		link = r.ForwardLink(b)
	}
	if strings.Contains(msg, TokenURL.Placeholder()) {
		msg = strings.ReplaceAll(msg, TokenURL.Placeholder(), link)
	} else if link != "" {
		msg += "\n\n" + link
	}

	for _, tok := range MessageTokens {
		ph := tok.Placeholder()
		if !strings.Contains(msg, ph) {
			continue
		}
		// Messages go out as HTML; only the template's own markup is trusted.
		msg = strings.ReplaceAll(msg, ph, html.EscapeString(messageValue(tok, b, loc)))
	}
	return msg, nil
}

// Reminder renders the reminder text for a ping.
func (r *Renderer) Reminder(b model.PingBundle) (string, error) {
	msg, err := r.Message(b)
	if err != nil {
		return "", err
	}
	return ReminderHeader + msg, nil
}

// SurveyURL renders the template URL a click is redirected to. It returns
// the empty string when the template has no URL.
func (r *Renderer) SurveyURL(b model.PingBundle) (string, error) {
	if _, err := bundleZone(b); err != nil {
		return "", err
	}
	if !b.Template.HasURL() {
		return "", nil
	}
	// Values in the query string need query escaping; '&', '=' and '+'
	// survive path escaping.
	path, query, hasQuery := strings.Cut(*b.Template.URL, "?")
	out := substituteURL(path, b, url.PathEscape)
	if hasQuery {
		out += "?" + substituteURL(query, b, url.QueryEscape)
	}
	return out, nil
}

func substituteURL(s string, b model.PingBundle, escape func(string) string) string {
	for _, tok := range URLTokens {
		ph := tok.Placeholder()
		if !strings.Contains(s, ph) {
			continue
		}
		s = strings.ReplaceAll(s, ph, escape(urlValue(tok, b)))
	}
	return s
}

func bundleZone(b model.PingBundle) (*time.Location, error) {
	if b.Ping == nil || b.Template == nil || b.Enrollment == nil || b.Study == nil {
		return nil, ErrIncompleteBundle
	}
	return schedule.LoadZone(b.Enrollment.TZ)
}

// messageValue formats timestamps for people, in the participant's zone.
func messageValue(tok Token, b model.PingBundle, loc *time.Location) string {
	switch tok {
	case TokenReminderTime:
		return formatTime(b.Ping.ReminderTS, loc, messageTimeLayout)
	case TokenScheduledTime:
		return formatTime(&b.Ping.ScheduledTS, loc, messageTimeLayout)
	case TokenExpireTime:
		return formatTime(b.Ping.ExpireTS, loc, messageTimeLayout)
	case TokenSignupDate:
		return formatTime(&b.Enrollment.SignupTS, loc, signupDateLayout)
	default:
		return plainValue(tok, b)
	}
}

// urlValue formats timestamps for machines.
func urlValue(tok Token, b model.PingBundle) string {
	switch tok {
	case TokenReminderTime:
		return formatTime(b.Ping.ReminderTS, time.UTC, time.RFC3339)
	case TokenScheduledTime:
		return formatTime(&b.Ping.ScheduledTS, time.UTC, time.RFC3339)
	case TokenExpireTime:
		return formatTime(b.Ping.ExpireTS, time.UTC, time.RFC3339)
	case TokenSignupDate:
		return formatTime(&b.Enrollment.SignupTS, time.UTC, time.RFC3339)
	default:
		return plainValue(tok, b)
	}
}

func plainValue(tok Token, b model.PingBundle) string {
	switch tok {
	case TokenPingID:
		return strconv.FormatInt(b.Ping.ID, 10)
	case TokenDayNum:
		return strconv.Itoa(b.Ping.DayNum)
	case TokenTemplateID:
		return strconv.FormatInt(b.Template.ID, 10)
	case TokenTemplateName:
		return b.Template.Name
	case TokenStudyID:
		return strconv.FormatInt(b.Study.ID, 10)
	case TokenStudyPublicName:
		return b.Study.PublicName
	case TokenStudyInternalName:
		return b.Study.InternalName
	case TokenStudyContactMsg:
		return optional(b.Study.ContactMessage)
	case TokenPID:
		return b.Enrollment.StudyPID
	case TokenEnrollmentID:
		return strconv.FormatInt(b.Enrollment.ID, 10)
	case TokenPrCompleted:
		return formatRatio(b.Enrollment.PrCompleted)
	case TokenReminderTime, TokenScheduledTime, TokenExpireTime, TokenSignupDate, TokenURL:
		// handled by the callers
	}
	return NullValue
}

func formatTime(t *time.Time, loc *time.Location, layout string) string {
	if t == nil || t.IsZero() {
		return NullValue
	}
	return t.In(loc).Format(layout)
}

func optional(s *string) string {
	if s == nil {
		return NullValue
	}
	return *s
}

// formatRatio always keeps a fractional part: 0 renders as "0.0".
func formatRatio(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
