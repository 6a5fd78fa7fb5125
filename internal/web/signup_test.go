package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kkkkikiki/studyping/internal/model"
	"github.com/kkkkikiki/studyping/internal/service"
)

type stubSigner struct {
	err            error
	study, pid, tz string
}

func (s *stubSigner) Signup(ctx context.Context, studyCode, pid, tz string) (*model.Enrollment, error) {
	s.study, s.pid, s.tz = studyCode, pid, tz
	if s.err != nil {
		return nil, s.err
	}
	code := "abc234"
	expires := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	return &model.Enrollment{ID: 41, LinkCode: &code, LinkCodeExpireTS: &expires}, nil
}

func TestSignup(t *testing.T) {
	signer := &stubSigner{}
	r := NewRouter(Deps{Signer: signer, PublicURL: "https://ping.example.com/", BotUsername: "StudyBot"})

	body := `{"study_code":" SLEEP ","pid":"P-042","tz":"Europe/Berlin"}`
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/signup", strings.NewReader(body)))
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if signer.study != "SLEEP" || signer.pid != "P-042" || signer.tz != "Europe/Berlin" {
		t.Errorf("Signup(%q, %q, %q)", signer.study, signer.pid, signer.tz)
	}

	var got signupResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := signupResponse{
		EnrollmentID:      41,
		LinkCode:          "abc234",
		LinkCodeExpiresAt: time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC),
		QRURL:             "https://ping.example.com/link/abc234/qr.png",
		BotURL:            "https://t.me/StudyBot?start=abc234",
	}
	if !got.LinkCodeExpiresAt.Equal(want.LinkCodeExpiresAt) {
		t.Errorf("expires = %v", got.LinkCodeExpiresAt)
	}
	got.LinkCodeExpiresAt = want.LinkCodeExpiresAt
	if got != want {
		t.Errorf("response = %+v, want %+v", got, want)
	}
}

func TestSignupErrors(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"malformed json", `{`, nil, http.StatusBadRequest},
		{"missing pid", `{"study_code":"SLEEP","tz":"UTC"}`, nil, http.StatusBadRequest},
		{"blank study code", `{"study_code":"  ","pid":"P1","tz":"UTC"}`, nil, http.StatusBadRequest},
		{"unknown study", `{"study_code":"NOPE","pid":"P1","tz":"UTC"}`, fmt.Errorf("%w: code=%q", service.ErrStudyNotFound, "NOPE"), http.StatusNotFound},
		{"bad timezone", `{"study_code":"SLEEP","pid":"P1","tz":"Mars/Base"}`, fmt.Errorf("%w: %q", service.ErrInvalidTimezone, "Mars/Base"), http.StatusBadRequest},
		{"store failure", `{"study_code":"SLEEP","pid":"P1","tz":"UTC"}`, errors.New("db down"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := NewRouter(Deps{Signer: &stubSigner{err: c.err}})
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/signup", strings.NewReader(c.body)))
			if w.Code != c.status {
				t.Errorf("status = %d, want %d", w.Code, c.status)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
		})
	}
}
