package model

import "testing"

func enrollmentWith(recipient *string) Enrollment {
	return Enrollment{ID: 1, TelegramID: recipient}
}

func TestEnrollmentLinked(t *testing.T) {
	empty, chat := "", "777"
	cases := []struct {
		recipient *string
		want      bool
	}{
		{nil, false},
		{&empty, false},
		{&chat, true},
	}
	for _, c := range cases {
		// Called on a returned value, as callers holding copies do.
		if got := enrollmentWith(c.recipient).Linked(); got != c.want {
			t.Errorf("Linked(%v) = %v, want %v", c.recipient, got, c.want)
		}
	}
}
