package messagequeue

import (
	"strings"
	"testing"
)

func TestValidateSessionEvent(t *testing.T) {
	data := []byte(`{"session_id":"s1","type":"state","issue":"https://github.com/o/r/issues/1","iteration":1,"timestamp":"2026-01-02T03:04:05Z"}`)
	if err := Validate(EventSubject("s1"), data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateSessionEventMissingFields(t *testing.T) {
	data := []byte(`{"issue":"x"}`)
	err := Validate(EventSubject("s1"), data)
	if err == nil {
		t.Fatal("expected error for missing session_id")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("error = %v", err)
	}
}

func TestValidateSessionEventWrongType(t *testing.T) {
	data := []byte(`{"session_id":"s1","type":"state","iteration":"one"}`)
	if err := Validate(EventSubject("s1"), data); err == nil {
		t.Fatal("expected schema error for string iteration")
	}
}

func TestValidateNudge(t *testing.T) {
	data := []byte(`{"reason":"review submitted"}`)
	if err := Validate(NudgeSubject("o", "r", 7), data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateUnknownSubject(t *testing.T) {
	data := []byte(`{"foo":"bar"}`)
	if err := Validate("unknown.subject", data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateInvalidJSON(t *testing.T) {
	data := []byte(`{not valid json`)
	if err := Validate(EventSubject("s1"), data); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestSubjects(t *testing.T) {
	if got := EventSubject("a.b"); got != "sessions.event.a_b" {
		t.Errorf("EventSubject = %q", got)
	}
	if got := NudgeSubject("my.org", "repo", 42); got != "sessions.nudge.my_org.repo.42" {
		t.Errorf("NudgeSubject = %q", got)
	}
}
