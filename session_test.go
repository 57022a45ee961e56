package agentpipe

import (
	"testing"
	"time"
)

func TestNewSessionInfo_Generated(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	info := NewSessionInfo("", "/work", now, func() string { return "gen-1" })
	if info.ID != "gen-1" {
		t.Errorf("ID = %q, want %q", info.ID, "gen-1")
	}
	if !info.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", info.CreatedAt, now)
	}
	if info.WorkDir != "/work" {
		t.Errorf("WorkDir = %q, want %q", info.WorkDir, "/work")
	}

	if !info.Absorb("agent-1", "sonnet") {
		t.Fatal("Absorb on generated id returned false")
	}
	if info.ID != "agent-1" || info.Model != "sonnet" {
		t.Errorf("after Absorb: %+v", info)
	}

	// Only the first reported id is taken.
	if info.Absorb("agent-2", "opus") {
		t.Error("second Absorb returned true")
	}
	if info.ID != "agent-1" || info.Model != "sonnet" {
		t.Errorf("second Absorb changed info: %+v", info)
	}
}

func TestNewSessionInfo_ResumeIDKept(t *testing.T) {
	called := false
	info := NewSessionInfo("resume-1", "/work", time.Now(), func() string {
		called = true
		return "x"
	})
	if called {
		t.Error("generate called for a non-empty id")
	}
	if info.Absorb("agent-1", "sonnet") {
		t.Error("Absorb replaced a caller-supplied id")
	}
	if info.ID != "resume-1" {
		t.Errorf("ID = %q, want %q", info.ID, "resume-1")
	}
	if info.Model != "sonnet" {
		t.Errorf("Model = %q, want %q", info.Model, "sonnet")
	}
}

func TestSessionInfo_AbsorbEmptyID(t *testing.T) {
	info := NewSessionInfo("", "", time.Now(), func() string { return "gen" })
	if info.Absorb("", "") {
		t.Error("Absorb with empty id returned true")
	}
	if info.ID != "gen" {
		t.Errorf("ID = %q, want %q", info.ID, "gen")
	}
	// Still replaceable afterwards.
	if !info.Absorb("agent", "") {
		t.Error("Absorb after empty report returned false")
	}
}
