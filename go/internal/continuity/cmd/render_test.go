package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/mcdev12/pointing/go/internal/continuity"
	"github.com/mcdev12/pointing/go/internal/models"
	"github.com/mcdev12/pointing/go/internal/session"
)

func testView(revealed bool) continuity.View {
	s := &models.Session{
		ID:           "ABC123",
		Title:        "Sprint 9",
		Revealed:     revealed,
		Participants: []string{"u-alice", "u-bob", "u-carol"},
		Names:        map[string]string{"u-alice": "Alice", "u-bob": "Bob", "u-carol": "Carol"},
		Votes: map[string]models.Vote{
			"u-alice": {UserID: "u-alice", UserName: "Alice", StoryPoints: models.NumericPoints(5)},
			"u-bob":   {UserID: "u-bob", UserName: "Bob", StoryPoints: models.NumericPoints(8)},
		},
		CreatedBy: "u-alice",
		ExpiresAt: 1_800_000_000_000,
	}
	return continuity.View{SessionID: s.ID, Session: s, Status: continuity.StatusLive}
}

func render(view continuity.View, viewer string) string {
	var buf bytes.Buffer
	renderView(&buf, view, session.ComputeStats(view.Session.Votes), session.Participants(view.Session, viewer))
	return buf.String()
}

func TestRenderHidesOtherVotesBeforeReveal(t *testing.T) {
	out := render(testView(false), "u-bob")

	if strings.Contains(out, " 5\n") {
		t.Fatalf("alice's vote leaked before reveal:\n%s", out)
	}
	if !strings.Contains(out, "voted") || !strings.Contains(out, "8") {
		t.Fatalf("expected hidden marker and own vote:\n%s", out)
	}
	if !strings.Contains(out, "votes 2/3") {
		t.Fatalf("expected vote progress:\n%s", out)
	}
}

func TestRenderShowsStatsAfterReveal(t *testing.T) {
	out := render(testView(true), "u-carol")

	if !strings.Contains(out, "average 6.5") || !strings.Contains(out, "most common 5") {
		t.Fatalf("expected revealed stats:\n%s", out)
	}
	if !strings.Contains(out, "Carol (you)") || !strings.Contains(out, "Alice *") {
		t.Fatalf("expected viewer and creator markers:\n%s", out)
	}
}

func TestRenderWithoutSession(t *testing.T) {
	var buf bytes.Buffer
	renderView(&buf, continuity.View{Status: continuity.StatusIdle}, session.Stats{}, nil)
	if got := buf.String(); got != "no session (idle)\n" {
		t.Fatalf("unexpected output %q", got)
	}
}
