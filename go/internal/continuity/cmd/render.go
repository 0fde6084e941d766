package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/mcdev12/pointing/go/internal/continuity"
	"github.com/mcdev12/pointing/go/internal/models"
	"github.com/mcdev12/pointing/go/internal/session"
)

// renderView prints a session table. Other participants' votes stay hidden
// until the round is revealed.
func renderView(w io.Writer, view continuity.View, stats session.Stats, participants []models.Participant) {
	s := view.Session
	if s == nil {
		fmt.Fprintf(w, "no session (%s)\n", view.Status)
		return
	}

	state := "hidden"
	if s.Revealed {
		state = "revealed"
	}
	fmt.Fprintf(w, "%s  %s  [%s]\n", view.SessionID, s.Title, state)
	fmt.Fprintf(w, "expires %s\n\n", time.UnixMilli(s.ExpiresAt).Format(time.RFC822))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tID\tVOTE")
	for _, p := range participants {
		name := p.Name
		if p.IsCurrentUser {
			name += " (you)"
		}
		if p.ID == s.CreatedBy {
			name += " *"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, p.ID, voteLabel(p, s.Revealed))
	}
	tw.Flush()

	if s.Revealed {
		fmt.Fprintf(w, "\nvotes %d  average %.1f  most common %s\n",
			stats.Total, stats.Average, displayOr(stats.MostCommon, "-"))
	} else {
		fmt.Fprintf(w, "\nvotes %d/%d\n", stats.Total, len(participants))
	}
}

func voteLabel(p models.Participant, revealed bool) string {
	switch {
	case !p.HasVoted:
		return "-"
	case revealed || p.IsCurrentUser:
		return p.Vote.String()
	default:
		return "voted"
	}
}

func displayOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
