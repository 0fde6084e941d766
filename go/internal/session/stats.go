package session

import (
	"math"

	"github.com/mcdev12/pointing/go/internal/models"
	"github.com/shopspring/decimal"
)

// Stats summarizes one round of votes
type Stats struct {
	Total      int     `json:"total"`
	Average    float64 `json:"average"`
	MostCommon string  `json:"most_common"`
}

// ComputeStats derives totals from a vote map. Average covers numeric votes
// only and is rounded half away from zero to one decimal. MostCommon counts
// every vote; ties go to the lexicographically smallest label.
func ComputeStats(votes map[string]models.Vote) Stats {
	stats := Stats{Total: len(votes)}
	if len(votes) == 0 {
		return stats
	}

	sum := decimal.Zero
	numeric := 0
	counts := make(map[string]int)

	for _, v := range votes {
		counts[v.StoryPoints.String()]++
		if v.StoryPoints.Unknown || math.IsNaN(v.StoryPoints.Value) || math.IsInf(v.StoryPoints.Value, 0) {
			continue
		}
		sum = sum.Add(decimal.NewFromFloat(v.StoryPoints.Value))
		numeric++
	}

	if numeric > 0 {
		avg := sum.Div(decimal.NewFromInt(int64(numeric))).Round(1)
		stats.Average = avg.InexactFloat64()
	}

	best := 0
	for label, n := range counts {
		if n > best || (n == best && label < stats.MostCommon) {
			best = n
			stats.MostCommon = label
		}
	}
	return stats
}

// Participants lists the session's participants in join order, with their
// votes and whether each one is the viewer.
func Participants(s *models.Session, viewerID string) []models.Participant {
	if s == nil {
		return nil
	}

	out := make([]models.Participant, 0, len(s.Participants))
	for _, id := range s.Participants {
		p := models.Participant{
			ID:            id,
			Name:          s.DisplayName(id),
			IsCurrentUser: id == viewerID,
		}
		if v, ok := s.Votes[id]; ok {
			points := v.StoryPoints
			p.HasVoted = true
			p.Vote = &points
		}
		out = append(out, p)
	}
	return out
}

// UserVote returns userID's vote in the current round, if any
func UserVote(s *models.Session, userID string) (models.Points, bool) {
	if s == nil {
		return models.Points{}, false
	}
	v, ok := s.Votes[userID]
	if !ok {
		return models.Points{}, false
	}
	return v.StoryPoints, true
}
