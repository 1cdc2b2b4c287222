package domain

import (
	"time"

	"github.com/google/uuid"
)

// Prediction is a user's score guess for one match. At most one prediction
// exists per (user, match) pair; it is mutable until the match finishes and
// immutable afterwards. PredWinner is the explicit qualified-team pick, only
// meaningful for knockout matches predicted as a draw.
type Prediction struct {
	UserID     uuid.UUID `json:"user_id"`
	MatchID    int64     `json:"match_id"`
	PredHome   int       `json:"pred_home"`
	PredAway   int       `json:"pred_away"`
	PredWinner *string   `json:"pred_winner,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// AdvancingTeam returns the team this prediction implies advances: the
// explicit pick when present, otherwise the side predicted to score more.
// Empty for a predicted draw without a pick.
func (p *Prediction) AdvancingTeam(m *Match) string {
	if p.PredWinner != nil && *p.PredWinner != "" {
		return *p.PredWinner
	}
	switch {
	case p.PredHome > p.PredAway:
		return m.TeamHome
	case p.PredAway > p.PredHome:
		return m.TeamAway
	}
	return ""
}

// PredictionSubmission is a request to create or update a prediction. It is
// the wire shape for both the HTTP endpoint and the Kafka ingestion topic.
type PredictionSubmission struct {
	UserID     uuid.UUID `json:"user_id"`
	MatchID    int64     `json:"match_id"`
	PredHome   int       `json:"pred_home"`
	PredAway   int       `json:"pred_away"`
	PredWinner string    `json:"pred_winner,omitempty"`
}

// BatchPredictionSubmission represents multiple prediction submissions
type BatchPredictionSubmission struct {
	Predictions []PredictionSubmission `json:"predictions"`
}

// ScoreTier identifies which scoring rule a prediction hit
type ScoreTier string

const (
	TierExact   ScoreTier = "exact"
	TierResult  ScoreTier = "result"
	TierOneSide ScoreTier = "one_side"
	TierNone    ScoreTier = "none"
)

// ScoreEntry is the points awarded to one user for one finished match. It is
// derived data: recomputing it for the same match and predictions always
// yields the same values, and a corrected result overwrites it wholesale.
type ScoreEntry struct {
	UserID         uuid.UUID `json:"user_id"`
	MatchID        int64     `json:"match_id"`
	Points         int       `json:"points"`
	Tier           ScoreTier `json:"tier"`
	QualifierBonus bool      `json:"qualifier_bonus"`
	UpdatedAt      time.Time `json:"updated_at"`
}
