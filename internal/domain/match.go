package domain

import "time"

// Stage represents a tournament phase. Stage names follow the original
// tournament data, which is in Spanish.
type Stage string

const (
	StageGroups    Stage = "grupos"
	StageRoundOf16 Stage = "octavos"
	StageQuarter   Stage = "cuartos"
	StageSemi      Stage = "semifinal"
	StageFinal     Stage = "final"
)

var stageOrder = map[Stage]int{
	StageGroups:    0,
	StageRoundOf16: 1,
	StageQuarter:   2,
	StageSemi:      3,
	StageFinal:     4,
}

// Order returns the stage's position in the tournament progression.
// Unknown stages sort after the known ones.
func (s Stage) Order() int {
	if o, ok := stageOrder[s]; ok {
		return o
	}
	return len(stageOrder)
}

// Knockout reports whether matches at this stage eliminate the loser.
func (s Stage) Knockout() bool {
	return s != StageGroups
}

// MatchStatus represents the lifecycle state of a match
type MatchStatus string

const (
	MatchStatusScheduled MatchStatus = "scheduled"
	MatchStatusFinished  MatchStatus = "finished"
)

// Match represents a tournament match. ScoreHome, ScoreAway and WinnerTeam
// are nil until the admin finalizes the result. WinnerTeam is only set for
// knockout matches that ended in a draw.
type Match struct {
	ID          int64       `json:"id"`
	Stage       Stage       `json:"stage"`
	MatchNumber int         `json:"match_number"`
	TeamHome    string      `json:"team_home"`
	TeamAway    string      `json:"team_away"`
	KickoffTime time.Time   `json:"kickoff_time"`
	Status      MatchStatus `json:"status"`
	ScoreHome   *int        `json:"score_home,omitempty"`
	ScoreAway   *int        `json:"score_away,omitempty"`
	WinnerTeam  *string     `json:"winner_team,omitempty"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Finished reports whether the official result is in.
func (m *Match) Finished() bool {
	return m.Status == MatchStatusFinished
}

// Drawn reports whether the official score is a tie. False while the match
// has no result.
func (m *Match) Drawn() bool {
	return m.ScoreHome != nil && m.ScoreAway != nil && *m.ScoreHome == *m.ScoreAway
}

// AdvancingTeam returns the team the official result advances: the winner by
// goals, or the winner_team annotation for a drawn knockout match. Empty when
// the match has no result or a draw carries no annotation.
func (m *Match) AdvancingTeam() string {
	if m.ScoreHome == nil || m.ScoreAway == nil {
		return ""
	}
	switch {
	case *m.ScoreHome > *m.ScoreAway:
		return m.TeamHome
	case *m.ScoreAway > *m.ScoreHome:
		return m.TeamAway
	}
	if m.WinnerTeam != nil {
		return *m.WinnerTeam
	}
	return ""
}

// FinalizeResult is the outcome of an admin finalize. Warning is set when the
// match was finalized but the downstream rescore or leaderboard refresh
// failed; the official result is authoritative and is never rolled back.
type FinalizeResult struct {
	Match   *Match `json:"match"`
	Warning string `json:"warning,omitempty"`
}
