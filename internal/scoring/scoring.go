// Package scoring awards points to predictions against official results.
// Score is a pure function of (match, prediction, rules): recomputing a
// finished match always reproduces the same entries, so a corrected result
// can simply overwrite the previous ones.
package scoring

import (
	"time"

	"github.com/polla-backend/internal/domain"
)

// Rules holds the point values for each scoring tier. The tiers are mutually
// exclusive per prediction; the qualifier bonus stacks on top of any tier.
type Rules struct {
	Exact          int
	Result         int
	OneSide        int
	QualifierBonus int
}

// DefaultRules returns the standard pool point values.
func DefaultRules() Rules {
	return Rules{
		Exact:          5,
		Result:         3,
		OneSide:        1,
		QualifierBonus: 2,
	}
}

// Score computes the points one prediction earns against a finished match.
// Exactly one tier applies:
//
//   - exact: both predicted goal counts match the official score
//   - result: the predicted outcome (home win / away win / draw) matches,
//     but the score does not
//   - one_side: exactly one side's goal count matches and the outcome is wrong
//   - none: nothing matched
//
// For knockout matches the qualifier bonus is added when the team the
// prediction advances equals the team the official result advances. A drawn
// knockout result without a winner annotation awards no bonus, since the
// advancing team is unknown.
func Score(rules Rules, m *domain.Match, p *domain.Prediction, now time.Time) domain.ScoreEntry {
	entry := domain.ScoreEntry{
		UserID:    p.UserID,
		MatchID:   m.ID,
		Tier:      domain.TierNone,
		UpdatedAt: now,
	}
	if m.ScoreHome == nil || m.ScoreAway == nil {
		return entry
	}

	home, away := *m.ScoreHome, *m.ScoreAway
	homeHit := p.PredHome == home
	awayHit := p.PredAway == away

	switch {
	case homeHit && awayHit:
		entry.Tier = domain.TierExact
		entry.Points = rules.Exact
	case outcome(p.PredHome, p.PredAway) == outcome(home, away):
		entry.Tier = domain.TierResult
		entry.Points = rules.Result
	case homeHit || awayHit:
		entry.Tier = domain.TierOneSide
		entry.Points = rules.OneSide
	}

	if m.Stage.Knockout() {
		actual := m.AdvancingTeam()
		if actual != "" && p.AdvancingTeam(m) == actual {
			entry.QualifierBonus = true
			entry.Points += rules.QualifierBonus
		}
	}

	return entry
}

// ScoreMatch computes entries for every prediction against one finished
// match, in input order.
func ScoreMatch(rules Rules, m *domain.Match, preds []domain.Prediction, now time.Time) []domain.ScoreEntry {
	entries := make([]domain.ScoreEntry, 0, len(preds))
	for i := range preds {
		entries = append(entries, Score(rules, m, &preds[i], now))
	}
	return entries
}

// outcome collapses a score to its sign: 1 home win, -1 away win, 0 draw.
func outcome(home, away int) int {
	switch {
	case home > away:
		return 1
	case home < away:
		return -1
	}
	return 0
}
