package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/polla-backend/internal/domain"
)

const matchColumns = `id, stage, match_number, team_home, team_away, kickoff_time,
	status, score_home, score_away, winner_team, updated_at`

func scanMatch(row pgx.Row) (*domain.Match, error) {
	var m domain.Match
	err := row.Scan(
		&m.ID,
		&m.Stage,
		&m.MatchNumber,
		&m.TeamHome,
		&m.TeamAway,
		&m.KickoffTime,
		&m.Status,
		&m.ScoreHome,
		&m.ScoreAway,
		&m.WinnerTeam,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMatch retrieves a match by ID
func (r *Repository) GetMatch(ctx context.Context, matchID int64) (*domain.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE id = $1`
	m, err := scanMatch(r.pool.QueryRow(ctx, query, matchID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrMatchNotFound
		}
		return nil, fmt.Errorf("getting match: %w", err)
	}
	return m, nil
}

// ListMatchesByStage retrieves all matches of a stage, kickoff ascending
func (r *Repository) ListMatchesByStage(ctx context.Context, stage domain.Stage) ([]domain.Match, error) {
	query := `
		SELECT ` + matchColumns + `
		FROM matches
		WHERE stage = $1
		ORDER BY kickoff_time ASC, match_number ASC
	`
	rows, err := r.pool.Query(ctx, query, string(stage))
	if err != nil {
		return nil, fmt.Errorf("listing matches: %w", err)
	}
	defer rows.Close()

	var matches []domain.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		matches = append(matches, *m)
	}
	return matches, rows.Err()
}

// ListStages retrieves the distinct stages present in the fixture list,
// in tournament progression order.
func (r *Repository) ListStages(ctx context.Context) ([]domain.Stage, error) {
	query := `SELECT DISTINCT stage FROM matches`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing stages: %w", err)
	}
	defer rows.Close()

	var stages []domain.Stage
	for rows.Next() {
		var s domain.Stage
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scanning stage: %w", err)
		}
		stages = append(stages, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Progression order, not alphabetical.
	for i := 1; i < len(stages); i++ {
		for j := i; j > 0 && stages[j].Order() < stages[j-1].Order(); j-- {
			stages[j], stages[j-1] = stages[j-1], stages[j]
		}
	}
	return stages, nil
}

// FinalizeMatch records the official result and flips the match to finished.
// Calling it again on an already finished match overwrites the result; the
// caller is expected to rescore afterwards.
func (r *Repository) FinalizeMatch(ctx context.Context, matchID int64, scoreHome, scoreAway int, winnerTeam *string) (*domain.Match, error) {
	query := `
		UPDATE matches
		SET score_home = $2, score_away = $3, winner_team = $4,
			status = 'finished', updated_at = $5
		WHERE id = $1
		RETURNING ` + matchColumns
	m, err := scanMatch(r.pool.QueryRow(ctx, query, matchID, scoreHome, scoreAway, winnerTeam, now()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrMatchNotFound
		}
		return nil, fmt.Errorf("finalizing match: %w", err)
	}
	return m, nil
}
