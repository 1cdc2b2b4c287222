package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/polla-backend/internal/domain"
)

// UpsertPrediction inserts or replaces a user's prediction in a single
// conditional write: the statement only touches the row while the target
// match is still scheduled, so a concurrent finalize cannot race a late
// prediction past the lock.
func (r *Repository) UpsertPrediction(ctx context.Context, p domain.Prediction) (*domain.Prediction, error) {
	query := `
		INSERT INTO predictions (user_id, match_id, pred_home, pred_away, pred_winner, updated_at)
		SELECT $1, m.id, $3, $4, $5, $6
		FROM matches m
		WHERE m.id = $2 AND m.status = 'scheduled'
		ON CONFLICT (user_id, match_id)
		DO UPDATE SET pred_home = $3, pred_away = $4, pred_winner = $5, updated_at = $6
		RETURNING user_id, match_id, pred_home, pred_away, pred_winner, updated_at
	`
	var stored domain.Prediction
	err := r.pool.QueryRow(ctx, query,
		p.UserID,
		p.MatchID,
		p.PredHome,
		p.PredAway,
		p.PredWinner,
		now(),
	).Scan(
		&stored.UserID,
		&stored.MatchID,
		&stored.PredHome,
		&stored.PredAway,
		&stored.PredWinner,
		&stored.UpdatedAt,
	)
	if err == nil {
		return &stored, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("upserting prediction: %w", err)
	}

	// No row written: the match is either missing or already finished.
	var status domain.MatchStatus
	err = r.pool.QueryRow(ctx, `SELECT status FROM matches WHERE id = $1`, p.MatchID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrMatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("checking match status: %w", err)
	}
	return nil, domain.ErrMatchLocked
}

// ListPredictionsForMatch retrieves every prediction against one match
func (r *Repository) ListPredictionsForMatch(ctx context.Context, matchID int64) ([]domain.Prediction, error) {
	query := `
		SELECT user_id, match_id, pred_home, pred_away, pred_winner, updated_at
		FROM predictions
		WHERE match_id = $1
		ORDER BY user_id
	`
	return r.listPredictions(ctx, query, matchID)
}

// ListPredictionsForUser retrieves a user's predictions across all matches
func (r *Repository) ListPredictionsForUser(ctx context.Context, userID uuid.UUID) ([]domain.Prediction, error) {
	query := `
		SELECT user_id, match_id, pred_home, pred_away, pred_winner, updated_at
		FROM predictions
		WHERE user_id = $1
		ORDER BY match_id
	`
	return r.listPredictions(ctx, query, userID)
}

func (r *Repository) listPredictions(ctx context.Context, query string, arg any) ([]domain.Prediction, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("listing predictions: %w", err)
	}
	defer rows.Close()

	var preds []domain.Prediction
	for rows.Next() {
		var p domain.Prediction
		err := rows.Scan(&p.UserID, &p.MatchID, &p.PredHome, &p.PredAway, &p.PredWinner, &p.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning prediction: %w", err)
		}
		preds = append(preds, p)
	}
	return preds, rows.Err()
}
