package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/polla-backend/internal/domain"
)

// ReplaceScoreEntries atomically swaps all score entries for one match.
// Overwrite semantics: a corrected result replaces the previous entries
// wholesale, so nothing is ever double-counted.
func (r *Repository) ReplaceScoreEntries(ctx context.Context, matchID int64, entries []domain.ScoreEntry) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM score_entries WHERE match_id = $1`, matchID); err != nil {
		return fmt.Errorf("clearing score entries: %w", err)
	}

	if len(entries) > 0 {
		batch := &pgx.Batch{}
		query := `
			INSERT INTO score_entries (user_id, match_id, points, tier, qualifier_bonus, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`
		for _, e := range entries {
			batch.Queue(query, e.UserID, e.MatchID, e.Points, string(e.Tier), e.QualifierBonus, e.UpdatedAt)
		}

		br := tx.SendBatch(ctx, batch)
		for range entries {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("inserting score entries: %w", err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("closing batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing score entries: %w", err)
	}
	return nil
}

// ListScoreEntries retrieves every score entry across all matches
func (r *Repository) ListScoreEntries(ctx context.Context) ([]domain.ScoreEntry, error) {
	query := `
		SELECT user_id, match_id, points, tier, qualifier_bonus, updated_at
		FROM score_entries
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing score entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.ScoreEntry
	for rows.Next() {
		var e domain.ScoreEntry
		err := rows.Scan(&e.UserID, &e.MatchID, &e.Points, &e.Tier, &e.QualifierBonus, &e.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning score entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ReplaceLeaderboard atomically swaps the materialized leaderboard table
// with freshly ranked rows. The whole snapshot is replaced in one
// transaction, so concurrent refreshes converge on the last writer.
func (r *Repository) ReplaceLeaderboard(ctx context.Context, rowsIn []domain.LeaderboardRow) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM leaderboard_cache`); err != nil {
		return fmt.Errorf("clearing leaderboard cache: %w", err)
	}

	if len(rowsIn) > 0 {
		batch := &pgx.Batch{}
		query := `
			INSERT INTO leaderboard_cache
				(user_id, display_name, rank, points_total, exact_count,
				 result_count, one_side_count, qualifier_count, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`
		for _, row := range rowsIn {
			batch.Queue(query,
				row.UserID,
				row.DisplayName,
				row.Rank,
				row.PointsTotal,
				row.ExactCount,
				row.ResultCount,
				row.OneSideCount,
				row.QualifierCount,
				row.UpdatedAt,
			)
		}

		br := tx.SendBatch(ctx, batch)
		for range rowsIn {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("inserting leaderboard rows: %w", err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("closing batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing leaderboard: %w", err)
	}
	return nil
}

// GetLeaderboardRow retrieves one user's cached standings row from the table
func (r *Repository) GetLeaderboardRow(ctx context.Context, userID uuid.UUID) (*domain.LeaderboardRow, error) {
	query := `
		SELECT user_id, display_name, rank, points_total, exact_count,
			result_count, one_side_count, qualifier_count, updated_at
		FROM leaderboard_cache
		WHERE user_id = $1
	`
	var row domain.LeaderboardRow
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&row.UserID,
		&row.DisplayName,
		&row.Rank,
		&row.PointsTotal,
		&row.ExactCount,
		&row.ResultCount,
		&row.OneSideCount,
		&row.QualifierCount,
		&row.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrProfileNotFound
		}
		return nil, fmt.Errorf("getting leaderboard row: %w", err)
	}
	return &row, nil
}

// GetLeaderboardRows retrieves the cached standings from the table, rank
// ascending. Used as the fallback path when the Redis snapshot is cold.
func (r *Repository) GetLeaderboardRows(ctx context.Context, limit int) ([]domain.LeaderboardRow, error) {
	query := `
		SELECT user_id, display_name, rank, points_total, exact_count,
			result_count, one_side_count, qualifier_count, updated_at
		FROM leaderboard_cache
		ORDER BY rank ASC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("getting leaderboard rows: %w", err)
	}
	defer rows.Close()

	var result []domain.LeaderboardRow
	for rows.Next() {
		var row domain.LeaderboardRow
		err := rows.Scan(
			&row.UserID,
			&row.DisplayName,
			&row.Rank,
			&row.PointsTotal,
			&row.ExactCount,
			&row.ResultCount,
			&row.OneSideCount,
			&row.QualifierCount,
			&row.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning leaderboard row: %w", err)
		}
		result = append(result, row)
	}
	return result, rows.Err()
}
