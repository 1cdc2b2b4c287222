package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/polla-backend/internal/domain"
)

// RefreshLeaderboard rebuilds the standings from scratch: every score entry
// is re-read and re-summed, so the result is a function of persisted state
// only and concurrent refreshes converge on the same rows. The snapshot is
// written to the cache table, mirrored to Redis, and pushed to websocket
// clients.
func (s *PoolService) RefreshLeaderboard(ctx context.Context) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	started := time.Now()

	entries, err := s.store.ListScoreEntries(ctx)
	if err != nil {
		return fmt.Errorf("listing score entries: %w", err)
	}
	profiles, err := s.store.ListProfiles(ctx)
	if err != nil {
		return fmt.Errorf("listing profiles: %w", err)
	}

	rows := buildStandings(entries, profiles, time.Now().UTC())

	if err := s.store.ReplaceLeaderboard(ctx, rows); err != nil {
		return fmt.Errorf("replacing leaderboard: %w", err)
	}

	// Redis is best effort: a cold snapshot only costs a table read.
	if s.cache != nil {
		if err := s.cache.StoreSnapshot(ctx, rows); err != nil {
			s.logger.Warn("failed to store leaderboard snapshot", "error", err)
		}
	}

	if s.hub != nil {
		top := rows
		if len(top) > s.limits.DefaultLimit {
			top = top[:s.limits.DefaultLimit]
		}
		s.hub.BroadcastLeaderboard(top)
	}

	s.logger.Info("leaderboard refreshed",
		"rows", len(rows),
		"entries", len(entries),
		"duration", time.Since(started),
	)
	return nil
}

// GetLeaderboard returns the ranked standings, preferring the Redis snapshot
// and falling back to the cache table.
func (s *PoolService) GetLeaderboard(ctx context.Context, limit int) ([]domain.LeaderboardRow, error) {
	if limit <= 0 {
		limit = s.limits.DefaultLimit
	}
	if limit > s.limits.MaxLimit {
		limit = s.limits.MaxLimit
	}

	if s.cache != nil {
		rows, err := s.cache.TopRows(ctx, limit)
		if err == nil && len(rows) > 0 {
			return rows, nil
		}
		if err != nil {
			s.logger.Warn("leaderboard snapshot read failed, falling back to table", "error", err)
		}
	}
	return s.store.GetLeaderboardRows(ctx, limit)
}

// GetUserStanding returns one user's row in the standings
func (s *PoolService) GetUserStanding(ctx context.Context, userID uuid.UUID) (*domain.LeaderboardRow, error) {
	if s.cache != nil {
		row, err := s.cache.UserRow(ctx, userID)
		if err == nil {
			return row, nil
		}
	}
	return s.store.GetLeaderboardRow(ctx, userID)
}

// GetStats returns summary statistics about the standings
func (s *PoolService) GetStats(ctx context.Context) (*domain.LeaderboardStats, error) {
	if s.cache != nil {
		if stats, err := s.cache.Stats(ctx); err == nil {
			return stats, nil
		}
	}
	rows, err := s.store.GetLeaderboardRows(ctx, s.limits.MaxLimit)
	if err != nil {
		return nil, err
	}
	stats := &domain.LeaderboardStats{TotalUsers: int64(len(rows))}
	if len(rows) > 0 {
		stats.TopPoints = rows[0].PointsTotal
		stats.LastRefresh = rows[0].UpdatedAt
	}
	return stats, nil
}

// buildStandings sums score entries per user and produces the ranked rows.
// Total order: points desc, exact count desc, display name asc, user id asc
// as the final guard so identical inputs always rank identically.
func buildStandings(entries []domain.ScoreEntry, profiles []domain.Profile, refreshedAt time.Time) []domain.LeaderboardRow {
	names := make(map[uuid.UUID]string, len(profiles))
	for _, p := range profiles {
		names[p.ID] = p.DisplayName
	}

	totals := make(map[uuid.UUID]*domain.LeaderboardRow)
	for _, e := range entries {
		row, ok := totals[e.UserID]
		if !ok {
			row = &domain.LeaderboardRow{
				UserID:      e.UserID,
				DisplayName: names[e.UserID],
				UpdatedAt:   refreshedAt,
			}
			totals[e.UserID] = row
		}
		row.PointsTotal += e.Points
		switch e.Tier {
		case domain.TierExact:
			row.ExactCount++
		case domain.TierResult:
			row.ResultCount++
		case domain.TierOneSide:
			row.OneSideCount++
		}
		if e.QualifierBonus {
			row.QualifierCount++
		}
	}

	rows := make([]domain.LeaderboardRow, 0, len(totals))
	for _, row := range totals {
		rows = append(rows, *row)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].PointsTotal != rows[j].PointsTotal {
			return rows[i].PointsTotal > rows[j].PointsTotal
		}
		if rows[i].ExactCount != rows[j].ExactCount {
			return rows[i].ExactCount > rows[j].ExactCount
		}
		if c := strings.Compare(rows[i].DisplayName, rows[j].DisplayName); c != 0 {
			return c < 0
		}
		return rows[i].UserID.String() < rows[j].UserID.String()
	})

	for i := range rows {
		rows[i].Rank = i + 1
	}
	return rows
}
