// Package redis holds the hot snapshot of the ranked leaderboard. The
// snapshot is a pure copy of the aggregator's output: a sorted set ordered by
// the precomputed rank plus one hash per row. It is rebuilt wholesale on every
// refresh and can be discarded at any time; PostgreSQL keeps the durable copy.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/polla-backend/internal/config"
	"github.com/polla-backend/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	standingsKey = "polla:standings"
	metaKey      = "polla:standings:meta"
)

// SnapshotCache provides Redis-based leaderboard snapshot operations
type SnapshotCache struct {
	client *redis.Client
	logger *slog.Logger
}

// NewSnapshotCache creates a new Redis snapshot cache
func NewSnapshotCache(cfg *config.RedisConfig, logger *slog.Logger) (*SnapshotCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &SnapshotCache{
		client: client,
		logger: logger,
	}, nil
}

// Close closes the Redis connection
func (c *SnapshotCache) Close() error {
	return c.client.Close()
}

func rowKey(userID uuid.UUID) string {
	return fmt.Sprintf("polla:row:%s", userID)
}

// StoreSnapshot replaces the cached standings with freshly ranked rows. The
// sorted set is scored by rank, so reads return the aggregator's exact total
// order, tiebreaks included.
func (c *SnapshotCache) StoreSnapshot(ctx context.Context, rows []domain.LeaderboardRow) error {
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, standingsKey)

	for _, row := range rows {
		pipe.ZAdd(ctx, standingsKey, redis.Z{
			Score:  float64(row.Rank),
			Member: row.UserID.String(),
		})
		pipe.HSet(ctx, rowKey(row.UserID),
			"display_name", row.DisplayName,
			"rank", row.Rank,
			"points_total", row.PointsTotal,
			"exact_count", row.ExactCount,
			"result_count", row.ResultCount,
			"one_side_count", row.OneSideCount,
			"qualifier_count", row.QualifierCount,
			"updated_at", row.UpdatedAt.Format(time.RFC3339Nano),
		)
	}

	var refreshedAt string
	if len(rows) > 0 {
		refreshedAt = rows[0].UpdatedAt.Format(time.RFC3339Nano)
	} else {
		refreshedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	pipe.HSet(ctx, metaKey, "refreshed_at", refreshedAt, "row_count", len(rows))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("storing snapshot: %w", err)
	}
	return nil
}

// TopRows returns the first n rows of the cached standings
func (c *SnapshotCache) TopRows(ctx context.Context, n int) ([]domain.LeaderboardRow, error) {
	members, err := c.client.ZRange(ctx, standingsKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading standings: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	pipe := c.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(members))
	for i, member := range members {
		id, err := uuid.Parse(member)
		if err != nil {
			return nil, fmt.Errorf("parsing member %q: %w", member, err)
		}
		cmds[i] = pipe.HGetAll(ctx, rowKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("reading rows: %w", err)
	}

	rows := make([]domain.LeaderboardRow, 0, len(members))
	for i, member := range members {
		fields, err := cmds[i].Result()
		if err != nil || len(fields) == 0 {
			// Row hash missing mid-rebuild; skip rather than fail the read.
			c.logger.Warn("standings row missing from cache", "user_id", member)
			continue
		}
		row, err := rowFromFields(member, fields)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// UserRow returns one user's cached standings row
func (c *SnapshotCache) UserRow(ctx context.Context, userID uuid.UUID) (*domain.LeaderboardRow, error) {
	fields, err := c.client.HGetAll(ctx, rowKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading row: %w", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrProfileNotFound
	}
	row, err := rowFromFields(userID.String(), fields)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Stats returns summary statistics about the cached standings
func (c *SnapshotCache) Stats(ctx context.Context) (*domain.LeaderboardStats, error) {
	count, err := c.client.ZCard(ctx, standingsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("counting standings: %w", err)
	}

	stats := &domain.LeaderboardStats{TotalUsers: count}

	if count > 0 {
		top, err := c.TopRows(ctx, 1)
		if err == nil && len(top) > 0 {
			stats.TopPoints = top[0].PointsTotal
		}
	}

	meta, err := c.client.HGet(ctx, metaKey, "refreshed_at").Result()
	if err == nil {
		if t, perr := time.Parse(time.RFC3339Nano, meta); perr == nil {
			stats.LastRefresh = t
		}
	}

	return stats, nil
}

func rowFromFields(member string, fields map[string]string) (domain.LeaderboardRow, error) {
	id, err := uuid.Parse(member)
	if err != nil {
		return domain.LeaderboardRow{}, fmt.Errorf("parsing user id %q: %w", member, err)
	}

	atoi := func(key string) int {
		v, _ := strconv.Atoi(fields[key])
		return v
	}
	updatedAt, _ := time.Parse(time.RFC3339Nano, fields["updated_at"])

	return domain.LeaderboardRow{
		Rank:           atoi("rank"),
		UserID:         id,
		DisplayName:    fields["display_name"],
		PointsTotal:    atoi("points_total"),
		ExactCount:     atoi("exact_count"),
		ResultCount:    atoi("result_count"),
		OneSideCount:   atoi("one_side_count"),
		QualifierCount: atoi("qualifier_count"),
		UpdatedAt:      updatedAt,
	}, nil
}
