package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/polla-backend/internal/config"
	"github.com/polla-backend/internal/domain"
)

// Repository provides PostgreSQL-based data access. PostgreSQL is the source
// of truth for matches, predictions and profiles; score entries and the
// leaderboard cache table are derived and rebuilt wholesale.
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS profiles (
			id UUID PRIMARY KEY,
			display_name VARCHAR(64) NOT NULL DEFAULT 'Jugador',
			role VARCHAR(16) NOT NULL DEFAULT 'player',
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS matches (
			id BIGSERIAL PRIMARY KEY,
			stage VARCHAR(32) NOT NULL,
			match_number INT NOT NULL,
			team_home VARCHAR(64) NOT NULL,
			team_away VARCHAR(64) NOT NULL,
			kickoff_time TIMESTAMPTZ NOT NULL,
			status VARCHAR(16) NOT NULL DEFAULT 'scheduled',
			score_home INT,
			score_away INT,
			winner_team VARCHAR(64),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(stage, match_number)
		)`,
		`CREATE TABLE IF NOT EXISTS predictions (
			user_id UUID NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
			match_id BIGINT NOT NULL REFERENCES matches(id) ON DELETE CASCADE,
			pred_home INT NOT NULL,
			pred_away INT NOT NULL,
			pred_winner VARCHAR(64),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, match_id)
		)`,
		`CREATE TABLE IF NOT EXISTS score_entries (
			user_id UUID NOT NULL,
			match_id BIGINT NOT NULL,
			points INT NOT NULL,
			tier VARCHAR(16) NOT NULL,
			qualifier_bonus BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, match_id)
		)`,
		`CREATE TABLE IF NOT EXISTS leaderboard_cache (
			user_id UUID PRIMARY KEY,
			display_name VARCHAR(64) NOT NULL,
			rank INT NOT NULL,
			points_total INT NOT NULL,
			exact_count INT NOT NULL,
			result_count INT NOT NULL,
			one_side_count INT NOT NULL,
			qualifier_count INT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_matches_stage_kickoff ON matches(stage, kickoff_time)`,
		`CREATE INDEX IF NOT EXISTS idx_predictions_match ON predictions(match_id)`,
		`CREATE INDEX IF NOT EXISTS idx_score_entries_match ON score_entries(match_id)`,
		`CREATE INDEX IF NOT EXISTS idx_leaderboard_cache_rank ON leaderboard_cache(rank)`,
	}

	for _, migration := range migrations {
		if _, err := r.pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// GetProfile retrieves a profile by user ID
func (r *Repository) GetProfile(ctx context.Context, userID uuid.UUID) (*domain.Profile, error) {
	query := `
		SELECT id, display_name, role, created_at
		FROM profiles
		WHERE id = $1
	`
	var p domain.Profile
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&p.ID,
		&p.DisplayName,
		&p.Role,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrProfileNotFound
		}
		return nil, fmt.Errorf("getting profile: %w", err)
	}
	return &p, nil
}

// EnsureProfile provisions a minimal profile for a user id if none exists
// yet. Identity comes from the external provider, so the first prediction a
// user submits may arrive before any profile row does.
func (r *Repository) EnsureProfile(ctx context.Context, userID uuid.UUID) error {
	query := `
		INSERT INTO profiles (id, display_name)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := r.pool.Exec(ctx, query, userID, domain.DefaultDisplayName); err != nil {
		return fmt.Errorf("ensuring profile: %w", err)
	}
	return nil
}

// ListProfiles retrieves all profiles
func (r *Repository) ListProfiles(ctx context.Context) ([]domain.Profile, error) {
	query := `SELECT id, display_name, role, created_at FROM profiles`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing profiles: %w", err)
	}
	defer rows.Close()

	var profiles []domain.Profile
	for rows.Next() {
		var p domain.Profile
		if err := rows.Scan(&p.ID, &p.DisplayName, &p.Role, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// SetProfileRole updates a user's role
func (r *Repository) SetProfileRole(ctx context.Context, userID uuid.UUID, role domain.Role) error {
	query := `UPDATE profiles SET role = $2 WHERE id = $1`
	result, err := r.pool.Exec(ctx, query, userID, string(role))
	if err != nil {
		return fmt.Errorf("setting profile role: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrProfileNotFound
	}
	return nil
}

// SetDisplayName updates a user's display name
func (r *Repository) SetDisplayName(ctx context.Context, userID uuid.UUID, name string) error {
	query := `UPDATE profiles SET display_name = $2 WHERE id = $1`
	result, err := r.pool.Exec(ctx, query, userID, name)
	if err != nil {
		return fmt.Errorf("setting display name: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrProfileNotFound
	}
	return nil
}

// now is split out so timestamps within one write batch agree.
func now() time.Time {
	return time.Now().UTC()
}
