// Package service implements the pool's business rules: prediction intake,
// the admin-gated finalize pipeline, and the leaderboard rebuild.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/polla-backend/internal/config"
	"github.com/polla-backend/internal/domain"
	"github.com/polla-backend/internal/scoring"
)

// Store is the persistence surface the service needs. *postgres.Repository
// implements it.
type Store interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (*domain.Profile, error)
	EnsureProfile(ctx context.Context, userID uuid.UUID) error
	ListProfiles(ctx context.Context) ([]domain.Profile, error)
	SetProfileRole(ctx context.Context, userID uuid.UUID, role domain.Role) error
	SetDisplayName(ctx context.Context, userID uuid.UUID, name string) error

	GetMatch(ctx context.Context, matchID int64) (*domain.Match, error)
	ListMatchesByStage(ctx context.Context, stage domain.Stage) ([]domain.Match, error)
	ListStages(ctx context.Context) ([]domain.Stage, error)
	FinalizeMatch(ctx context.Context, matchID int64, scoreHome, scoreAway int, winnerTeam *string) (*domain.Match, error)

	UpsertPrediction(ctx context.Context, p domain.Prediction) (*domain.Prediction, error)
	ListPredictionsForMatch(ctx context.Context, matchID int64) ([]domain.Prediction, error)
	ListPredictionsForUser(ctx context.Context, userID uuid.UUID) ([]domain.Prediction, error)

	ReplaceScoreEntries(ctx context.Context, matchID int64, entries []domain.ScoreEntry) error
	ListScoreEntries(ctx context.Context) ([]domain.ScoreEntry, error)
	ReplaceLeaderboard(ctx context.Context, rows []domain.LeaderboardRow) error
	GetLeaderboardRows(ctx context.Context, limit int) ([]domain.LeaderboardRow, error)
	GetLeaderboardRow(ctx context.Context, userID uuid.UUID) (*domain.LeaderboardRow, error)
}

// SnapshotCache is the hot leaderboard snapshot. *redis.SnapshotCache
// implements it.
type SnapshotCache interface {
	StoreSnapshot(ctx context.Context, rows []domain.LeaderboardRow) error
	TopRows(ctx context.Context, n int) ([]domain.LeaderboardRow, error)
	UserRow(ctx context.Context, userID uuid.UUID) (*domain.LeaderboardRow, error)
	Stats(ctx context.Context) (*domain.LeaderboardStats, error)
}

// Broadcaster pushes fresh standings to connected clients
type Broadcaster interface {
	BroadcastLeaderboard(rows []domain.LeaderboardRow)
}

// PoolService provides the prediction pool's business logic
type PoolService struct {
	store  Store
	cache  SnapshotCache
	rules  scoring.Rules
	limits *config.LeaderboardConfig
	logger *slog.Logger

	hub Broadcaster

	// Serializes local leaderboard rebuilds. Concurrent rebuilds would
	// still converge (each is a pure function of persisted state), this
	// just avoids wasted work.
	refreshMu sync.Mutex
}

// NewPoolService creates a new pool service
func NewPoolService(
	store Store,
	cache SnapshotCache,
	scoringCfg *config.ScoringConfig,
	limits *config.LeaderboardConfig,
	logger *slog.Logger,
) *PoolService {
	return &PoolService{
		store: store,
		cache: cache,
		rules: scoring.Rules{
			Exact:          scoringCfg.Exact,
			Result:         scoringCfg.Result,
			OneSide:        scoringCfg.OneSide,
			QualifierBonus: scoringCfg.QualifierBonus,
		},
		limits: limits,
		logger: logger,
	}
}

// SetHub sets the broadcaster used to push standings after a refresh
func (s *PoolService) SetHub(hub Broadcaster) {
	s.hub = hub
}

// SubmitPrediction creates or updates the caller's prediction for a match.
// Fails with domain.ErrMatchLocked once the match is finished.
func (s *PoolService) SubmitPrediction(ctx context.Context, sub domain.PredictionSubmission) (*domain.Prediction, error) {
	if sub.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	if sub.PredHome < 0 || sub.PredAway < 0 {
		return nil, fmt.Errorf("%w: predicted goals must not be negative", domain.ErrValidation)
	}

	var predWinner *string
	if sub.PredWinner != "" {
		m, err := s.store.GetMatch(ctx, sub.MatchID)
		if err != nil {
			return nil, err
		}
		if sub.PredWinner != m.TeamHome && sub.PredWinner != m.TeamAway {
			return nil, fmt.Errorf("%w: %q is not playing this match", domain.ErrValidation, sub.PredWinner)
		}
		predWinner = &sub.PredWinner
	}

	// First contact with an identity-provider user may be a prediction, not a
	// profile write. Provision the default profile so the FK holds.
	if err := s.store.EnsureProfile(ctx, sub.UserID); err != nil {
		return nil, err
	}

	return s.store.UpsertPrediction(ctx, domain.Prediction{
		UserID:     sub.UserID,
		MatchID:    sub.MatchID,
		PredHome:   sub.PredHome,
		PredAway:   sub.PredAway,
		PredWinner: predWinner,
	})
}

// SubmitPredictionBatch submits multiple predictions, continuing past
// individual failures. Used by the Kafka ingestion path.
func (s *PoolService) SubmitPredictionBatch(ctx context.Context, batch domain.BatchPredictionSubmission) error {
	for _, sub := range batch.Predictions {
		if _, err := s.SubmitPrediction(ctx, sub); err != nil {
			s.logger.Warn("failed to submit prediction in batch",
				"user_id", sub.UserID,
				"match_id", sub.MatchID,
				"error", err,
			)
		}
	}
	return nil
}

// Display names allow letters (including Spanish accents) and spaces only.
var displayNamePattern = regexp.MustCompile(`^[A-Za-zÁÉÍÓÚÜÑáéíóúüñ ]+$`)

// UpdateDisplayName changes the caller's own display name. The stored name
// shows up on the leaderboard at the next rebuild.
func (s *PoolService) UpdateDisplayName(ctx context.Context, userID uuid.UUID, name string) error {
	if userID == uuid.Nil {
		return fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}

	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) < 2 {
		return fmt.Errorf("%w: display name needs at least 2 letters", domain.ErrValidation)
	}
	if utf8.RuneCountInString(name) > 30 {
		return fmt.Errorf("%w: display name is limited to 30 characters", domain.ErrValidation)
	}
	if !displayNamePattern.MatchString(name) {
		return fmt.Errorf("%w: display name allows letters and spaces only", domain.ErrValidation)
	}

	if err := s.store.EnsureProfile(ctx, userID); err != nil {
		return err
	}
	if err := s.store.SetDisplayName(ctx, userID, name); err != nil {
		return err
	}
	s.logger.Info("display name changed", "user_id", userID)
	return nil
}

// ListPredictionsForUser returns a user's predictions across all matches
func (s *PoolService) ListPredictionsForUser(ctx context.Context, userID uuid.UUID) ([]domain.Prediction, error) {
	return s.store.ListPredictionsForUser(ctx, userID)
}

// ListMatchesByStage returns a stage's matches, kickoff ascending
func (s *PoolService) ListMatchesByStage(ctx context.Context, stage domain.Stage) ([]domain.Match, error) {
	return s.store.ListMatchesByStage(ctx, stage)
}

// ListStages returns the stages present in the fixture list
func (s *PoolService) ListStages(ctx context.Context) ([]domain.Stage, error) {
	return s.store.ListStages(ctx)
}

// AdminFinalizeMatch records a match's official result and runs the scoring
// and leaderboard pipeline. Only admins may call it. If scoring or the
// refresh fails after the result is saved, the result stands and the failure
// is reported as a warning on the returned value: the official score is
// authoritative, the leaderboard is a cache that can lag.
func (s *PoolService) AdminFinalizeMatch(ctx context.Context, callerID uuid.UUID, matchID int64, scoreHome, scoreAway *int, winnerTeam string) (*domain.FinalizeResult, error) {
	if err := s.requireAdmin(ctx, callerID); err != nil {
		return nil, err
	}

	if scoreHome == nil || scoreAway == nil {
		return nil, fmt.Errorf("%w: both goal counts are required", domain.ErrValidation)
	}
	if *scoreHome < 0 || *scoreAway < 0 {
		return nil, fmt.Errorf("%w: goal counts must not be negative", domain.ErrValidation)
	}

	m, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if winnerTeam != "" && winnerTeam != m.TeamHome && winnerTeam != m.TeamAway {
		return nil, fmt.Errorf("%w: winner %q is not playing this match", domain.ErrValidation, winnerTeam)
	}

	// A decided score needs no winner annotation; drop any that was sent.
	if *scoreHome != *scoreAway {
		winnerTeam = ""
	}

	// Tied knockout result without a winner: advisory only. The result is
	// saved, but no qualifier bonus can be awarded until a winner is set.
	if *scoreHome == *scoreAway && m.Stage.Knockout() && winnerTeam == "" {
		s.logger.Warn("tied knockout match finalized without winner_team",
			"match_id", matchID,
			"stage", m.Stage,
		)
	}

	var winner *string
	if winnerTeam != "" {
		winner = &winnerTeam
	}

	updated, err := s.store.FinalizeMatch(ctx, matchID, *scoreHome, *scoreAway, winner)
	if err != nil {
		return nil, err
	}

	result := &domain.FinalizeResult{Match: updated}

	// From here on the match is finalized; failures downgrade to a warning.
	if err := s.rescoreMatch(ctx, updated); err != nil {
		s.logger.Error("rescore after finalize failed", "match_id", matchID, "error", err)
		result.Warning = fmt.Sprintf("%v: %v", domain.ErrAggregationFailed, err)
		return result, nil
	}
	if err := s.RefreshLeaderboard(ctx); err != nil {
		s.logger.Error("leaderboard refresh after finalize failed", "match_id", matchID, "error", err)
		result.Warning = fmt.Sprintf("%v: %v", domain.ErrAggregationFailed, err)
	}
	return result, nil
}

// rescoreMatch recomputes and overwrites every score entry for one finished
// match. Idempotent: same result and predictions produce the same entries.
func (s *PoolService) rescoreMatch(ctx context.Context, m *domain.Match) error {
	preds, err := s.store.ListPredictionsForMatch(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("listing predictions: %w", err)
	}
	entries := scoring.ScoreMatch(s.rules, m, preds, m.UpdatedAt)
	if err := s.store.ReplaceScoreEntries(ctx, m.ID, entries); err != nil {
		return fmt.Errorf("replacing score entries: %w", err)
	}
	s.logger.Info("match rescored", "match_id", m.ID, "predictions", len(preds))
	return nil
}

// AdminRefreshLeaderboard forces a leaderboard rebuild. Only admins may
// call it; the rebuild itself is idempotent.
func (s *PoolService) AdminRefreshLeaderboard(ctx context.Context, callerID uuid.UUID) error {
	if err := s.requireAdmin(ctx, callerID); err != nil {
		return err
	}
	return s.RefreshLeaderboard(ctx)
}

// AdminSetRole changes a user's role. Only admins may call it.
func (s *PoolService) AdminSetRole(ctx context.Context, callerID, userID uuid.UUID, role domain.Role) error {
	if err := s.requireAdmin(ctx, callerID); err != nil {
		return err
	}
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %q", domain.ErrValidation, role)
	}
	if err := s.store.SetProfileRole(ctx, userID, role); err != nil {
		return err
	}
	s.logger.Info("role changed", "user_id", userID, "role", role, "changed_by", callerID)
	return nil
}

// requireAdmin resolves the caller's role from the profiles table. Token
// claims are not trusted for gated mutations; the stored profile decides.
func (s *PoolService) requireAdmin(ctx context.Context, callerID uuid.UUID) error {
	prof, err := s.store.GetProfile(ctx, callerID)
	if err != nil {
		if errors.Is(err, domain.ErrProfileNotFound) {
			return domain.ErrPermissionDenied
		}
		return fmt.Errorf("resolving caller profile: %w", err)
	}
	if prof.Role != domain.RoleAdmin {
		return domain.ErrPermissionDenied
	}
	return nil
}
