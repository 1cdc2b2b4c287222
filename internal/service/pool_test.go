package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/polla-backend/internal/config"
	"github.com/polla-backend/internal/domain"
)

type predKey struct {
	userID  uuid.UUID
	matchID int64
}

// fakeStore is an in-memory Store mirroring the repository's semantics.
type fakeStore struct {
	profiles    map[uuid.UUID]*domain.Profile
	matches     map[int64]*domain.Match
	predictions map[predKey]domain.Prediction
	entries     map[predKey]domain.ScoreEntry
	board       []domain.LeaderboardRow

	failReplaceScores error
	failReplaceBoard  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		profiles:    make(map[uuid.UUID]*domain.Profile),
		matches:     make(map[int64]*domain.Match),
		predictions: make(map[predKey]domain.Prediction),
		entries:     make(map[predKey]domain.ScoreEntry),
	}
}

func (f *fakeStore) GetProfile(_ context.Context, id uuid.UUID) (*domain.Profile, error) {
	p, ok := f.profiles[id]
	if !ok {
		return nil, domain.ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) EnsureProfile(_ context.Context, id uuid.UUID) error {
	if _, ok := f.profiles[id]; !ok {
		f.profiles[id] = &domain.Profile{ID: id, DisplayName: domain.DefaultDisplayName, Role: domain.RolePlayer}
	}
	return nil
}

func (f *fakeStore) ListProfiles(context.Context) ([]domain.Profile, error) {
	var out []domain.Profile
	for _, p := range f.profiles {
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakeStore) SetProfileRole(_ context.Context, id uuid.UUID, role domain.Role) error {
	p, ok := f.profiles[id]
	if !ok {
		return domain.ErrProfileNotFound
	}
	p.Role = role
	return nil
}

func (f *fakeStore) SetDisplayName(_ context.Context, id uuid.UUID, name string) error {
	p, ok := f.profiles[id]
	if !ok {
		return domain.ErrProfileNotFound
	}
	p.DisplayName = name
	return nil
}

func (f *fakeStore) GetMatch(_ context.Context, id int64) (*domain.Match, error) {
	m, ok := f.matches[id]
	if !ok {
		return nil, domain.ErrMatchNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeStore) ListMatchesByStage(_ context.Context, stage domain.Stage) ([]domain.Match, error) {
	var out []domain.Match
	for _, m := range f.matches {
		if m.Stage == stage {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *fakeStore) ListStages(context.Context) ([]domain.Stage, error) {
	seen := make(map[domain.Stage]bool)
	var out []domain.Stage
	for _, m := range f.matches {
		if !seen[m.Stage] {
			seen[m.Stage] = true
			out = append(out, m.Stage)
		}
	}
	return out, nil
}

func (f *fakeStore) FinalizeMatch(_ context.Context, id int64, home, away int, winner *string) (*domain.Match, error) {
	m, ok := f.matches[id]
	if !ok {
		return nil, domain.ErrMatchNotFound
	}
	m.ScoreHome = &home
	m.ScoreAway = &away
	m.WinnerTeam = winner
	m.Status = domain.MatchStatusFinished
	m.UpdatedAt = time.Now().UTC()
	cp := *m
	return &cp, nil
}

func (f *fakeStore) UpsertPrediction(_ context.Context, p domain.Prediction) (*domain.Prediction, error) {
	m, ok := f.matches[p.MatchID]
	if !ok {
		return nil, domain.ErrMatchNotFound
	}
	if m.Finished() {
		return nil, domain.ErrMatchLocked
	}
	p.UpdatedAt = time.Now().UTC()
	f.predictions[predKey{p.UserID, p.MatchID}] = p
	return &p, nil
}

func (f *fakeStore) ListPredictionsForMatch(_ context.Context, matchID int64) ([]domain.Prediction, error) {
	var out []domain.Prediction
	for k, p := range f.predictions {
		if k.matchID == matchID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) ListPredictionsForUser(_ context.Context, userID uuid.UUID) ([]domain.Prediction, error) {
	var out []domain.Prediction
	for k, p := range f.predictions {
		if k.userID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) ReplaceScoreEntries(_ context.Context, matchID int64, entries []domain.ScoreEntry) error {
	if f.failReplaceScores != nil {
		return f.failReplaceScores
	}
	for k := range f.entries {
		if k.matchID == matchID {
			delete(f.entries, k)
		}
	}
	for _, e := range entries {
		f.entries[predKey{e.UserID, e.MatchID}] = e
	}
	return nil
}

func (f *fakeStore) ListScoreEntries(context.Context) ([]domain.ScoreEntry, error) {
	var out []domain.ScoreEntry
	for _, e := range f.entries {
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeStore) ReplaceLeaderboard(_ context.Context, rows []domain.LeaderboardRow) error {
	if f.failReplaceBoard != nil {
		return f.failReplaceBoard
	}
	f.board = append([]domain.LeaderboardRow(nil), rows...)
	return nil
}

func (f *fakeStore) GetLeaderboardRows(_ context.Context, limit int) ([]domain.LeaderboardRow, error) {
	if limit > len(f.board) {
		limit = len(f.board)
	}
	return append([]domain.LeaderboardRow(nil), f.board[:limit]...), nil
}

func (f *fakeStore) GetLeaderboardRow(_ context.Context, id uuid.UUID) (*domain.LeaderboardRow, error) {
	for i := range f.board {
		if f.board[i].UserID == id {
			cp := f.board[i]
			return &cp, nil
		}
	}
	return nil, domain.ErrProfileNotFound
}

type captureHub struct {
	rows []domain.LeaderboardRow
}

func (h *captureHub) BroadcastLeaderboard(rows []domain.LeaderboardRow) {
	h.rows = append([]domain.LeaderboardRow(nil), rows...)
}

func newTestService(store *fakeStore) *PoolService {
	cfg := config.DefaultConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPoolService(store, nil, &cfg.Scoring, &cfg.Leaderboard, logger)
}

func addProfile(store *fakeStore, name string, role domain.Role) uuid.UUID {
	id := uuid.New()
	store.profiles[id] = &domain.Profile{ID: id, DisplayName: name, Role: role}
	return id
}

func addMatch(store *fakeStore, id int64, stage domain.Stage, home, away string) {
	store.matches[id] = &domain.Match{
		ID:          id,
		Stage:       stage,
		TeamHome:    home,
		TeamAway:    away,
		KickoffTime: time.Now().Add(24 * time.Hour),
		Status:      domain.MatchStatusScheduled,
	}
}

func intPtr(v int) *int { return &v }

func TestSubmitPrediction_UpsertOverwrites(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	user := addProfile(store, "Ana", domain.RolePlayer)
	addMatch(store, 1, domain.StageGroups, "A", "B")

	ctx := context.Background()
	if _, err := svc.SubmitPrediction(ctx, domain.PredictionSubmission{UserID: user, MatchID: 1, PredHome: 1, PredAway: 0}); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	p, err := svc.SubmitPrediction(ctx, domain.PredictionSubmission{UserID: user, MatchID: 1, PredHome: 2, PredAway: 2})
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}

	if p.PredHome != 2 || p.PredAway != 2 {
		t.Errorf("stored prediction = %d-%d, want 2-2", p.PredHome, p.PredAway)
	}
	if got := len(store.predictions); got != 1 {
		t.Errorf("prediction count = %d, want 1 (one per user/match pair)", got)
	}
}

func TestSubmitPrediction_ProvisionsProfile(t *testing.T) {
	// Identity comes from the external provider, so the first thing the
	// service hears from a user may be a prediction. A default profile is
	// created so the prediction's profile reference holds.
	store := newFakeStore()
	svc := newTestService(store)
	addMatch(store, 1, domain.StageGroups, "A", "B")
	user := uuid.New()

	_, err := svc.SubmitPrediction(context.Background(), domain.PredictionSubmission{UserID: user, MatchID: 1, PredHome: 1, PredAway: 0})
	if err != nil {
		t.Fatalf("submit from unknown user: %v", err)
	}

	p, ok := store.profiles[user]
	if !ok {
		t.Fatal("no profile provisioned for first-time user")
	}
	if p.DisplayName != domain.DefaultDisplayName {
		t.Errorf("DisplayName = %q, want %q", p.DisplayName, domain.DefaultDisplayName)
	}
	if p.Role != domain.RolePlayer {
		t.Errorf("Role = %q, want %q", p.Role, domain.RolePlayer)
	}
}

func TestSubmitPrediction_LockedMatch(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	user := addProfile(store, "Ana", domain.RolePlayer)
	admin := addProfile(store, "Root", domain.RoleAdmin)
	addMatch(store, 1, domain.StageGroups, "A", "B")

	ctx := context.Background()
	if _, err := svc.AdminFinalizeMatch(ctx, admin, 1, intPtr(1), intPtr(0), ""); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	_, err := svc.SubmitPrediction(ctx, domain.PredictionSubmission{UserID: user, MatchID: 1, PredHome: 1, PredAway: 0})
	if !errors.Is(err, domain.ErrMatchLocked) {
		t.Fatalf("submit on finished match: err = %v, want ErrMatchLocked", err)
	}
}

func TestSubmitPrediction_Validation(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	user := addProfile(store, "Ana", domain.RolePlayer)
	addMatch(store, 1, domain.StageQuarter, "A", "B")

	ctx := context.Background()

	_, err := svc.SubmitPrediction(ctx, domain.PredictionSubmission{UserID: user, MatchID: 1, PredHome: -1, PredAway: 0})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("negative goals: err = %v, want ErrValidation", err)
	}

	_, err = svc.SubmitPrediction(ctx, domain.PredictionSubmission{UserID: user, MatchID: 1, PredHome: 1, PredAway: 1, PredWinner: "C"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("foreign winner pick: err = %v, want ErrValidation", err)
	}
}

func TestAdminFinalizeMatch_NonAdmin(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	user := addProfile(store, "Ana", domain.RolePlayer)
	addMatch(store, 1, domain.StageGroups, "A", "B")

	_, err := svc.AdminFinalizeMatch(context.Background(), user, 1, intPtr(1), intPtr(0), "")
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	if store.matches[1].Status != domain.MatchStatusScheduled {
		t.Error("match state changed by denied finalize")
	}

	// Unknown callers are denied too, not reported as missing.
	_, err = svc.AdminFinalizeMatch(context.Background(), uuid.New(), 1, intPtr(1), intPtr(0), "")
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("unknown caller: err = %v, want ErrPermissionDenied", err)
	}
}

func TestAdminFinalizeMatch_Validation(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	admin := addProfile(store, "Root", domain.RoleAdmin)
	addMatch(store, 1, domain.StageGroups, "A", "B")

	ctx := context.Background()
	tests := []struct {
		name   string
		home   *int
		away   *int
		winner string
	}{
		{"missing home goals", nil, intPtr(1), ""},
		{"missing away goals", intPtr(1), nil, ""},
		{"negative goals", intPtr(-1), intPtr(0), ""},
		{"winner not playing", intPtr(1), intPtr(1), "C"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AdminFinalizeMatch(ctx, admin, 1, tt.home, tt.away, tt.winner)
			if !errors.Is(err, domain.ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}
}

func TestAdminFinalizeMatch_WinnerClearedWhenDecided(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	admin := addProfile(store, "Root", domain.RoleAdmin)
	addMatch(store, 1, domain.StageQuarter, "A", "B")

	res, err := svc.AdminFinalizeMatch(context.Background(), admin, 1, intPtr(2), intPtr(0), "B")
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if res.Match.WinnerTeam != nil {
		t.Errorf("WinnerTeam = %q, want nil for a decided score", *res.Match.WinnerTeam)
	}
}

func TestAdminFinalizeMatch_TiedKnockoutWithoutWinnerSaves(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	admin := addProfile(store, "Root", domain.RoleAdmin)
	addMatch(store, 1, domain.StageFinal, "A", "B")

	// Advisory only: the save goes through.
	res, err := svc.AdminFinalizeMatch(context.Background(), admin, 1, intPtr(1), intPtr(1), "")
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if !res.Match.Finished() {
		t.Error("match not finalized")
	}
	if res.Warning != "" {
		t.Errorf("Warning = %q, want empty", res.Warning)
	}
}

func TestAdminFinalizeMatch_SpecScenario(t *testing.T) {
	// Match A vs B in grupos finalized 2-1. X predicted 2-1 (5 pts),
	// Y predicted 3-0 (3 pts), Z predicted 0-0 (0 pts). Board ranks X, Y, Z.
	store := newFakeStore()
	svc := newTestService(store)
	admin := addProfile(store, "Root", domain.RoleAdmin)
	x := addProfile(store, "Xiomara", domain.RolePlayer)
	y := addProfile(store, "Yesid", domain.RolePlayer)
	z := addProfile(store, "Zulma", domain.RolePlayer)
	addMatch(store, 1, domain.StageGroups, "A", "B")

	ctx := context.Background()
	for _, sub := range []domain.PredictionSubmission{
		{UserID: x, MatchID: 1, PredHome: 2, PredAway: 1},
		{UserID: y, MatchID: 1, PredHome: 3, PredAway: 0},
		{UserID: z, MatchID: 1, PredHome: 0, PredAway: 0},
	} {
		if _, err := svc.SubmitPrediction(ctx, sub); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	res, err := svc.AdminFinalizeMatch(ctx, admin, 1, intPtr(2), intPtr(1), "")
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if res.Warning != "" {
		t.Fatalf("unexpected warning: %s", res.Warning)
	}

	if got := store.entries[predKey{x, 1}].Points; got != 5 {
		t.Errorf("X points = %d, want 5", got)
	}
	if got := store.entries[predKey{y, 1}].Points; got != 3 {
		t.Errorf("Y points = %d, want 3", got)
	}
	if got := store.entries[predKey{z, 1}].Points; got != 0 {
		t.Errorf("Z points = %d, want 0", got)
	}

	if len(store.board) != 3 {
		t.Fatalf("board rows = %d, want 3", len(store.board))
	}
	order := []uuid.UUID{x, y, z}
	for i, want := range order {
		if store.board[i].UserID != want {
			t.Errorf("board[%d].UserID = %s, want %s", i, store.board[i].UserID, want)
		}
		if store.board[i].Rank != i+1 {
			t.Errorf("board[%d].Rank = %d, want %d", i, store.board[i].Rank, i+1)
		}
	}
}

func TestAdminFinalizeMatch_CorrectionOverwrites(t *testing.T) {
	// 2-1 corrected to 2-2: entries are overwritten, not appended, and the
	// refreshed totals carry no residue of the first result.
	store := newFakeStore()
	svc := newTestService(store)
	admin := addProfile(store, "Root", domain.RoleAdmin)
	user := addProfile(store, "Ana", domain.RolePlayer)
	addMatch(store, 1, domain.StageGroups, "A", "B")

	ctx := context.Background()
	if _, err := svc.SubmitPrediction(ctx, domain.PredictionSubmission{UserID: user, MatchID: 1, PredHome: 2, PredAway: 1}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := svc.AdminFinalizeMatch(ctx, admin, 1, intPtr(2), intPtr(1), ""); err != nil {
		t.Fatalf("first finalize: %v", err)
	}
	if got := store.board[0].PointsTotal; got != 5 {
		t.Fatalf("points after first finalize = %d, want 5", got)
	}

	if _, err := svc.AdminFinalizeMatch(ctx, admin, 1, intPtr(2), intPtr(2), ""); err != nil {
		t.Fatalf("corrected finalize: %v", err)
	}

	if got := len(store.entries); got != 1 {
		t.Fatalf("score entries = %d, want 1 (overwritten, not appended)", got)
	}
	// 2-1 against a 2-2 result: home side matches, result wrong.
	if got := store.board[0].PointsTotal; got != 1 {
		t.Errorf("points after correction = %d, want 1", got)
	}
	if got := store.board[0].ExactCount; got != 0 {
		t.Errorf("exact count after correction = %d, want 0", got)
	}
}

func TestAdminFinalizeMatch_AggregationFailureIsWarning(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	admin := addProfile(store, "Root", domain.RoleAdmin)
	addMatch(store, 1, domain.StageGroups, "A", "B")
	store.failReplaceBoard = fmt.Errorf("disk on fire")

	res, err := svc.AdminFinalizeMatch(context.Background(), admin, 1, intPtr(1), intPtr(0), "")
	if err != nil {
		t.Fatalf("finalize returned hard error %v, want warning", err)
	}
	if res.Warning == "" {
		t.Error("Warning empty, want aggregation failure surfaced")
	}
	if !res.Match.Finished() {
		t.Error("match not finalized despite aggregation failure")
	}
}

func TestAdminSetRole(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	admin := addProfile(store, "Root", domain.RoleAdmin)
	user := addProfile(store, "Ana", domain.RolePlayer)

	ctx := context.Background()

	if err := svc.AdminSetRole(ctx, user, admin, domain.RolePlayer); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Errorf("non-admin caller: err = %v, want ErrPermissionDenied", err)
	}
	if err := svc.AdminSetRole(ctx, admin, user, domain.Role("owner")); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("unknown role: err = %v, want ErrValidation", err)
	}
	if err := svc.AdminSetRole(ctx, admin, user, domain.RoleAdmin); err != nil {
		t.Fatalf("AdminSetRole: %v", err)
	}
	if store.profiles[user].Role != domain.RoleAdmin {
		t.Error("role not updated")
	}
}

func TestUpdateDisplayName(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	user := addProfile(store, "Jugador", domain.RolePlayer)

	ctx := context.Background()

	invalid := []struct {
		name  string
		value string
	}{
		{"too short", "A"},
		{"too long", "Nombre Demasiado Largo Para El Tablero X"},
		{"digits", "Ana123"},
		{"symbols", "Ana!"},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			if err := svc.UpdateDisplayName(ctx, user, tt.value); !errors.Is(err, domain.ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}

	if err := svc.UpdateDisplayName(ctx, user, "  María José "); err != nil {
		t.Fatalf("UpdateDisplayName: %v", err)
	}
	if got := store.profiles[user].DisplayName; got != "María José" {
		t.Errorf("DisplayName = %q, want trimmed %q", got, "María José")
	}

	// First-time users get provisioned before the rename.
	fresh := uuid.New()
	if err := svc.UpdateDisplayName(ctx, fresh, "Zulma"); err != nil {
		t.Fatalf("UpdateDisplayName for fresh user: %v", err)
	}
	if got := store.profiles[fresh].DisplayName; got != "Zulma" {
		t.Errorf("fresh user DisplayName = %q, want Zulma", got)
	}
}

func TestGetUserStanding_BeyondQueryLimit(t *testing.T) {
	// The standing lookup is a direct row fetch, not a scan of the first
	// max_limit rows, so deep ranks still resolve.
	store := newFakeStore()
	cfg := config.DefaultConfig()
	cfg.Leaderboard.MaxLimit = 2
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewPoolService(store, nil, &cfg.Scoring, &cfg.Leaderboard, logger)

	deep := uuid.New()
	for i := 0; i < 3; i++ {
		store.board = append(store.board, domain.LeaderboardRow{Rank: i + 1, UserID: uuid.New()})
	}
	store.board = append(store.board, domain.LeaderboardRow{Rank: 4, UserID: deep, DisplayName: "Ana"})

	row, err := svc.GetUserStanding(context.Background(), deep)
	if err != nil {
		t.Fatalf("GetUserStanding: %v", err)
	}
	if row.Rank != 4 || row.DisplayName != "Ana" {
		t.Errorf("row = %+v, want rank 4 for Ana", row)
	}

	if _, err := svc.GetUserStanding(context.Background(), uuid.New()); !errors.Is(err, domain.ErrProfileNotFound) {
		t.Errorf("unknown user: err = %v, want ErrProfileNotFound", err)
	}
}

func TestRefreshLeaderboard_Broadcasts(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	hub := &captureHub{}
	svc.SetHub(hub)

	admin := addProfile(store, "Root", domain.RoleAdmin)
	user := addProfile(store, "Ana", domain.RolePlayer)
	addMatch(store, 1, domain.StageGroups, "A", "B")

	ctx := context.Background()
	if _, err := svc.SubmitPrediction(ctx, domain.PredictionSubmission{UserID: user, MatchID: 1, PredHome: 1, PredAway: 0}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := svc.AdminFinalizeMatch(ctx, admin, 1, intPtr(1), intPtr(0), ""); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if len(hub.rows) != 1 {
		t.Fatalf("broadcast rows = %d, want 1", len(hub.rows))
	}
	if hub.rows[0].UserID != user {
		t.Errorf("broadcast row user = %s, want %s", hub.rows[0].UserID, user)
	}
}

func TestGetLeaderboard_LimitClamping(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	for i := 0; i < 5; i++ {
		store.board = append(store.board, domain.LeaderboardRow{
			Rank:        i + 1,
			UserID:      uuid.New(),
			DisplayName: fmt.Sprintf("user-%d", i),
		})
	}

	rows, err := svc.GetLeaderboard(context.Background(), 3)
	if err != nil {
		t.Fatalf("GetLeaderboard: %v", err)
	}
	if len(rows) != 3 {
		t.Errorf("rows = %d, want 3", len(rows))
	}

	// Zero falls back to the default limit.
	rows, err = svc.GetLeaderboard(context.Background(), 0)
	if err != nil {
		t.Fatalf("GetLeaderboard: %v", err)
	}
	if len(rows) != 5 {
		t.Errorf("rows = %d, want all 5", len(rows))
	}
}
