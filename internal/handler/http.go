// Package handler exposes the pool over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/polla-backend/internal/auth"
	"github.com/polla-backend/internal/domain"
	"github.com/polla-backend/internal/websocket"
)

// PoolAPI is the service surface the handlers call. *service.PoolService
// implements it.
type PoolAPI interface {
	ListStages(ctx context.Context) ([]domain.Stage, error)
	ListMatchesByStage(ctx context.Context, stage domain.Stage) ([]domain.Match, error)

	SubmitPrediction(ctx context.Context, sub domain.PredictionSubmission) (*domain.Prediction, error)
	ListPredictionsForUser(ctx context.Context, userID uuid.UUID) ([]domain.Prediction, error)
	UpdateDisplayName(ctx context.Context, userID uuid.UUID, name string) error

	GetLeaderboard(ctx context.Context, limit int) ([]domain.LeaderboardRow, error)
	GetUserStanding(ctx context.Context, userID uuid.UUID) (*domain.LeaderboardRow, error)
	GetStats(ctx context.Context) (*domain.LeaderboardStats, error)

	AdminFinalizeMatch(ctx context.Context, callerID uuid.UUID, matchID int64, scoreHome, scoreAway *int, winnerTeam string) (*domain.FinalizeResult, error)
	AdminRefreshLeaderboard(ctx context.Context, callerID uuid.UUID) error
	AdminSetRole(ctx context.Context, callerID, userID uuid.UUID, role domain.Role) error
}

// Handler provides HTTP handlers for the pool API
type Handler struct {
	service PoolAPI
	hub     *websocket.Hub
	issuer  *auth.TokenIssuer
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(service PoolAPI, hub *websocket.Hub, issuer *auth.TokenIssuer, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		hub:     hub,
		issuer:  issuer,
		logger:  logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public reads
		r.Get("/stages", h.ListStages)
		r.Get("/matches", h.ListMatches)
		r.Get("/leaderboard", h.GetLeaderboard)
		r.Get("/leaderboard/stats", h.GetStats)

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(h.issuer.Middleware)

			r.Post("/predictions", h.SubmitPrediction)
			r.Get("/predictions", h.ListMyPredictions)
			r.Get("/leaderboard/me", h.GetMyStanding)
			r.Put("/profiles/me", h.UpdateMyProfile)

			// Admin mutations. The role check lives in the service, which
			// resolves it from the profiles table rather than the token.
			r.Route("/admin", func(r chi.Router) {
				r.Post("/matches/{matchID}/finalize", h.FinalizeMatch)
				r.Post("/leaderboard/refresh", h.RefreshLeaderboard)
				r.Put("/profiles/{userID}/role", h.SetRole)
			})
		})

		// WebSocket info endpoint
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError maps a service error to a status code and writes it
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrPermissionDenied):
		status = http.StatusForbidden
	case domain.IsNotFoundError(err):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrMatchLocked):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
	}
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		http.Error(w, "websocket unavailable", http.StatusServiceUnavailable)
		return
	}
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	total := 0
	if h.hub != nil {
		total = h.hub.GetTotalConnections()
	}
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": total,
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck returns service readiness status
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// ListStages returns the tournament stages present in the fixture list
func (h *Handler) ListStages(w http.ResponseWriter, r *http.Request) {
	stages, err := h.service.ListStages(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, stages)
}

// ListMatches returns the matches of one stage, kickoff ascending
func (h *Handler) ListMatches(w http.ResponseWriter, r *http.Request) {
	stage := r.URL.Query().Get("stage")
	if stage == "" {
		h.writeError(w, fmt.Errorf("%w: stage query parameter is required", domain.ErrValidation))
		return
	}

	matches, err := h.service.ListMatchesByStage(r.Context(), domain.Stage(stage))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, matches)
}

// GetLeaderboard returns the ranked standings
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			h.writeError(w, fmt.Errorf("%w: limit must be a non-negative integer", domain.ErrValidation))
			return
		}
		limit = parsed
	}

	rows, err := h.service.GetLeaderboard(r.Context(), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, rows)
}

// GetStats returns summary statistics about the standings
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetStats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, stats)
}

// GetMyStanding returns the authenticated caller's standings row
func (h *Handler) GetMyStanding(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, APIResponse{Success: false, Error: "unauthorized"})
		return
	}

	row, err := h.service.GetUserStanding(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, row)
}

type predictionRequest struct {
	MatchID    int64  `json:"match_id"`
	PredHome   int    `json:"pred_home"`
	PredAway   int    `json:"pred_away"`
	PredWinner string `json:"pred_winner,omitempty"`
}

// SubmitPrediction creates or updates the caller's prediction for a match
func (h *Handler) SubmitPrediction(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, APIResponse{Success: false, Error: "unauthorized"})
		return
	}

	var req predictionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, fmt.Errorf("%w: malformed body", domain.ErrInvalidRequest))
		return
	}

	pred, err := h.service.SubmitPrediction(r.Context(), domain.PredictionSubmission{
		UserID:     userID,
		MatchID:    req.MatchID,
		PredHome:   req.PredHome,
		PredAway:   req.PredAway,
		PredWinner: req.PredWinner,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, pred)
}

// ListMyPredictions returns the authenticated caller's predictions
func (h *Handler) ListMyPredictions(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, APIResponse{Success: false, Error: "unauthorized"})
		return
	}

	preds, err := h.service.ListPredictionsForUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, preds)
}

type profileRequest struct {
	DisplayName string `json:"display_name"`
}

// UpdateMyProfile changes the authenticated caller's display name
func (h *Handler) UpdateMyProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, APIResponse{Success: false, Error: "unauthorized"})
		return
	}

	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, fmt.Errorf("%w: malformed body", domain.ErrInvalidRequest))
		return
	}

	if err := h.service.UpdateDisplayName(r.Context(), userID, req.DisplayName); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "updated"})
}

type finalizeRequest struct {
	ScoreHome  *int   `json:"score_home"`
	ScoreAway  *int   `json:"score_away"`
	WinnerTeam string `json:"winner_team,omitempty"`
}

// FinalizeMatch records a match's official result and triggers rescoring
func (h *Handler) FinalizeMatch(w http.ResponseWriter, r *http.Request) {
	callerID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, APIResponse{Success: false, Error: "unauthorized"})
		return
	}

	matchID, err := strconv.ParseInt(chi.URLParam(r, "matchID"), 10, 64)
	if err != nil {
		h.writeError(w, fmt.Errorf("%w: invalid match id", domain.ErrValidation))
		return
	}

	var req finalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, fmt.Errorf("%w: malformed body", domain.ErrInvalidRequest))
		return
	}

	result, err := h.service.AdminFinalizeMatch(r.Context(), callerID, matchID, req.ScoreHome, req.ScoreAway, req.WinnerTeam)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, result)
}

// RefreshLeaderboard forces a leaderboard rebuild
func (h *Handler) RefreshLeaderboard(w http.ResponseWriter, r *http.Request) {
	callerID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, APIResponse{Success: false, Error: "unauthorized"})
		return
	}

	if err := h.service.AdminRefreshLeaderboard(r.Context(), callerID); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "refreshed"})
}

type roleRequest struct {
	Role string `json:"role"`
}

// SetRole changes a user's role
func (h *Handler) SetRole(w http.ResponseWriter, r *http.Request) {
	callerID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, APIResponse{Success: false, Error: "unauthorized"})
		return
	}

	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, fmt.Errorf("%w: invalid user id", domain.ErrValidation))
		return
	}

	var req roleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, fmt.Errorf("%w: malformed body", domain.ErrInvalidRequest))
		return
	}

	if err := h.service.AdminSetRole(r.Context(), callerID, userID, domain.Role(req.Role)); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "updated"})
}
