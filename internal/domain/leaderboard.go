package domain

import (
	"time"

	"github.com/google/uuid"
)

// LeaderboardRow is one user's line in the materialized standings. Rows are
// rebuilt wholesale on every refresh, never incrementally updated.
type LeaderboardRow struct {
	Rank           int       `json:"rank"`
	UserID         uuid.UUID `json:"user_id"`
	DisplayName    string    `json:"display_name"`
	PointsTotal    int       `json:"points_total"`
	ExactCount     int       `json:"exact_count"`
	ResultCount    int       `json:"result_count"`
	OneSideCount   int       `json:"one_side_count"`
	QualifierCount int       `json:"qualifier_count"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// LeaderboardStats contains summary statistics about the standings
type LeaderboardStats struct {
	TotalUsers  int64     `json:"total_users"`
	TopPoints   int       `json:"top_points,omitempty"`
	LastRefresh time.Time `json:"last_refresh,omitempty"`
}
