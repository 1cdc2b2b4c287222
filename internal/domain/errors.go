package domain

import "errors"

// Domain errors
var (
	ErrMatchNotFound     = errors.New("match not found")
	ErrProfileNotFound   = errors.New("profile not found")
	ErrMatchLocked       = errors.New("match is finished, predictions are locked")
	ErrPermissionDenied  = errors.New("operation requires admin role")
	ErrValidation        = errors.New("validation failed")
	ErrAggregationFailed = errors.New("leaderboard aggregation failed")
	ErrInvalidRequest    = errors.New("invalid request")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrMatchNotFound) ||
		errors.Is(err, ErrProfileNotFound)
}
