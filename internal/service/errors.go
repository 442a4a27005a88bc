package service

import (
	"errors"

	"github.com/litxtech/mytrabzon-match/internal/coordinator"
)

// Error taxonomy for the public operations. NotFound and Forbidden are the
// coordinator's sentinels so callers can test either surface with a single
// errors.Is.
var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidProfile = errors.New("invalid profile: gender must be male or female")
	ErrInvalidAction  = errors.New("invalid session action")
	ErrInvalidReason  = errors.New("invalid report reason")
	ErrRestricted     = errors.New("user is restricted from matching")
	ErrLimitExceeded  = errors.New("daily match limit reached")
	ErrRateLimited    = errors.New("too many requests")

	ErrNotFound  = coordinator.ErrNotFound
	ErrForbidden = coordinator.ErrForbidden
)
