package ledger

import "errors"

// Player errors
var (
	ErrPlayerNotFound = errors.New("player not found")
	ErrPlayerExists   = errors.New("player already registered")
	ErrPlayerInactive = errors.New("player account is disabled")
)

// Balance / wager errors
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUnsupportedAsset    = errors.New("unsupported asset")
	ErrStakeTooSmall       = errors.New("stake is below the minimum")
	ErrStakeTooLarge       = errors.New("stake exceeds the maximum")
	ErrWagerNotFound       = errors.New("wager not found")
	ErrWagerNotActive      = errors.New("wager is not active")
	ErrWagerAlreadySettled = errors.New("wager is already settled")
)

// Round errors
var (
	ErrRoundNotFound = errors.New("round not found")
)

// notFoundErrors collects all "entity not found" sentinels so IsNotFound
// stays in sync automatically.
var notFoundErrors = []error{
	ErrPlayerNotFound,
	ErrWagerNotFound,
	ErrRoundNotFound,
}

// IsNotFound returns true when err (or any error in its chain) is one of
// the ledger's "not found" sentinels.
func IsNotFound(err error) bool {
	for _, target := range notFoundErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// conflictErrors collects all "state conflict" sentinels.
var conflictErrors = []error{
	ErrPlayerExists,
	ErrWagerAlreadySettled,
	ErrWagerNotActive,
}

// IsConflict returns true for errors representing a state conflict, e.g.
// double registration or double settlement.
func IsConflict(err error) bool {
	for _, target := range conflictErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
