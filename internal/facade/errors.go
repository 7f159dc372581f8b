package facade

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"crashcore/internal/engine"
	"crashcore/internal/ledger"
)

// apiError is a stable (status, code, message) triple. Every synchronous
// failure the facade returns has one; no internal stack traces or raw
// error strings cross this boundary for unrecognised errors.
type apiError struct {
	status  int
	code    string
	message string
}

// Error implements the error interface so validation helpers can return
// an apiError directly and callers can still use plain `if err != nil`.
func (e apiError) Error() string { return e.message }

func respondError(c *fiber.Ctx, e apiError) error {
	return c.Status(e.status).JSON(fiber.Map{
		"success": false,
		"error":   e.message,
		"code":    e.code,
	})
}

func respondOK(c *fiber.Ctx, status int, data interface{}) error {
	return c.Status(status).JSON(fiber.Map{
		"success": true,
		"data":    data,
	})
}

func respondList(c *fiber.Ctx, items interface{}, page, pageSize int, total int64) error {
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"success":   true,
		"data":      items,
		"page":      page,
		"page_size": pageSize,
		"total":     total,
	})
}

// classify maps a core error to its stable API shape. Validation errors
// are caught before this is ever called; this only classifies failures
// that surfaced from the engine or ledger.
func classify(err error) apiError {
	switch {
	case errors.Is(err, engine.ErrRoundNotBetting):
		return apiError{http.StatusConflict, "ERR_ROUND_NOT_BETTING", err.Error()}
	case errors.Is(err, engine.ErrRoundNotLive):
		return apiError{http.StatusConflict, "ERR_ROUND_NOT_LIVE", err.Error()}
	case errors.Is(err, engine.ErrAlreadyWagered):
		return apiError{http.StatusConflict, "ERR_ALREADY_WAGERED", err.Error()}
	case errors.Is(err, engine.ErrNoOpenWager):
		return apiError{http.StatusNotFound, "ERR_NO_OPEN_WAGER", err.Error()}
	case errors.Is(err, ledger.ErrPlayerInactive):
		return apiError{http.StatusForbidden, "ERR_PLAYER_DISABLED", err.Error()}
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return apiError{http.StatusPaymentRequired, "ERR_INSUFFICIENT_BALANCE", err.Error()}
	case errors.Is(err, ledger.ErrUnsupportedAsset):
		return apiError{http.StatusBadRequest, "ERR_UNSUPPORTED_ASSET", err.Error()}
	case errors.Is(err, ledger.ErrStakeTooSmall), errors.Is(err, ledger.ErrStakeTooLarge):
		return apiError{http.StatusBadRequest, "ERR_INVALID_STAKE", err.Error()}
	case ledger.IsNotFound(err):
		return apiError{http.StatusNotFound, "ERR_NOT_FOUND", err.Error()}
	case ledger.IsConflict(err):
		return apiError{http.StatusConflict, "ERR_CONFLICT", err.Error()}
	default:
		return apiError{http.StatusInternalServerError, "ERR_INTERNAL", "an internal error occurred"}
	}
}

func errValidation(msg string) error {
	return apiError{http.StatusBadRequest, "ERR_VALIDATION", msg}
}

// ErrorHandler is installed as the fiber app's global error handler, for
// failures that never reach a handler's own writeErr call (bad routes,
// body size limits, fiber-internal errors).
func ErrorHandler(c *fiber.Ctx, err error) error {
	if ae, ok := err.(apiError); ok {
		return respondError(c, ae)
	}
	if fe, ok := err.(*fiber.Error); ok {
		return respondError(c, apiError{fe.Code, "ERR_REQUEST", fe.Message})
	}
	return respondError(c, apiError{http.StatusInternalServerError, "ERR_INTERNAL", "an internal error occurred"})
}

// writeErr renders err as a JSON error response. Validation errors are
// already apiError values; anything else is classified from the core's
// error taxonomy.
func writeErr(c *fiber.Ctx, err error) error {
	if ae, ok := err.(apiError); ok {
		return respondError(c, ae)
	}
	return respondError(c, classify(err))
}
