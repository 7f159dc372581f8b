package facade

import (
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"crashcore/internal/ledger"
)

// CurrentRound — GET /rounds/current
func (s *Service) CurrentRound(c *fiber.Ctx) error {
	return respondOK(c, fiber.StatusOK, s.Engine.Snapshot())
}

// RoundHistory — GET /rounds?page=&page_size=
func (s *Service) RoundHistory(c *fiber.Ctx) error {
	page, pageSize := parsePagination(c)
	paged, err := s.Store.ListRounds(c.Context(), ledger.Page{Number: page, Size: pageSize})
	if err != nil {
		return writeErr(c, err)
	}
	// ListRounds only ever returns settled rounds, whose seed is already
	// public (revealed at crash), so no redaction is needed here.
	return respondList(c, paged.Items, paged.Page, paged.PageSize, paged.Total)
}

// RoundDetails — GET /rounds/:id
func (s *Service) RoundDetails(c *fiber.Ctx) error {
	roundID := c.Params("id")
	round, err := s.Store.GetRound(c.Context(), roundID)
	if err != nil {
		return writeErr(c, err)
	}
	// The seed stays secret until the round has crashed; revealing it
	// earlier would let a caller compute the crash point mid-round.
	if round.State != "crashed" && round.State != "settled" {
		round.Seed = ""
	}
	return respondOK(c, fiber.StatusOK, round)
}

type verifyRoundRequest struct {
	Seed         string          `json:"seed"`
	ClaimedCrash decimal.Decimal `json:"claimed_crash"`
}

// VerifyRound — POST /rounds/:id/verify
func (s *Service) VerifyRound(c *fiber.Ctx) error {
	roundID := c.Params("id")
	var req verifyRoundRequest
	if err := c.BodyParser(&req); err != nil {
		return writeErr(c, errValidation("malformed request body"))
	}
	if req.Seed == "" {
		return writeErr(c, errValidation("seed is required"))
	}

	ok, recomputed, err := s.Engine.VerifyRound(c.Context(), roundID, req.Seed, req.ClaimedCrash)
	if err != nil {
		return writeErr(c, err)
	}
	return respondOK(c, fiber.StatusOK, fiber.Map{
		"valid":            ok,
		"recomputed_crash": recomputed,
	})
}
