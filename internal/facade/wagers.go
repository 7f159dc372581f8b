package facade

import (
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type placeWagerRequest struct {
	PlayerID  string          `json:"player_id"`
	StakeFiat decimal.Decimal `json:"stake_fiat"`
	Asset     string          `json:"asset"`
}

// PlaceWager — POST /wagers
func (s *Service) PlaceWager(c *fiber.Ctx) error {
	var req placeWagerRequest
	if err := c.BodyParser(&req); err != nil {
		return writeErr(c, errValidation("malformed request body"))
	}
	if err := validatePlayerID(req.PlayerID); err != nil {
		return writeErr(c, err)
	}
	if err := validateStake(req.StakeFiat, s.Cfg.Round.MinStakeFiat, s.Cfg.Round.MaxStakeFiat); err != nil {
		return writeErr(c, err)
	}
	if err := validateAsset(req.Asset, s.supportedAssets()); err != nil {
		return writeErr(c, err)
	}

	result := s.Engine.PlaceWager(req.PlayerID, req.StakeFiat, req.Asset)
	if result.Err != nil {
		return writeErr(c, result.Err)
	}
	return respondOK(c, fiber.StatusCreated, fiber.Map{"wager_id": result.WagerID})
}

type cashOutRequest struct {
	PlayerID string `json:"player_id"`
}

// CashOut — POST /wagers/cash-out (the HTTP variant; the stream also
// accepts a "cash_out" message routed by the hub to the same entry point).
func (s *Service) CashOut(c *fiber.Ctx) error {
	var req cashOutRequest
	if err := c.BodyParser(&req); err != nil {
		return writeErr(c, errValidation("malformed request body"))
	}
	if err := validatePlayerID(req.PlayerID); err != nil {
		return writeErr(c, err)
	}

	result := s.Engine.CashOut(req.PlayerID)
	if result.Err != nil {
		return writeErr(c, result.Err)
	}
	return respondOK(c, fiber.StatusOK, fiber.Map{
		"multiplier":   result.Multiplier,
		"payout_fiat":  result.PayoutFiat,
		"payout_asset": result.PayoutAsset,
		"asset":        result.Asset,
	})
}
