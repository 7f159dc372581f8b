package facade

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// Prices — GET /prices
func (s *Service) Prices(c *fiber.Ctx) error {
	prices, err := s.Oracle.Prices(c.Context(), s.Cfg.Oracle.Assets)
	if err != nil {
		return writeErr(c, err)
	}
	return respondOK(c, fiber.StatusOK, prices)
}

type convertRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Asset     string          `json:"asset"`
	Direction string          `json:"direction"` // "to_asset" or "to_fiat"
}

// Convert — POST /prices/convert
func (s *Service) Convert(c *fiber.Ctx) error {
	var req convertRequest
	if err := c.BodyParser(&req); err != nil {
		return writeErr(c, errValidation("malformed request body"))
	}
	if err := validateAsset(req.Asset, s.supportedAssets()); err != nil {
		return writeErr(c, err)
	}
	if err := validatePositiveAmount(req.Amount); err != nil {
		return writeErr(c, err)
	}

	price, err := s.Oracle.Price(c.Context(), req.Asset)
	if err != nil {
		return writeErr(c, err)
	}

	var converted decimal.Decimal
	switch strings.ToLower(req.Direction) {
	case "to_asset":
		converted = req.Amount.Div(price)
	case "to_fiat", "":
		converted = req.Amount.Mul(price)
	default:
		return writeErr(c, errValidation("direction must be to_asset or to_fiat"))
	}

	return respondOK(c, fiber.StatusOK, fiber.Map{
		"converted": converted,
		"price":     price,
	})
}
