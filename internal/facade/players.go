package facade

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"crashcore/internal/ledger"
)

type createPlayerRequest struct {
	ID              string                     `json:"id"`
	Name            string                     `json:"name"`
	InitialBalances map[string]decimal.Decimal `json:"initial_balances,omitempty"`
}

// CreatePlayer — POST /players
func (s *Service) CreatePlayer(c *fiber.Ctx) error {
	var req createPlayerRequest
	if err := c.BodyParser(&req); err != nil {
		return writeErr(c, errValidation("malformed request body"))
	}
	if err := validatePlayerID(req.ID); err != nil {
		return writeErr(c, err)
	}
	if err := validatePlayerName(req.Name); err != nil {
		return writeErr(c, err)
	}

	initial := make(map[ledger.Asset]decimal.Decimal, len(req.InitialBalances))
	for asset, amount := range req.InitialBalances {
		if err := validateAsset(asset, s.supportedAssets()); err != nil {
			return writeErr(c, err)
		}
		if amount.IsNegative() {
			return writeErr(c, errValidation("initial balance cannot be negative"))
		}
		initial[ledger.Asset(asset)] = amount
	}

	player, err := s.Store.CreatePlayer(c.Context(), req.ID, req.Name, initial)
	if err != nil {
		return writeErr(c, err)
	}
	return respondOK(c, fiber.StatusCreated, player)
}

// Balance — GET /players/:id/balance
func (s *Service) Balance(c *fiber.Ctx) error {
	playerID := c.Params("id")
	if err := validatePlayerID(playerID); err != nil {
		return writeErr(c, err)
	}
	bal, err := s.Store.Balance(c.Context(), playerID)
	if err != nil {
		return writeErr(c, err)
	}
	return respondOK(c, fiber.StatusOK, bal)
}

// History — GET /players/:id/history?page=&page_size=&kind=
func (s *Service) History(c *fiber.Ctx) error {
	playerID := c.Params("id")
	if err := validatePlayerID(playerID); err != nil {
		return writeErr(c, err)
	}
	page, pageSize := parsePagination(c)
	filter := ledger.HistoryFilter{Kind: ledger.TransactionKind(c.Query("kind"))}

	paged, err := s.Store.History(c.Context(), playerID, filter, ledger.Page{Number: page, Size: pageSize})
	if err != nil {
		return writeErr(c, err)
	}
	return respondList(c, paged.Items, paged.Page, paged.PageSize, paged.Total)
}

type depositRequest struct {
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

// Deposit — POST /players/:id/deposit
func (s *Service) Deposit(c *fiber.Ctx) error {
	return s.creditDebit(c, true)
}

// Withdraw — POST /players/:id/withdraw
func (s *Service) Withdraw(c *fiber.Ctx) error {
	return s.creditDebit(c, false)
}

func (s *Service) creditDebit(c *fiber.Ctx, deposit bool) error {
	playerID := c.Params("id")
	if err := validatePlayerID(playerID); err != nil {
		return writeErr(c, err)
	}
	var req depositRequest
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

	txnID := uuid.NewString()
	if deposit {
		err = s.Store.Deposit(c.Context(), playerID, ledger.Asset(req.Asset), req.Amount, price, txnID)
	} else {
		err = s.Store.Withdraw(c.Context(), playerID, ledger.Asset(req.Asset), req.Amount, price, txnID)
	}
	if err != nil {
		return writeErr(c, err)
	}
	return respondOK(c, fiber.StatusOK, fiber.Map{"transaction_id": txnID})
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

// SetActive — PATCH /players/:id/active
func (s *Service) SetActive(c *fiber.Ctx) error {
	playerID := c.Params("id")
	if err := validatePlayerID(playerID); err != nil {
		return writeErr(c, err)
	}
	var req setActiveRequest
	if err := c.BodyParser(&req); err != nil {
		return writeErr(c, errValidation("malformed request body"))
	}
	if err := s.Store.SetPlayerActive(c.Context(), playerID, req.Active); err != nil {
		return writeErr(c, err)
	}
	return respondOK(c, fiber.StatusOK, fiber.Map{"id": playerID, "active": req.Active})
}

func (s *Service) supportedAssets() map[string]bool {
	out := make(map[string]bool, len(s.Cfg.Oracle.Assets))
	for _, a := range s.Cfg.Oracle.Assets {
		out[a] = true
	}
	return out
}

func parsePagination(c *fiber.Ctx) (page, pageSize int) {
	page, err := strconv.Atoi(c.Query("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	pageSize, err = strconv.Atoi(c.Query("page_size", "20"))
	if err != nil || pageSize < 1 || pageSize > 200 {
		pageSize = 20
	}
	return page, pageSize
}
