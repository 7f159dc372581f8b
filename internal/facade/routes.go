package facade

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

// RegisterRoutes wires every request/reply operation onto app under
// /api/v1, plus /health and the /stream duplex endpoint at the root.
func (s *Service) RegisterRoutes(app *fiber.App) {
	app.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH",
		AllowHeaders:     "Accept,Authorization,Content-Type",
		AllowCredentials: false,
		MaxAge:           300,
	}))

	app.Get("/health", s.Health)

	api := app.Group("/api/v1")

	api.Post("/players", s.CreatePlayer)
	api.Get("/players/:id/balance", s.Balance)
	api.Get("/players/:id/history", s.History)
	api.Post("/players/:id/deposit", s.Deposit)
	api.Post("/players/:id/withdraw", s.Withdraw)
	api.Patch("/players/:id/active", s.SetActive)

	api.Post("/wagers", s.PlaceWager)
	api.Post("/wagers/cash-out", s.CashOut)

	api.Get("/rounds/current", s.CurrentRound)
	api.Get("/rounds", s.RoundHistory)
	api.Get("/rounds/:id", s.RoundDetails)
	api.Post("/rounds/:id/verify", s.VerifyRound)

	api.Get("/prices", s.Prices)
	api.Post("/prices/convert", s.Convert)

	app.Get("/stream", s.WSUpgrade, websocket.New(s.Stream))
}

// Health — GET /health
func (s *Service) Health(c *fiber.Ctx) error {
	return respondOK(c, fiber.StatusOK, fiber.Map{
		"status":              "ok",
		"connected_observers": s.Hub.Count(),
		"round":               s.Engine.Snapshot(),
	})
}
