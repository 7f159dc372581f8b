// Package facade is the thin request/reply surface wired to the Round
// Engine, Ledger, and Price Oracle. It validates and sanitises every
// player-provided input before calling into the core, and translates
// core error taxonomies into stable message codes with short
// human-readable messages, never leaking internal detail.
package facade

import (
	"crashcore/internal/config"
	"crashcore/internal/engine"
	"crashcore/internal/hub"
	"crashcore/internal/ledger"
	"crashcore/internal/priceoracle"
)

// Service bundles the core components the facade's handlers call into,
// in place of process-wide statics.
type Service struct {
	Engine *engine.Engine
	Store  *ledger.Store
	Oracle *priceoracle.Oracle
	Hub    *hub.Hub
	Cfg    *config.Config
}

// New constructs a Service. All fields are required.
func New(e *engine.Engine, store *ledger.Store, oracle *priceoracle.Oracle, h *hub.Hub, cfg *config.Config) *Service {
	return &Service{Engine: e, Store: store, Oracle: oracle, Hub: h, Cfg: cfg}
}
