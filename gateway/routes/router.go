// Package routes exposes the marketplace read model over HTTP.
package routes

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"bookchain/book"
	"bookchain/gateway/middleware"
	"bookchain/governance"
	"bookchain/history"
	"bookchain/market"
)

// Marketplace is the read side of *market.Service.
type Marketplace interface {
	ListBooks(ctx context.Context) ([]book.Record, error)
	Book(ctx context.Context, id uint64) (book.Record, error)
	Rating(ctx context.Context, id uint64) (book.Rating, error)
	Account(ctx context.Context, addr common.Address) (market.AccountInfo, error)
	History(ctx context.Context, account common.Address) ([]history.Entry, error)
}

// Governance is the read side of *governance.Service.
type Governance interface {
	Status(ctx context.Context) governance.ServiceStatus
	Pending(ctx context.Context) ([]governance.Proposal, error)
	Proposal(ctx context.Context, id uint64) (governance.Proposal, error)
}

// Health reports whether the upstream node is reachable.
type Health func(ctx context.Context) error

type Config struct {
	Market        Marketplace
	Governance    Governance
	Health        Health
	Logger        *slog.Logger
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	// Timeout bounds every handler's chain reads.
	Timeout time.Duration
}

func New(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	h := &handlers{market: cfg.Market, governance: cfg.Governance, health: cfg.Health, logger: cfg.Logger, timeout: cfg.Timeout}

	r := chi.NewRouter()
	if cfg.Observability != nil {
		r.Use(cfg.Observability.Middleware)
	}
	r.Use(middleware.CORS(cfg.CORS))

	r.Get("/healthz", h.healthz)
	if cfg.Observability != nil {
		r.Handle("/metrics", cfg.Observability.MetricsHandler())
	}

	r.Route("/v1", func(v1 chi.Router) {
		if cfg.RateLimiter != nil {
			v1.Use(cfg.RateLimiter.Middleware)
		}
		v1.Get("/books", h.listBooks)
		v1.Get("/books/{id}", h.getBook)
		v1.Get("/books/{id}/rating", h.getRating)
		v1.Get("/accounts/{address}", h.getAccount)
		v1.Get("/accounts/{address}/history", h.getHistory)
		v1.Get("/governance/status", h.governanceStatus)
		v1.Get("/governance/proposals", h.pendingProposals)
		v1.Get("/governance/proposals/{id}", h.getProposal)
	})
	return r
}
