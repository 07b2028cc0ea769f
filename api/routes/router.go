package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/credeo/lendmarket-backend/api/controllers"
	"github.com/credeo/lendmarket-backend/api/middleware"
	"github.com/credeo/lendmarket-backend/internal/loans"
	"github.com/credeo/lendmarket-backend/internal/marketplace"
	"github.com/credeo/lendmarket-backend/pkg/config"
	"github.com/credeo/lendmarket-backend/pkg/db"
	"github.com/credeo/lendmarket-backend/pkg/logger"
	"github.com/credeo/lendmarket-backend/pkg/redis"
)

// NewRouter wires the read-only query surface. All mutations flow through
// the workers; the API only reads ledger state.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisP redis.Pinger,
	loanService loans.Service,
	offerRepo marketplace.OfferRepository,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/loans", func(r chi.Router) {
			r.Get("/", controllers.ListLoans(loanService, logg))
			r.Get("/{loanId}", controllers.GetLoan(loanService, logg))
			r.Get("/{loanId}/valuations", controllers.LoanValuations(loanService, logg))
		})
		r.Get("/offers/{offerId}", controllers.GetOffer(offerRepo, logg))
	})

	return r
}
