package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"libshelf/internal/availability"
	"libshelf/internal/catalog"
	"libshelf/internal/circulation"
	"libshelf/internal/httpx"
	"libshelf/internal/identity"
	"libshelf/internal/inventory"
	"libshelf/internal/journal"
	"libshelf/internal/membership"
	"libshelf/internal/reservation"
)

// Version is reported by /version. Release builds set it with -ldflags.
var Version = "dev"

type RouterOptions struct {
	RateLimitPerSecond float64
	RateLimitBurst     int
	RequestTimeout     time.Duration
}

// NewRouter mounts every handler under /api/v1 behind identity resolution and rate limiting.
func NewRouter(s *Services, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(httpx.Trace)
	r.Use(httpx.AccessLog)
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
	}

	r.NotFound(httpx.NotFound)
	r.Get("/healthcheck", healthcheck(s))
	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		httpx.OK(w, r, map[string]string{"version": Version})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(identity.Middleware(s.Members))
		r.Use(httpx.RateLimit(opts.RateLimitPerSecond, opts.RateLimitBurst))

		membership.NewHandler(s.Members).Routes(r)
		catalog.NewHandler(s.Catalog).Routes(r)
		availability.NewHandler(s.Availability).Routes(r)
		inventory.NewHandler(s.Inventory, s.Journal).Routes(r)
		circulation.NewHandler(s.Circulation).Routes(r)
		reservation.NewHandler(s.Reservations).Routes(r)
		journal.NewHandler(s.Journal).Routes(r)
	})
	return r
}

func healthcheck(s *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.DB.PingContext(r.Context()); err != nil {
			httpx.ServerError(w, r, err)
			return
		}
		httpx.OK(w, r, map[string]string{"status": "ok"})
	}
}
