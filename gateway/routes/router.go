package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"jobmarket/gateway/middleware"
)

// Config assembles the public HTTP surface. RPC is required; every other
// handler is optional.
type Config struct {
	RPC           http.Handler
	Events        http.HandlerFunc
	HealthHandler http.Handler
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
}

const (
	RateLimitRPC    = "rpc"
	RateLimitEvents = "events"
)

func New(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(cfg.CORS))

	health := cfg.HealthHandler
	if health == nil {
		health = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
	}
	r.Get("/healthz", health.ServeHTTP)

	r.Group(func(sr chi.Router) {
		if cfg.Authenticator != nil {
			sr.Use(cfg.Authenticator.Middleware)
		}
		if cfg.RateLimiter != nil {
			sr.Use(cfg.RateLimiter.Middleware(RateLimitRPC))
		}
		if cfg.Observability != nil {
			sr.Use(cfg.Observability.Middleware("rpc"))
		}
		sr.Handle("/rpc", cfg.RPC)
	})

	if cfg.Events != nil {
		r.Group(func(sr chi.Router) {
			if cfg.RateLimiter != nil {
				sr.Use(cfg.RateLimiter.Middleware(RateLimitEvents))
			}
			sr.Get("/ws/events", cfg.Events)
		})
	}

	if cfg.Observability != nil {
		r.Handle("/metrics", cfg.Observability.MetricsHandler())
	}
	return r
}
