package server

import (
	"log/slog"
	"net/http"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// Every route except health requires an account ID.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	authed := func(fn http.HandlerFunc) http.Handler {
		return AccountMiddleware(fn)
	}

	mux.HandleFunc("GET /api/v1/health", h.Health)

	mux.Handle("POST /api/v1/projects", authed(h.CreateProject))
	mux.Handle("GET /api/v1/projects", authed(h.ListProjects))
	mux.Handle("GET /api/v1/projects/{id}", authed(h.GetProject))
	mux.Handle("DELETE /api/v1/projects/{id}", authed(h.DeleteProject))
	mux.Handle("POST /api/v1/projects/{id}/retry", authed(h.RetryProject))
	mux.Handle("GET /api/v1/projects/{id}/downloads/{kind}", authed(h.Download))

	mux.Handle("POST /api/v1/uploads/presign", authed(h.PresignUpload))

	mux.Handle("GET /api/v1/credits", authed(h.GetCredits))
	mux.Handle("GET /api/v1/credits/transactions", authed(h.ListTransactions))

	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
