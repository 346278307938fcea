package restapi

import (
	"crypto/rsa"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter returns a configured chi.Router for the read-only scan query
// API.
//
// Route layout:
//
//	GET /healthz                 – liveness probe (no authentication required)
//	GET /api/v1/scan-results     – paginated scan result query (JWT required)
//	GET /api/v1/processes        – list attach-candidate processes (JWT required)
//
// pubKey verifies RS256 Bearer tokens on every /api route; pass nil to
// disable JWT validation (tests covering only request parsing/formatting).
func NewRouter(srv *Server, pubKey *rsa.PublicKey) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", srv.handleHealthz)

	r.Route("/api/v1", func(r chi.Router) {
		if pubKey != nil {
			r.Use(JWTMiddleware(pubKey))
		}

		r.Get("/scan-results", srv.handleGetScanResults)
		r.Get("/processes", srv.handleGetProcesses)
	})

	return r
}
