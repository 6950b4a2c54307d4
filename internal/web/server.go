// Package web provides the HTTP API for the legacy import service.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/casevault/importer/internal/config"
	"github.com/casevault/importer/internal/core"
	mw "github.com/casevault/importer/internal/web/middleware"
)

// Server is the HTTP server for the import API.
type Server struct {
	cfg     *config.Config
	service *core.Service
	ping    func(context.Context) error
	router  *chi.Mux
	server  *http.Server

	uploadLimiter *rateLimiter
}

// NewServer creates a new Server instance. ping verifies the backing store
// for the health endpoint; nil skips the check.
func NewServer(cfg *config.Config, service *core.Service, ping func(context.Context) error) *Server {
	s := &Server{
		cfg:     cfg,
		service: service,
		ping:    ping,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))

	// Security hardening
	s.router.Use(securityHeaders(s.cfg.Security.EnableCSP))

	// Browser clients need CORS headers when origins are configured
	if len(s.cfg.Security.CORSAllowedOrigins) > 0 {
		c := cors.New(cors.Options{
			AllowedOrigins:   s.cfg.Security.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-API-Key", "X-Organization-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		})
		s.router.Use(c.Handler)
	}

	// Rate limiting per client IP
	if s.cfg.Rate.Enabled {
		limiter := newRateLimiter(s.cfg.Rate.RequestsPerMinute, time.Minute)
		s.router.Use(limiter.middleware)
		s.uploadLimiter = newRateLimiter(s.cfg.Rate.UploadLimit, time.Minute)
	}
}

// setupRoutes configures all HTTP routes. Execution routes run under the
// import timeout instead of the request timeout because they block until
// the batch settles.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(api chi.Router) {
		api.Use(mw.APIKeyAuth(&s.cfg.Security))

		api.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))

			// Entity type registry
			r.Get("/entity-types", s.handleListEntityTypes)
			r.Get("/entity-types/{entityType}/template", s.handleDownloadTemplate)

			// Import sessions
			r.Route("/sessions", func(r chi.Router) {
				r.Post("/", s.handleCreateSession)
				r.Get("/", s.handleListSessions)

				r.Route("/{sessionID}", func(r chi.Router) {
					r.Get("/", s.handleGetSession)
					r.Delete("/", s.handleDeleteSession)
					r.With(s.limitUploads).Post("/files", s.handleAddFiles)
					r.Delete("/files/{fileName}", s.handleRemoveFile)
					r.Post("/validate", s.handleValidate)
					r.Get("/mappings", s.handleGetMappings)
					r.Put("/mappings", s.handleSetMappings)
				})
			})

			// Batches
			r.Route("/batches", func(r chi.Router) {
				r.Get("/", s.handleListBatches)

				r.Route("/{batchID}", func(r chi.Router) {
					r.Get("/", s.handleGetBatch)
					r.Get("/records", s.handleListRecords)
					r.Get("/log", s.handleGetLog)
					r.Get("/log/download", s.handleDownloadLog)
					r.Get("/rollback/preview", s.handlePreviewRollback)
					r.Post("/rollback", s.handleRollback)

					r.Route("/corrections", func(r chi.Router) {
						r.Post("/", s.handleStartCorrection)
						r.Get("/", s.handleGetCorrection)
						r.Delete("/", s.handleDeleteCorrection)
						r.Put("/records/{recordRef}", s.handleEditCorrectionRecord)
						r.Get("/workbook", s.handleCorrectionWorkbook)
					})
				})
			})
		})

		// Blocking executions
		api.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.cfg.Import.ExecuteTimeout))
			r.Post("/sessions/{sessionID}/execute", s.handleExecute)
			r.Post("/batches/{batchID}/corrections/confirm", s.handleConfirmCorrection)
		})
	})
}

// limitUploads applies the stricter upload rate limit when rate limiting is
// enabled.
func (s *Server) limitUploads(next http.Handler) http.Handler {
	if s.uploadLimiter == nil {
		return next
	}
	return s.uploadLimiter.middleware(next)
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(enableCSP bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Prevent MIME type sniffing
			w.Header().Set("X-Content-Type-Options", "nosniff")

			// Prevent clickjacking
			w.Header().Set("X-Frame-Options", "DENY")

			// Control referrer information
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

			// The API serves JSON and file downloads only; block everything
			if enableCSP {
				w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			}

			next.ServeHTTP(w, r)
		})
	}
}

// rateLimiter implements a simple token bucket rate limiter per IP.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int           // requests per window
	window   time.Duration // time window
}

type visitor struct {
	tokens    int
	lastReset time.Time
}

// newRateLimiter creates a rate limiter with the specified rate per window.
func newRateLimiter(rate int, window time.Duration) *rateLimiter {
	rl := &rateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		window:   window,
	}
	// Start cleanup goroutine
	go rl.cleanup()
	return rl
}

// cleanup removes stale visitor entries every minute.
func (rl *rateLimiter) cleanup() {
	for {
		time.Sleep(time.Minute)
		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if time.Since(v.lastReset) > rl.window*2 {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// allow checks if the request should be allowed and consumes a token if so.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[ip]
	if !exists {
		rl.visitors[ip] = &visitor{
			tokens:    rl.rate - 1, // consume one token
			lastReset: time.Now(),
		}
		return true
	}

	// Reset tokens if window has passed
	if time.Since(v.lastReset) > rl.window {
		v.tokens = rl.rate - 1
		v.lastReset = time.Now()
		return true
	}

	// Check if we have tokens left
	if v.tokens <= 0 {
		return false
	}

	v.tokens--
	return true
}

// middleware returns an HTTP middleware that rate limits by IP.
// TrustedRealIP has already resolved proxy headers into RemoteAddr, so the
// raw headers are never consulted here.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientIP(r)) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIP strips the port from RemoteAddr so every connection from one
// client lands in the same bucket.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// writeError writes a bare JSON error response without going through the
// error mapping. Middleware uses it; handlers should prefer respondError.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeJSON encodes v as JSON and writes it to w.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
