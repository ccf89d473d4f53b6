package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/eflynch/usufruit/pkg/apperr"
	"github.com/eflynch/usufruit/pkg/audit"
	"github.com/eflynch/usufruit/pkg/authz"
	"github.com/eflynch/usufruit/pkg/bearer"
	"github.com/eflynch/usufruit/pkg/core"
	"github.com/eflynch/usufruit/pkg/embed"
)

// DefaultMaxBodyBytes caps request bodies.
const DefaultMaxBodyBytes = 1 << 20

// QueueStatser reports embedding queue counters for /health.
type QueueStatser interface {
	Stats() embed.QueueStats
}

// ServerConfig holds configuration options for the API server.
type ServerConfig struct {
	// Queue is reported by /health when set.
	Queue QueueStatser

	// Emitter receives authentication failure events from the bearer
	// middleware. Defaults to audit.NopEmitter.
	Emitter audit.EventEmitter

	// MaxBodyBytes caps request bodies. Defaults to DefaultMaxBodyBytes.
	MaxBodyBytes int64

	Logger *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	svc     *core.Service
	cfg     ServerConfig
	logger  *slog.Logger
	auth    *bearer.Middleware
	started time.Time
}

// NewServer creates an API server over svc.
func NewServer(svc *core.Service, cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Emitter == nil {
		cfg.Emitter = audit.NopEmitter{}
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Server{
		svc:     svc,
		cfg:     cfg,
		logger:  cfg.Logger,
		auth:    bearer.NewMiddleware(svc, bearer.WithLogger(cfg.Logger), bearer.WithAuditEmitter(cfg.Emitter)),
		started: time.Now(),
	}
}

// RegisterRoutes registers all API routes.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	// Health (no credential needed)
	mux.HandleFunc("GET /health", s.handleHealth)

	// Authentication
	mux.HandleFunc("POST /api/v1/auth", s.handleAuth)

	// Library routes
	mux.HandleFunc("GET /api/v1/libraries", s.handleListLibraries)
	mux.HandleFunc("POST /api/v1/libraries", s.handleCreateLibrary)
	mux.HandleFunc("GET /api/v1/libraries/{libraryId}", s.handleGetLibrary)
	mux.HandleFunc("PUT /api/v1/libraries/{libraryId}", s.handleUpdateLibrary)
	mux.HandleFunc("POST /api/v1/libraries/{libraryId}/login", s.handleLibraryLogin)

	// Librarian routes
	mux.HandleFunc("GET /api/v1/libraries/{libraryId}/librarians", s.handleListLibrarians)
	mux.HandleFunc("POST /api/v1/libraries/{libraryId}/librarians", s.handleCreateLibrarian)
	mux.HandleFunc("GET /api/v1/libraries/{libraryId}/librarians/{librarianId}", s.handleGetLibrarian)
	mux.HandleFunc("PATCH /api/v1/libraries/{libraryId}/librarians/{librarianId}", s.handleUpdateLibrarian)
	mux.HandleFunc("DELETE /api/v1/libraries/{libraryId}/librarians/{librarianId}", s.handleDeleteLibrarian)

	// Book routes
	mux.HandleFunc("GET /api/v1/libraries/{libraryId}/books", s.handleListBooks)
	mux.HandleFunc("POST /api/v1/libraries/{libraryId}/books", s.handleCreateBook)
	mux.HandleFunc("GET /api/v1/libraries/{libraryId}/books/{bookId}", s.handleGetBook)
	mux.HandleFunc("PUT /api/v1/libraries/{libraryId}/books/{bookId}", s.handleUpdateBook)
	mux.HandleFunc("DELETE /api/v1/libraries/{libraryId}/books/{bookId}", s.handleDeleteBook)

	// Loan routes
	mux.HandleFunc("GET /api/v1/libraries/{libraryId}/books/{bookId}/loans", s.handleLoanHistory)
	mux.HandleFunc("POST /api/v1/libraries/{libraryId}/books/{bookId}/loans", s.handleBorrow)
	mux.HandleFunc("PATCH /api/v1/libraries/{libraryId}/books/{bookId}/loans", s.handleLoanAction)
	mux.HandleFunc("GET /api/v1/libraries/{libraryId}/loans", s.handleListLoans)

	// Audit routes
	mux.HandleFunc("GET /api/v1/libraries/{libraryId}/audit", s.handleListAudit)
}

// Handler returns the routes wrapped in the middleware chain:
// request id -> logging -> CORS -> bearer auth -> routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return requestIDMiddleware(loggingMiddleware(s.logger, corsMiddleware(s.auth.Wrap(mux))))
}

// ----- Helpers -----

func actor(r *http.Request) *bearer.Identity {
	return bearer.IdentityFromContext(r.Context())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeError maps err to its status and writes the public message. Server
// side failures are logged with their cause.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	kind := apperr.KindOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"request_id", authz.RequestIDFromContext(r.Context()),
			"error", err,
		)
	}
	writeJSON(w, status, errorResponse{Error: apperr.PublicMessage(err), Code: string(kind)})
}

// decodeJSON reads the request body into dst. An empty body leaves dst
// unchanged.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.Validation("request body too large")
		}
		return apperr.Validation("invalid JSON body")
	}
	return nil
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validation("%s must be an integer", name)
	}
	return v, nil
}

// queryBool parses an optional boolean query parameter.
func queryBool(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperr.Validation("%s must be true or false", name)
	}
	return v, nil
}

func listParams(r *http.Request) (core.ListParams, error) {
	page, err := queryInt(r, "page")
	if err != nil {
		return core.ListParams{}, err
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		return core.ListParams{}, err
	}
	return core.ListParams{Page: page, Limit: limit, Search: r.URL.Query().Get("search")}, nil
}
