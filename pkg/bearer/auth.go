package bearer

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/eflynch/usufruit/pkg/audit"
	"github.com/eflynch/usufruit/pkg/authz"
)

// Identity is an authenticated librarian.
type Identity struct {
	LibrarianID string
	LibraryID   string
	Name        string
	IsSuper     bool
}

// Lookup resolves a secret key. It returns nil, nil for an unknown secret.
type Lookup interface {
	LookupBySecret(ctx context.Context, secret string) (*Identity, error)
}

type contextKey int

const identityKey contextKey = iota

// IdentityFromContext returns the authenticated identity, or nil for an
// anonymous request.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}

// ContextWithIdentity returns a context carrying identity.
func ContextWithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// Middleware resolves bearer credentials on every request.
type Middleware struct {
	lookup  Lookup
	logger  *slog.Logger
	emitter audit.EventEmitter
}

// Option configures a Middleware.
type Option func(*Middleware)

// WithLogger sets the logger for the middleware.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Middleware) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithAuditEmitter records authentication failures through emitter.
func WithAuditEmitter(emitter audit.EventEmitter) Option {
	return func(m *Middleware) {
		if emitter != nil {
			m.emitter = emitter
		}
	}
}

// NewMiddleware creates a bearer middleware backed by lookup.
func NewMiddleware(lookup Lookup, opts ...Option) *Middleware {
	m := &Middleware{
		lookup:  lookup,
		logger:  slog.Default(),
		emitter: audit.NopEmitter{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Wrap wraps next with credential resolution. A malformed header is
// rejected with 401; an unknown secret continues as anonymous after an
// auth.failure event; a lookup failure is a 503.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				m.logger.Error("panic in auth middleware",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "internal", "internal server error")
			}
		}()

		secret, err := ParseHeader(r.Header.Get("Authorization"))
		if err != nil {
			m.Failure(r, "", "", "malformed_header")
			writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		if secret == "" {
			next.ServeHTTP(w, r)
			return
		}

		identity, err := m.lookup.LookupBySecret(r.Context(), secret)
		if err != nil {
			m.logger.ErrorContext(r.Context(), "identity lookup failed",
				"fingerprint", Fingerprint(secret),
				"error", err,
			)
			writeError(w, http.StatusServiceUnavailable, "dependency", "authentication backend unavailable")
			return
		}
		if identity == nil {
			m.Failure(r, "", Fingerprint(secret), "unknown_secret")
			next.ServeHTTP(w, r)
			return
		}

		m.logger.DebugContext(r.Context(), "auth.success",
			"librarian_id", identity.LibrarianID,
			"library_id", identity.LibraryID,
			"method", r.Method,
			"path", r.URL.Path,
		)
		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
	})
}

// Failure logs and audits a rejected credential. libraryID may be empty
// when the request is not scoped to a library.
func (m *Middleware) Failure(r *http.Request, libraryID, fingerprint, reason string) {
	ip := ClientIP(r)
	m.logger.WarnContext(r.Context(), "auth.failure",
		"reason", reason,
		"fingerprint", fingerprint,
		"method", r.Method,
		"path", sanitizeForLog(r.URL.Path),
		"ip", ip,
	)
	if err := m.emitter.Emit(audit.NewAuthFailure(libraryID, fingerprint, ip, reason, r.Method, sanitizeForLog(r.URL.Path), authz.RequestIDFromContext(r.Context()))); err != nil {
		m.logger.Error("audit emit failed", "event", string(audit.EventAuthFailure), "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
		"code":  code,
	})
}

// sanitizeForLog strips control characters and truncates long values.
func sanitizeForLog(s string) string {
	result := strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)
	if len(result) > 256 {
		result = result[:256] + "..."
	}
	return result
}

// ClientIP returns the caller's address, preferring proxy headers.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return strings.Trim(host, "[]")
}
