package core

import (
	"context"
	"errors"
	"strings"

	"github.com/eflynch/usufruit/pkg/apperr"
	"github.com/eflynch/usufruit/pkg/audit"
	"github.com/eflynch/usufruit/pkg/authz"
	"github.com/eflynch/usufruit/pkg/bearer"
	"github.com/eflynch/usufruit/pkg/store"
)

// Authenticate returns the librarian whose secret key equals secret, or nil
// when there is none. The key is located through its unique index and then
// compared in constant time.
func (s *Service) Authenticate(ctx context.Context, secret string) (*store.Librarian, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, nil
	}
	l, err := s.store.GetLibrarianBySecretKey(ctx, secret)
	if errors.Is(err, store.ErrLibrarianNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, s.storeError(ctx, err)
	}
	if !bearer.Equal(l.SecretKey, secret) {
		return nil, nil
	}
	return l, nil
}

// LookupBySecret implements bearer.Lookup.
func (s *Service) LookupBySecret(ctx context.Context, secret string) (*bearer.Identity, error) {
	l, err := s.Authenticate(ctx, secret)
	if err != nil || l == nil {
		return nil, err
	}
	return IdentityOf(l), nil
}

// IdentityOf builds the bearer identity of a librarian.
func IdentityOf(l *store.Librarian) *bearer.Identity {
	return &bearer.Identity{
		LibrarianID: l.ID,
		LibraryID:   l.LibraryID,
		Name:        l.Name,
		IsSuper:     l.IsSuper,
	}
}

// Session is the result of a successful login.
type Session struct {
	Librarian *store.Librarian
	Library   *store.Library
}

// LoginRequest identifies the caller for a login check.
type LoginRequest struct {
	SecretKey string `json:"secretKey" validate:"required"`
	LibraryID string `json:"-"` // Optional: require membership of this library
	IP        string `json:"-"`
}

// Login checks a secret key, optionally against a specific library, and
// returns the librarian with their library. Failures are Unauthorized and
// audited with the key's fingerprint only.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*Session, error) {
	req.SecretKey = strings.TrimSpace(req.SecretKey)
	if err := s.check(req); err != nil {
		return nil, err
	}
	requestID := authz.RequestIDFromContext(ctx)

	if req.LibraryID != "" {
		if _, err := s.requireLibrary(ctx, req.LibraryID); err != nil {
			return nil, err
		}
	}

	l, err := s.Authenticate(ctx, req.SecretKey)
	if err != nil {
		return nil, err
	}
	if l == nil || (req.LibraryID != "" && l.LibraryID != req.LibraryID) {
		reason := "unknown_secret"
		if l != nil {
			reason = "wrong_library"
		}
		s.emit(audit.NewAuthFailure(req.LibraryID, bearer.Fingerprint(req.SecretKey), req.IP, reason, "POST", "login", requestID))
		return nil, apperr.Unauthorized("invalid secret key")
	}

	lib, err := s.requireLibrary(ctx, l.LibraryID)
	if err != nil {
		return nil, err
	}
	s.emit(audit.NewAuthSuccess(l.LibraryID, l.ID, req.IP, requestID))
	return &Session{Librarian: l, Library: lib}, nil
}
