package core

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/eflynch/usufruit/pkg/apperr"
	"github.com/eflynch/usufruit/pkg/audit"
	"github.com/eflynch/usufruit/pkg/authz"
	"github.com/eflynch/usufruit/pkg/bearer"
	"github.com/eflynch/usufruit/pkg/search"
	"github.com/eflynch/usufruit/pkg/store"
)

// Enqueuer schedules background embedding of a book.
type Enqueuer interface {
	Enqueue(bookID string) bool
}

// Config holds the dependencies of a Service.
type Config struct {
	Store      *store.Store
	Authorizer *authz.Authorizer
	Search     *search.Engine
	Queue      Enqueuer           // Optional; without it books are embedded by backfill only
	Emitter    audit.EventEmitter // Optional; defaults to audit.NopEmitter
	Logger     *slog.Logger
	Now        func() time.Time // Optional clock for tests
}

// Service implements the core operations.
type Service struct {
	store    *store.Store
	authz    *authz.Authorizer
	search   *search.Engine
	queue    Enqueuer
	emitter  audit.EventEmitter
	logger   *slog.Logger
	now      func() time.Time
	validate *validator.Validate
}

// New creates a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil || cfg.Authorizer == nil || cfg.Search == nil {
		return nil, errors.New("core: store, authorizer and search engine are required")
	}
	s := &Service{
		store:    cfg.Store,
		authz:    cfg.Authorizer,
		search:   cfg.Search,
		queue:    cfg.Queue,
		emitter:  cfg.Emitter,
		logger:   cfg.Logger,
		now:      cfg.Now,
		validate: newValidator(),
	}
	if s.emitter == nil {
		s.emitter = audit.NopEmitter{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// newValidator reports field names using their json tags.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// check validates in and converts failures into a Validation error naming
// the first offending field.
func (s *Service) check(in any) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperr.Validation("invalid request: %v", err)
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return apperr.Validation("%s is required", fe.Field())
	case "min":
		if fe.Kind() == reflect.String {
			return apperr.Validation("%s must not be empty", fe.Field())
		}
		return apperr.Validation("%s must be at least %s", fe.Field(), fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return apperr.Validation("%s must be at most %s characters", fe.Field(), fe.Param())
		}
		return apperr.Validation("%s must be at most %s", fe.Field(), fe.Param())
	default:
		return apperr.Validation("%s is invalid", fe.Field())
	}
}

// principal converts the acting identity into an authorization principal.
func principal(actor *bearer.Identity) authz.Principal {
	if actor == nil {
		return authz.Anonymous()
	}
	return authz.Principal{
		UID:       actor.LibrarianID,
		Type:      authz.PrincipalLibrarian,
		Super:     actor.IsSuper,
		LibraryID: actor.LibraryID,
	}
}

func actorID(actor *bearer.Identity) string {
	if actor == nil {
		return ""
	}
	return actor.LibrarianID
}

// authorize asks the policy engine and converts a denial into Unauthorized
// or Forbidden. Denials of authenticated librarians are audited.
func (s *Service) authorize(ctx context.Context, actor *bearer.Identity, action string, res authz.Resource, reqCtx map[string]any) error {
	req := authz.AuthzRequest{
		Principal: principal(actor),
		Action:    action,
		Resource:  res,
		Context:   reqCtx,
	}
	decision := s.authz.Authorize(ctx, req)
	if decision.Allowed {
		return nil
	}
	if actor != nil {
		s.emit(audit.NewAuthzDenied(res.LibraryID, actor.LibrarianID, action, res.UID, decision.PolicyID, authz.RequestIDFromContext(ctx)))
	}
	return authz.DenialError(req, decision)
}

func (s *Service) emit(ev audit.Event) {
	if err := s.emitter.Emit(ev); err != nil {
		s.logger.Error("audit emit failed", "event", string(ev.Type), "error", err)
	}
}

// storeError classifies a store error. Unknown errors are treated as an
// unavailable backend.
func (s *Service) storeError(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrLibraryNotFound):
		return apperr.NotFound("library not found")
	case errors.Is(err, store.ErrLibrarianNotFound):
		return apperr.NotFound("librarian not found")
	case errors.Is(err, store.ErrBookNotFound):
		return apperr.NotFound("book not found")
	case errors.Is(err, store.ErrLoanNotFound):
		return apperr.NotFound("loan not found")
	case errors.Is(err, store.ErrBookOnLoan):
		return apperr.Conflict("book is already on loan")
	case errors.Is(err, store.ErrLoanReturned):
		return apperr.Conflict("loan already returned")
	case errors.Is(err, store.ErrHasDependents):
		return apperr.Conflict("librarian has books or loans; set reassignBooksTo or deleteBooksAndLoans")
	case errors.Is(err, store.ErrInvalidReassignment):
		return apperr.Conflict("books can only be reassigned to another librarian of the same library")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperr.Dependency(err, "request cancelled")
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	s.logger.ErrorContext(ctx, "store operation failed", "request_id", authz.RequestIDFromContext(ctx), "error", err)
	return apperr.Dependency(err, "data store unavailable")
}

// requireLibrary loads a library or returns NotFound.
func (s *Service) requireLibrary(ctx context.Context, libraryID string) (*store.Library, error) {
	lib, err := s.store.GetLibrary(ctx, libraryID)
	if err != nil {
		return nil, s.storeError(ctx, err)
	}
	return lib, nil
}

// requireLibrarian loads a librarian that must belong to libraryID.
func (s *Service) requireLibrarian(ctx context.Context, libraryID, librarianID string) (*store.Librarian, error) {
	l, err := s.store.GetLibrarian(ctx, librarianID)
	if err != nil {
		return nil, s.storeError(ctx, err)
	}
	if l.LibraryID != libraryID {
		return nil, apperr.NotFound("librarian not found")
	}
	return l, nil
}

// requireBook loads a book that must belong to libraryID.
func (s *Service) requireBook(ctx context.Context, libraryID, bookID string) (*store.Book, error) {
	b, err := s.store.GetBook(ctx, bookID)
	if err != nil {
		return nil, s.storeError(ctx, err)
	}
	if b.LibraryID != libraryID {
		return nil, apperr.NotFound("book not found")
	}
	return b, nil
}

func libraryResource(id string) authz.Resource {
	return authz.Resource{UID: id, Type: authz.ResourceLibrary, LibraryID: id}
}

func librarianResource(l *store.Librarian) authz.Resource {
	return authz.Resource{UID: l.ID, Type: authz.ResourceLibrarian, LibraryID: l.LibraryID}
}

func bookResource(b *store.Book) authz.Resource {
	return authz.Resource{UID: b.ID, Type: authz.ResourceBook, LibraryID: b.LibraryID, OwnerID: b.LibrarianID}
}

// newSecret generates a secret key for a new librarian.
func newSecret() (string, error) {
	secret, err := bearer.GenerateSecret()
	if err != nil {
		return "", apperr.Wrap(apperr.Dependency(nil, "could not generate secret key"), err)
	}
	return secret, nil
}

// ListParams selects a page of a listing.
type ListParams struct {
	Page   int
	Limit  int
	Search string
}

func (p ListParams) normalize() (page, limit int) {
	return search.NormalizePage(p.Page, p.Limit)
}

func (p ListParams) options() store.ListOptions {
	page, limit := p.normalize()
	return store.ListOptions{Offset: (page - 1) * limit, Limit: limit, Search: strings.TrimSpace(p.Search)}
}

func trimPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	return &v
}

func emptyToNil(p *string) *string {
	if p == nil || strings.TrimSpace(*p) == "" {
		return nil
	}
	v := strings.TrimSpace(*p)
	return &v
}

// Ping checks that the data store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// SemanticEnabled reports whether book search extends lexical matches with
// embedding similarity.
func (s *Service) SemanticEnabled() bool {
	return s.search.SemanticEnabled()
}
