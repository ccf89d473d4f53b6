package core

import (
	"context"
	"strings"

	"github.com/eflynch/usufruit/pkg/apperr"
	"github.com/eflynch/usufruit/pkg/audit"
	"github.com/eflynch/usufruit/pkg/authz"
	"github.com/eflynch/usufruit/pkg/bearer"
	"github.com/eflynch/usufruit/pkg/search"
	"github.com/eflynch/usufruit/pkg/store"
)

// redact returns a copy of l whose secret key is cleared unless actor may
// see it.
func redact(actor *bearer.Identity, l *store.Librarian) *store.Librarian {
	out := *l
	if !authz.SecretVisible(principal(actor), l.ID, l.LibraryID) {
		out.SecretKey = ""
	}
	return &out
}

// CreateLibrarianInput describes a new librarian.
type CreateLibrarianInput struct {
	Name        string `json:"name" validate:"required,max=200"`
	ContactInfo string `json:"contactInfo" validate:"required,max=500"`
	IsSuper     bool   `json:"isSuper"`
}

// CreateLibrarian adds a librarian to a library and returns it with its
// secret key. Anyone may join as a regular librarian; creating a super
// librarian requires a super librarian of the library.
func (s *Service) CreateLibrarian(ctx context.Context, actor *bearer.Identity, libraryID string, in CreateLibrarianInput) (*store.Librarian, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.ContactInfo = strings.TrimSpace(in.ContactInfo)
	if err := s.check(in); err != nil {
		return nil, err
	}
	if _, err := s.requireLibrary(ctx, libraryID); err != nil {
		return nil, err
	}

	action := authz.ActionLibrarianCreate
	if in.IsSuper {
		action = authz.ActionLibrarianCreateSuper
	}
	res := authz.Resource{UID: "new", Type: authz.ResourceLibrarian, LibraryID: libraryID}
	if err := s.authorize(ctx, actor, action, res, nil); err != nil {
		return nil, err
	}

	l := &store.Librarian{
		Name:        in.Name,
		ContactInfo: in.ContactInfo,
		IsSuper:     in.IsSuper,
		LibraryID:   libraryID,
	}
	if err := s.withSecret(l, func() error { return s.store.CreateLibrarian(ctx, l) }); err != nil {
		return nil, s.storeError(ctx, err)
	}

	s.emit(audit.NewLibrarianCreated(libraryID, actorID(actor), l.ID, l.IsSuper, authz.RequestIDFromContext(ctx)))
	return l, nil
}

// LibrarianPage is a page of librarians with secrets redacted for the
// requesting actor.
type LibrarianPage struct {
	Librarians []*store.Librarian
	Pagination search.Pagination
}

// ListLibrarians lists a library's librarians. Secret keys are visible to
// super librarians of the library; a regular librarian sees only their own.
func (s *Service) ListLibrarians(ctx context.Context, actor *bearer.Identity, libraryID string, p ListParams) (*LibrarianPage, error) {
	if _, err := s.requireLibrary(ctx, libraryID); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, authz.ActionLibrarianRead, authz.Resource{UID: "*", Type: authz.ResourceLibrarian, LibraryID: libraryID}, nil); err != nil {
		return nil, err
	}

	page, limit := p.normalize()
	list, total, err := s.store.ListLibrarians(ctx, libraryID, p.options())
	if err != nil {
		return nil, s.storeError(ctx, err)
	}

	out := &LibrarianPage{
		Librarians: make([]*store.Librarian, len(list)),
		Pagination: search.NewPagination(page, limit, total),
	}
	for i, l := range list {
		out.Librarians[i] = redact(actor, l)
	}
	return out, nil
}

// GetLibrarian returns one librarian, redacted for the actor.
func (s *Service) GetLibrarian(ctx context.Context, actor *bearer.Identity, libraryID, librarianID string) (*store.Librarian, error) {
	l, err := s.requireLibrarian(ctx, libraryID, librarianID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, authz.ActionLibrarianRead, librarianResource(l), nil); err != nil {
		return nil, err
	}
	return redact(actor, l), nil
}

// UpdateSuperStatus promotes or demotes a librarian. The actor must be a
// super librarian of the same library and may not demote themselves.
func (s *Service) UpdateSuperStatus(ctx context.Context, actor *bearer.Identity, libraryID, librarianID string, isSuper bool) (*store.Librarian, error) {
	return s.UpdateLibrarian(ctx, actor, libraryID, librarianID, UpdateLibrarianInput{IsSuper: &isSuper})
}

// UpdateLibrarianInput carries librarian fields to change. Nil fields are
// left alone.
type UpdateLibrarianInput struct {
	IsSuper     *bool   `json:"isSuper"`
	Name        *string `json:"name" validate:"omitempty,max=200"`
	ContactInfo *string `json:"contactInfo" validate:"omitempty,max=500"`
}

func (in UpdateLibrarianInput) hasDetails() bool {
	return in.Name != nil || in.ContactInfo != nil
}

// UpdateLibrarianDetails changes a librarian's name or contact details.
// Librarians may edit themselves; super librarians may edit anyone in
// their library.
func (s *Service) UpdateLibrarianDetails(ctx context.Context, actor *bearer.Identity, libraryID, librarianID string, in UpdateLibrarianInput) (*store.Librarian, error) {
	in.IsSuper = nil
	return s.UpdateLibrarian(ctx, actor, libraryID, librarianID, in)
}

// UpdateLibrarian applies a super status change and a details change
// together. Both are validated and authorized before anything is written,
// and the write is one transaction, so a refused or invalid half leaves
// the librarian untouched.
func (s *Service) UpdateLibrarian(ctx context.Context, actor *bearer.Identity, libraryID, librarianID string, in UpdateLibrarianInput) (*store.Librarian, error) {
	in.Name = trimPtr(in.Name)
	in.ContactInfo = trimPtr(in.ContactInfo)
	if in.Name != nil && *in.Name == "" {
		return nil, apperr.Validation("name must not be empty")
	}
	if in.ContactInfo != nil && *in.ContactInfo == "" {
		return nil, apperr.Validation("contactInfo must not be empty")
	}
	if err := s.check(in); err != nil {
		return nil, err
	}

	target, err := s.requireLibrarian(ctx, libraryID, librarianID)
	if err != nil {
		return nil, err
	}
	if in.IsSuper != nil {
		err = s.authorize(ctx, actor, authz.ActionLibrarianSetSuper, librarianResource(target),
			map[string]any{"is_super": *in.IsSuper})
		if err != nil {
			return nil, err
		}
		if target.IsSuper == *in.IsSuper {
			in.IsSuper = nil
		}
	}
	if in.hasDetails() {
		if err := s.authorize(ctx, actor, authz.ActionLibrarianUpdateDetails, librarianResource(target), nil); err != nil {
			return nil, err
		}
	}
	if in.IsSuper == nil && !in.hasDetails() {
		return redact(actor, target), nil
	}

	updated, err := s.store.UpdateLibrarian(ctx, librarianID, store.LibrarianUpdate{
		IsSuper:     in.IsSuper,
		Name:        in.Name,
		ContactInfo: in.ContactInfo,
	})
	if err != nil {
		return nil, s.storeError(ctx, err)
	}

	reqID := authz.RequestIDFromContext(ctx)
	if in.IsSuper != nil {
		s.emit(audit.NewSuperStatusChanged(libraryID, actorID(actor), librarianID, *in.IsSuper, reqID))
		s.logger.InfoContext(ctx, "super status changed",
			"library_id", libraryID,
			"librarian_id", librarianID,
			"is_super", *in.IsSuper,
			"actor_id", actorID(actor),
		)
	}
	if in.hasDetails() {
		s.emit(audit.NewLibrarianUpdated(libraryID, actorID(actor), librarianID, reqID))
	}
	return redact(actor, updated), nil
}

// DeleteLibrarianInput chooses what happens to a librarian's books and
// loans. At most one field may be set.
type DeleteLibrarianInput struct {
	ReassignBooksTo     string `json:"reassignBooksTo"`
	DeleteBooksAndLoans bool   `json:"deleteBooksAndLoans"`
}

// DeleteLibrarian removes a librarian. A librarian who owns books or has
// loans can only be removed with a disposition: reassign everything to
// another librarian of the same library, or delete the books and loans.
// The whole change is atomic.
func (s *Service) DeleteLibrarian(ctx context.Context, actor *bearer.Identity, libraryID, librarianID string, in DeleteLibrarianInput) (*store.DeleteLibrarianResult, error) {
	in.ReassignBooksTo = strings.TrimSpace(in.ReassignBooksTo)
	if in.ReassignBooksTo != "" && in.DeleteBooksAndLoans {
		return nil, apperr.Validation("reassignBooksTo and deleteBooksAndLoans are mutually exclusive")
	}

	target, err := s.requireLibrarian(ctx, libraryID, librarianID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, authz.ActionLibrarianDelete, librarianResource(target), nil); err != nil {
		return nil, err
	}

	result, err := s.store.DeleteLibrarian(ctx, librarianID, store.DeleteLibrarianOptions{
		ReassignTo: in.ReassignBooksTo,
		Cascade:    in.DeleteBooksAndLoans,
	})
	if err != nil {
		return nil, s.storeError(ctx, err)
	}

	disposition, books, loans := audit.DispositionNone, 0, 0
	switch {
	case in.ReassignBooksTo != "":
		disposition, books, loans = audit.DispositionReassign, result.BooksReassigned, result.LoansReassigned
	case in.DeleteBooksAndLoans:
		disposition, books, loans = audit.DispositionCascade, result.BooksDeleted, result.LoansDeleted
	}
	if books > 0 {
		s.search.Invalidate(libraryID)
	}

	s.emit(audit.NewLibrarianDeleted(libraryID, actorID(actor), librarianID, disposition, in.ReassignBooksTo, books, loans, authz.RequestIDFromContext(ctx)))
	s.logger.InfoContext(ctx, "librarian deleted",
		"library_id", libraryID,
		"librarian_id", librarianID,
		"disposition", disposition,
		"books", books,
		"loans", loans,
	)
	return result, nil
}
