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

// ListBooks returns a page of a library's books. With a search term it runs
// a hybrid search; otherwise books are listed by title.
func (s *Service) ListBooks(ctx context.Context, actor *bearer.Identity, libraryID string, p ListParams) (*search.Result, error) {
	if _, err := s.requireLibrary(ctx, libraryID); err != nil {
		return nil, err
	}
	query := strings.TrimSpace(p.Search)
	action := authz.ActionBookRead
	if query != "" {
		action = authz.ActionSearchQuery
	}
	if err := s.authorize(ctx, actor, action, authz.Resource{UID: "*", Type: authz.ResourceBook, LibraryID: libraryID}, nil); err != nil {
		return nil, err
	}

	if query != "" {
		return s.SearchBooks(ctx, libraryID, query, p.Page, p.Limit)
	}

	page, limit := p.normalize()
	books, total, err := s.store.ListBooks(ctx, libraryID, p.options())
	if err != nil {
		return nil, s.storeError(ctx, err)
	}
	result := &search.Result{
		Hits:       make([]search.Hit, len(books)),
		Pagination: search.NewPagination(page, limit, total),
	}
	for i, b := range books {
		result.Hits[i] = search.Hit{Book: b, Source: search.SourceLexical}
	}
	return result, nil
}

// SearchBooks runs a hybrid search without an authorization check; book
// search is public.
func (s *Service) SearchBooks(ctx context.Context, libraryID, query string, page, limit int) (*search.Result, error) {
	result, err := s.search.Search(ctx, libraryID, query, page, limit)
	if err != nil {
		return nil, s.storeError(ctx, err)
	}
	return result, nil
}

// GetBook returns a book with its active loan, if any.
func (s *Service) GetBook(ctx context.Context, actor *bearer.Identity, libraryID, bookID string) (*store.Book, error) {
	b, err := s.requireBook(ctx, libraryID, bookID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, authz.ActionBookRead, bookResource(b), nil); err != nil {
		return nil, err
	}
	return b, nil
}

// CreateBookInput describes a new book. LibrarianID names the owner and
// defaults to the actor.
type CreateBookInput struct {
	Title                string  `json:"title" validate:"required,max=300"`
	Author               *string `json:"author" validate:"omitempty,max=300"`
	Description          *string `json:"description" validate:"omitempty,max=5000"`
	BorrowDurationDays   int     `json:"borrowDurationDays" validate:"min=1,max=3650"`
	OrganizingRules      *string `json:"organizingRules" validate:"omitempty,max=2000"`
	CheckInInstructions  *string `json:"checkInInstructions" validate:"omitempty,max=2000"`
	CheckOutInstructions *string `json:"checkOutInstructions" validate:"omitempty,max=2000"`
	LibrarianID          string  `json:"librarianId" validate:"required"`
}

// CreateBook adds a book to a library. Librarians may add books they own;
// super librarians may add books for anyone in their library. The book is
// queued for embedding and never waits for it.
func (s *Service) CreateBook(ctx context.Context, actor *bearer.Identity, libraryID string, in CreateBookInput) (*store.Book, error) {
	if actor == nil {
		req := authz.AuthzRequest{Principal: authz.Anonymous(), Action: authz.ActionBookCreate}
		return nil, authz.DenialError(req, authz.AuthzDecision{})
	}
	in.Title = strings.TrimSpace(in.Title)
	in.LibrarianID = strings.TrimSpace(in.LibrarianID)
	if in.LibrarianID == "" {
		in.LibrarianID = actor.LibrarianID
	}
	in.Author = emptyToNil(in.Author)
	in.Description = emptyToNil(in.Description)
	in.OrganizingRules = emptyToNil(in.OrganizingRules)
	in.CheckInInstructions = emptyToNil(in.CheckInInstructions)
	in.CheckOutInstructions = emptyToNil(in.CheckOutInstructions)
	if err := s.check(in); err != nil {
		return nil, err
	}

	if _, err := s.requireLibrary(ctx, libraryID); err != nil {
		return nil, err
	}
	if _, err := s.requireLibrarian(ctx, libraryID, in.LibrarianID); err != nil {
		return nil, err
	}
	res := authz.Resource{UID: "new", Type: authz.ResourceBook, LibraryID: libraryID, OwnerID: in.LibrarianID}
	if err := s.authorize(ctx, actor, authz.ActionBookCreate, res, nil); err != nil {
		return nil, err
	}

	b := &store.Book{
		Title:                in.Title,
		Author:               in.Author,
		Description:          in.Description,
		BorrowDurationDays:   in.BorrowDurationDays,
		OrganizingRules:      in.OrganizingRules,
		CheckInInstructions:  in.CheckInInstructions,
		CheckOutInstructions: in.CheckOutInstructions,
		LibraryID:            libraryID,
		LibrarianID:          in.LibrarianID,
	}
	if err := s.store.CreateBook(ctx, b); err != nil {
		return nil, s.storeError(ctx, err)
	}

	s.search.Invalidate(libraryID)
	s.enqueue(ctx, b.ID)
	return b, nil
}

// UpdateBookInput carries book fields to change. Nil fields are kept.
// Setting LibrarianID reassigns the book.
type UpdateBookInput struct {
	Title                *string `json:"title" validate:"omitempty,max=300"`
	Author               *string `json:"author" validate:"omitempty,max=300"`
	Description          *string `json:"description" validate:"omitempty,max=5000"`
	BorrowDurationDays   *int    `json:"borrowDurationDays" validate:"omitempty,min=1,max=3650"`
	OrganizingRules      *string `json:"organizingRules" validate:"omitempty,max=2000"`
	CheckInInstructions  *string `json:"checkInInstructions" validate:"omitempty,max=2000"`
	CheckOutInstructions *string `json:"checkOutInstructions" validate:"omitempty,max=2000"`
	LibrarianID          *string `json:"librarianId"`
}

// UpdateBook changes a book. The owner or a super librarian of the library
// may do so. A new owner must belong to the same library.
func (s *Service) UpdateBook(ctx context.Context, actor *bearer.Identity, libraryID, bookID string, in UpdateBookInput) (*store.Book, error) {
	in.Title = trimPtr(in.Title)
	in.Author = trimPtr(in.Author)
	in.Description = trimPtr(in.Description)
	in.OrganizingRules = trimPtr(in.OrganizingRules)
	in.CheckInInstructions = trimPtr(in.CheckInInstructions)
	in.CheckOutInstructions = trimPtr(in.CheckOutInstructions)
	in.LibrarianID = trimPtr(in.LibrarianID)
	if in.Title != nil && *in.Title == "" {
		return nil, apperr.Validation("title must not be empty")
	}
	if in.LibrarianID != nil && *in.LibrarianID == "" {
		return nil, apperr.Validation("librarianId must not be empty")
	}
	if in.BorrowDurationDays != nil && *in.BorrowDurationDays < 1 {
		return nil, apperr.Validation("borrowDurationDays must be at least 1")
	}
	if err := s.check(in); err != nil {
		return nil, err
	}

	b, err := s.requireBook(ctx, libraryID, bookID)
	if err != nil {
		return nil, err
	}
	if in.LibrarianID != nil && *in.LibrarianID != b.LibrarianID {
		if _, err := s.requireLibrarian(ctx, libraryID, *in.LibrarianID); err != nil {
			return nil, err
		}
	}
	if err := s.authorize(ctx, actor, authz.ActionBookUpdate, bookResource(b), nil); err != nil {
		return nil, err
	}

	upd := store.BookUpdate{
		Title:                in.Title,
		Author:               in.Author,
		Description:          in.Description,
		BorrowDurationDays:   in.BorrowDurationDays,
		OrganizingRules:      in.OrganizingRules,
		CheckInInstructions:  in.CheckInInstructions,
		CheckOutInstructions: in.CheckOutInstructions,
		LibrarianID:          in.LibrarianID,
	}
	updated, err := s.store.UpdateBook(ctx, bookID, upd)
	if err != nil {
		return nil, s.storeError(ctx, err)
	}

	s.search.Invalidate(libraryID)
	if upd.TextChanged() {
		s.enqueue(ctx, bookID)
	}
	return updated, nil
}

// DeleteBook removes a book and its loan history. A book on loan cannot be
// deleted.
func (s *Service) DeleteBook(ctx context.Context, actor *bearer.Identity, libraryID, bookID string) error {
	b, err := s.requireBook(ctx, libraryID, bookID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, actor, authz.ActionBookDelete, bookResource(b), nil); err != nil {
		return err
	}
	if b.ActiveLoan != nil {
		return apperr.Conflict("book is on loan and cannot be deleted")
	}
	if err := s.store.DeleteBook(ctx, bookID); err != nil {
		return s.storeError(ctx, err)
	}

	s.search.Invalidate(libraryID)
	s.emit(audit.NewBookDeleted(libraryID, actorID(actor), bookID, b.Title, authz.RequestIDFromContext(ctx)))
	return nil
}

// enqueue schedules embedding of a book. A full queue is logged; lazy
// backfill picks the book up later.
func (s *Service) enqueue(ctx context.Context, bookID string) {
	if s.queue == nil || !s.search.SemanticEnabled() {
		return
	}
	if !s.queue.Enqueue(bookID) {
		s.logger.WarnContext(ctx, "embedding queue full, deferring to backfill", "book_id", bookID)
	}
}
