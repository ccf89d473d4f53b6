package core

import (
	"context"
	"strings"
	"time"

	"github.com/eflynch/usufruit/pkg/apperr"
	"github.com/eflynch/usufruit/pkg/audit"
	"github.com/eflynch/usufruit/pkg/authz"
	"github.com/eflynch/usufruit/pkg/bearer"
	"github.com/eflynch/usufruit/pkg/store"
	"github.com/eflynch/usufruit/pkg/timeutil"
)

// BorrowInput names the borrower. An empty LibrarianID means the actor.
type BorrowInput struct {
	LibrarianID string `json:"librarianId"`
}

// BorrowBook checks a book out. The due date is the borrow time plus the
// book's borrow duration in calendar days. Of concurrent borrows of one
// book exactly one succeeds; the others get Conflict.
func (s *Service) BorrowBook(ctx context.Context, actor *bearer.Identity, libraryID, bookID string, in BorrowInput) (*store.Loan, error) {
	b, err := s.requireBook(ctx, libraryID, bookID)
	if err != nil {
		return nil, err
	}
	borrower := strings.TrimSpace(in.LibrarianID)
	if borrower != "" {
		if _, err := s.requireLibrarian(ctx, libraryID, borrower); err != nil {
			return nil, err
		}
	}
	if err := s.authorize(ctx, actor, authz.ActionLoanBorrow, bookResource(b), nil); err != nil {
		return nil, err
	}
	if borrower == "" {
		borrower = actor.LibrarianID
	}
	if b.ActiveLoan != nil {
		return nil, apperr.Conflict("book is already on loan")
	}

	// Stored timestamps have second precision.
	borrowedAt := s.now().UTC().Truncate(time.Second)
	due := timeutil.AddDays(borrowedAt, b.BorrowDurationDays)
	loan := &store.Loan{
		BookID:      b.ID,
		LibrarianID: borrower,
		BorrowedAt:  borrowedAt,
		DueDate:     &due,
	}
	if err := s.store.BorrowBook(ctx, loan); err != nil {
		return nil, s.storeError(ctx, err)
	}
	loan.BookTitle = b.Title

	s.emit(audit.NewLoanBorrowed(libraryID, actorID(actor), loan.ID, b.ID, borrower, loan.DueDate, authz.RequestIDFromContext(ctx)))
	s.logger.InfoContext(ctx, "book borrowed",
		"library_id", libraryID,
		"book_id", b.ID,
		"loan_id", loan.ID,
		"borrower_id", borrower,
	)
	return loan, nil
}

// ReturnLoan checks a loan back in. The loan must belong to the book;
// returning it twice yields Conflict.
func (s *Service) ReturnLoan(ctx context.Context, actor *bearer.Identity, libraryID, bookID, loanID string) (*store.Loan, error) {
	b, err := s.requireBook(ctx, libraryID, bookID)
	if err != nil {
		return nil, err
	}
	loanID = strings.TrimSpace(loanID)
	if loanID == "" {
		return nil, apperr.Validation("loanId is required")
	}
	loan, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, s.storeError(ctx, err)
	}
	if loan.BookID != b.ID {
		return nil, apperr.NotFound("loan not found")
	}
	if err := s.authorize(ctx, actor, authz.ActionLoanReturn, bookResource(b), nil); err != nil {
		return nil, err
	}

	returned, err := s.store.ReturnLoan(ctx, loanID, s.now())
	if err != nil {
		return nil, s.storeError(ctx, err)
	}

	s.emit(audit.NewLoanReturned(libraryID, actorID(actor), returned.ID, b.ID, authz.RequestIDFromContext(ctx)))
	s.logger.InfoContext(ctx, "book returned",
		"library_id", libraryID,
		"book_id", b.ID,
		"loan_id", returned.ID,
	)
	return returned, nil
}

// LoanHistory returns a book's loans, newest first.
func (s *Service) LoanHistory(ctx context.Context, actor *bearer.Identity, libraryID, bookID string) ([]*store.Loan, error) {
	b, err := s.requireBook(ctx, libraryID, bookID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, authz.ActionLoanRead, bookResource(b), nil); err != nil {
		return nil, err
	}
	loans, err := s.store.ListLoansByBook(ctx, b.ID)
	if err != nil {
		return nil, s.storeError(ctx, err)
	}
	return loans, nil
}

// LoanFilter narrows ListLoans.
type LoanFilter struct {
	ActiveOnly  bool
	LibrarianID string
}

// ListLoans returns the loans of a library's books, newest first.
func (s *Service) ListLoans(ctx context.Context, actor *bearer.Identity, libraryID string, f LoanFilter) ([]*store.Loan, error) {
	if _, err := s.requireLibrary(ctx, libraryID); err != nil {
		return nil, err
	}
	res := authz.Resource{UID: "*", Type: authz.ResourceLoan, LibraryID: libraryID}
	if err := s.authorize(ctx, actor, authz.ActionLoanRead, res, nil); err != nil {
		return nil, err
	}
	loans, err := s.store.ListLoansByLibrary(ctx, libraryID, store.LoanFilter{
		ActiveOnly:  f.ActiveOnly,
		LibrarianID: strings.TrimSpace(f.LibrarianID),
	})
	if err != nil {
		return nil, s.storeError(ctx, err)
	}
	return loans, nil
}

// Overdue reports whether a loan is open past its due date.
func (s *Service) Overdue(l *store.Loan) bool {
	return timeutil.Overdue(l.DueDate, l.ReturnedAt, s.now())
}
