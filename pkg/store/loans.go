package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const loanSelect = `SELECT l.id, l.book_id, l.librarian_id, l.borrowed_at, l.due_date, l.returned_at,
	l.created_at, l.updated_at, b.title
	FROM loans l JOIN books b ON b.id = l.book_id`

// LoanFilter narrows library-wide loan listings.
type LoanFilter struct {
	ActiveOnly  bool
	LibrarianID string // Borrower
}

// BorrowBook opens loan for its book. The check for an existing open loan
// and the insert run in one IMMEDIATE transaction, so of any number of
// concurrent borrows of the same book exactly one succeeds; the rest get
// ErrBookOnLoan. The borrower must belong to the book's library.
func (s *Store) BorrowBook(ctx context.Context, loan *Loan) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var bookLibrary string
	err = tx.QueryRowContext(ctx, `SELECT library_id FROM books WHERE id = ?`, loan.BookID).Scan(&bookLibrary)
	if err == sql.ErrNoRows {
		return ErrBookNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get book: %w", err)
	}

	var borrowerLibrary string
	err = tx.QueryRowContext(ctx, `SELECT library_id FROM librarians WHERE id = ?`, loan.LibrarianID).Scan(&borrowerLibrary)
	if err == sql.ErrNoRows || (err == nil && borrowerLibrary != bookLibrary) {
		return ErrLibrarianNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get borrower: %w", err)
	}

	var open int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM loans WHERE book_id = ? AND returned_at IS NULL`, loan.BookID,
	).Scan(&open)
	if err != nil {
		return fmt.Errorf("failed to check open loans: %w", err)
	}
	if open > 0 {
		return ErrBookOnLoan
	}

	if loan.ID == "" {
		loan.ID = NewID(PrefixLoan)
	}
	ts := now()
	if loan.BorrowedAt.IsZero() {
		loan.BorrowedAt = ts
	}
	loan.BorrowedAt = loan.BorrowedAt.UTC().Truncate(time.Second)
	loan.ReturnedAt = nil
	loan.CreatedAt, loan.UpdatedAt = ts, ts

	_, err = tx.ExecContext(ctx,
		`INSERT INTO loans (id, book_id, librarian_id, borrowed_at, due_date, returned_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, NULL, ?, ?)`,
		loan.ID, loan.BookID, loan.LibrarianID, loan.BorrowedAt.Unix(), unixOrNull(loan.DueDate), ts.Unix(), ts.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrBookOnLoan
		}
		return fmt.Errorf("failed to insert loan: %w", err)
	}
	return tx.Commit()
}

// ReturnLoan closes an open loan. Returning a loan that is already closed
// yields ErrLoanReturned and leaves the original return time unchanged.
func (s *Store) ReturnLoan(ctx context.Context, id string, returnedAt time.Time) (*Loan, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	loan, err := scanLoan(tx.QueryRowContext(ctx, loanSelect+` WHERE l.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrLoanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	if !loan.Active() {
		return nil, ErrLoanReturned
	}

	returnedAt = returnedAt.UTC().Truncate(time.Second)
	ts := now()
	res, err := tx.ExecContext(ctx,
		`UPDATE loans SET returned_at = ?, updated_at = ? WHERE id = ? AND returned_at IS NULL`,
		returnedAt.Unix(), ts.Unix(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to return loan: %w", err)
	}
	if rowsAffected(res) == 0 {
		return nil, ErrLoanReturned
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	loan.ReturnedAt = &returnedAt
	loan.UpdatedAt = ts
	return loan, nil
}

// GetLoan retrieves a loan by ID.
func (s *Store) GetLoan(ctx context.Context, id string) (*Loan, error) {
	loan, err := scanLoan(s.db.QueryRowContext(ctx, loanSelect+` WHERE l.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrLoanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return loan, nil
}

// ListLoansByBook returns a book's loan history, newest first.
func (s *Store) ListLoansByBook(ctx context.Context, bookID string) ([]*Loan, error) {
	return s.queryLoans(ctx, loanSelect+` WHERE l.book_id = ? ORDER BY l.borrowed_at DESC, l.id`, bookID)
}

// ListLoansByLibrary returns loans of the library's books, newest first.
func (s *Store) ListLoansByLibrary(ctx context.Context, libraryID string, filter LoanFilter) ([]*Loan, error) {
	query := loanSelect + ` WHERE b.library_id = ?`
	args := []any{libraryID}
	if filter.ActiveOnly {
		query += ` AND l.returned_at IS NULL`
	}
	if filter.LibrarianID != "" {
		query += ` AND l.librarian_id = ?`
		args = append(args, filter.LibrarianID)
	}
	query += ` ORDER BY l.borrowed_at DESC, l.id`
	return s.queryLoans(ctx, query, args...)
}

func (s *Store) queryLoans(ctx context.Context, query string, args ...any) ([]*Loan, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query loans: %w", err)
	}
	defer rows.Close()

	var loans []*Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan: %w", err)
		}
		loans = append(loans, loan)
	}
	return loans, rows.Err()
}

func scanLoan(row rowScanner) (*Loan, error) {
	var l Loan
	var borrowedAt, createdAt, updatedAt int64
	var dueDate, returnedAt sql.NullInt64
	err := row.Scan(&l.ID, &l.BookID, &l.LibrarianID, &borrowedAt, &dueDate, &returnedAt,
		&createdAt, &updatedAt, &l.BookTitle)
	if err != nil {
		return nil, err
	}
	l.BorrowedAt = fromUnix(borrowedAt)
	l.DueDate = nullableUnix(dueDate)
	l.ReturnedAt = nullableUnix(returnedAt)
	l.CreatedAt = fromUnix(createdAt)
	l.UpdatedAt = fromUnix(updatedAt)
	return &l, nil
}
