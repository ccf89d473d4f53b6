package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// bookSelect joins each book with its open loan, if any. The partial unique
// index on open loans guarantees at most one joined row per book.
const bookSelect = `SELECT b.id, b.title, b.author, b.description, b.borrow_duration_days,
	b.organizing_rules, b.check_in_instructions, b.check_out_instructions,
	b.library_id, b.librarian_id, b.embedding, b.embedded_at, b.created_at, b.updated_at,
	l.id, l.librarian_id, l.borrowed_at, l.due_date, l.created_at, l.updated_at
	FROM books b
	LEFT JOIN loans l ON l.book_id = b.id AND l.returned_at IS NULL`

// lexicalMatch filters books whose title, author or description contains a
// pattern. It binds the same pattern three times.
const lexicalMatch = `(b.title LIKE ? ESCAPE '\' OR b.author LIKE ? ESCAPE '\' OR b.description LIKE ? ESCAPE '\')`

// BookUpdate carries the fields to change on a book. Nil fields are left
// unchanged. Changing the title, author or description clears the stored
// embedding so it is recomputed.
type BookUpdate struct {
	Title                *string
	Author               *string
	Description          *string
	BorrowDurationDays   *int
	OrganizingRules      *string
	CheckInInstructions  *string
	CheckOutInstructions *string
	LibrarianID          *string
}

// TextChanged reports whether the update touches embedded text.
func (u BookUpdate) TextChanged() bool {
	return u.Title != nil || u.Author != nil || u.Description != nil
}

// CreateBook inserts a book. The owning librarian must belong to the book's
// library.
func (s *Store) CreateBook(ctx context.Context, b *Book) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var ownerLibrary string
	err = tx.QueryRowContext(ctx, `SELECT library_id FROM librarians WHERE id = ?`, b.LibrarianID).Scan(&ownerLibrary)
	if err == sql.ErrNoRows {
		return ErrLibrarianNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get owner: %w", err)
	}
	if ownerLibrary != b.LibraryID {
		return ErrLibrarianNotFound
	}

	if b.ID == "" {
		b.ID = NewID(PrefixBook)
	}
	ts := now()
	b.CreatedAt, b.UpdatedAt = ts, ts

	_, err = tx.ExecContext(ctx,
		`INSERT INTO books (id, title, author, description, borrow_duration_days, organizing_rules,
			check_in_instructions, check_out_instructions, library_id, librarian_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Title, stringOrNull(b.Author), stringOrNull(b.Description), b.BorrowDurationDays,
		stringOrNull(b.OrganizingRules), stringOrNull(b.CheckInInstructions), stringOrNull(b.CheckOutInstructions),
		b.LibraryID, b.LibrarianID, ts.Unix(), ts.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert book: %w", err)
	}
	return tx.Commit()
}

// GetBook retrieves a book by ID with its open loan populated.
func (s *Store) GetBook(ctx context.Context, id string) (*Book, error) {
	b, err := scanBook(s.db.QueryRowContext(ctx, bookSelect+` WHERE b.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrBookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get book: %w", err)
	}
	return b, nil
}

// ListBooks returns a page of a library's books ordered by title, along
// with the total matching opts.Search. Search is a case-insensitive
// substring match over title, author and description.
func (s *Store) ListBooks(ctx context.Context, libraryID string, opts ListOptions) ([]*Book, int, error) {
	where := ` WHERE b.library_id = ?`
	args := []any{libraryID}
	if q := strings.TrimSpace(opts.Search); q != "" {
		pattern := "%" + escapeLike(q) + "%"
		where += ` AND ` + lexicalMatch
		args = append(args, pattern, pattern, pattern)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM books b`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count books: %w", err)
	}

	books, err := s.queryBooks(ctx, bookSelect+where+` ORDER BY b.title COLLATE NOCASE, b.id`+opts.limitClause(), args...)
	if err != nil {
		return nil, 0, err
	}
	return books, total, nil
}

// ListBooksByLibrarian returns the books a librarian owns.
func (s *Store) ListBooksByLibrarian(ctx context.Context, librarianID string) ([]*Book, error) {
	return s.queryBooks(ctx, bookSelect+` WHERE b.librarian_id = ? ORDER BY b.title COLLATE NOCASE, b.id`, librarianID)
}

// FilterLexicalMatches returns the subset of ids whose books in libraryID
// lexically match query.
func (s *Store) FilterLexicalMatches(ctx context.Context, libraryID, query string, ids []string) (map[string]bool, error) {
	matched := make(map[string]bool)
	q := strings.TrimSpace(query)
	if q == "" || len(ids) == 0 {
		return matched, nil
	}

	pattern := "%" + escapeLike(q) + "%"
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := []any{libraryID, pattern, pattern, pattern}
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT b.id FROM books b WHERE b.library_id = ? AND `+lexicalMatch+` AND b.id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to filter lexical matches: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan book id: %w", err)
		}
		matched[id] = true
	}
	return matched, rows.Err()
}

// ListEmbeddedBooks returns every book in the library that has an embedding.
func (s *Store) ListEmbeddedBooks(ctx context.Context, libraryID string) ([]*Book, error) {
	return s.queryBooks(ctx, bookSelect+` WHERE b.library_id = ? AND b.embedding IS NOT NULL ORDER BY b.id`, libraryID)
}

// CountEmbeddedBooks counts the books in the library that have an embedding.
func (s *Store) CountEmbeddedBooks(ctx context.Context, libraryID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM books WHERE library_id = ? AND embedding IS NOT NULL`, libraryID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count embedded books: %w", err)
	}
	return n, nil
}

// ListBooksMissingEmbedding returns up to limit books in the library that
// have no embedding, oldest first.
func (s *Store) ListBooksMissingEmbedding(ctx context.Context, libraryID string, limit int) ([]*Book, error) {
	return s.queryBooks(ctx,
		bookSelect+` WHERE b.library_id = ? AND b.embedding IS NULL ORDER BY b.created_at, b.id LIMIT ?`,
		libraryID, limit,
	)
}

// SetBookEmbedding stores an encoded embedding for a book.
func (s *Store) SetBookEmbedding(ctx context.Context, id string, embedding []byte) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE books SET embedding = ?, embedded_at = ? WHERE id = ?`,
		embedding, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}
	if rowsAffected(res) == 0 {
		return ErrBookNotFound
	}
	return nil
}

// UpdateBook applies the non-nil fields of upd. A new owner must belong to
// the book's library.
func (s *Store) UpdateBook(ctx context.Context, id string, upd BookUpdate) (*Book, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	b, err := scanBook(tx.QueryRowContext(ctx, bookSelect+` WHERE b.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrBookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get book: %w", err)
	}

	if upd.LibrarianID != nil && *upd.LibrarianID != b.LibrarianID {
		var ownerLibrary string
		err := tx.QueryRowContext(ctx, `SELECT library_id FROM librarians WHERE id = ?`, *upd.LibrarianID).Scan(&ownerLibrary)
		if err == sql.ErrNoRows || (err == nil && ownerLibrary != b.LibraryID) {
			return nil, ErrLibrarianNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get new owner: %w", err)
		}
		b.LibrarianID = *upd.LibrarianID
	}

	if upd.Title != nil {
		b.Title = *upd.Title
	}
	if upd.Author != nil {
		b.Author = upd.Author
	}
	if upd.Description != nil {
		b.Description = upd.Description
	}
	if upd.BorrowDurationDays != nil {
		b.BorrowDurationDays = *upd.BorrowDurationDays
	}
	if upd.OrganizingRules != nil {
		b.OrganizingRules = upd.OrganizingRules
	}
	if upd.CheckInInstructions != nil {
		b.CheckInInstructions = upd.CheckInInstructions
	}
	if upd.CheckOutInstructions != nil {
		b.CheckOutInstructions = upd.CheckOutInstructions
	}
	if upd.TextChanged() {
		b.Embedding = nil
		b.EmbeddedAt = nil
	}
	b.UpdatedAt = now()

	_, err = tx.ExecContext(ctx,
		`UPDATE books SET title = ?, author = ?, description = ?, borrow_duration_days = ?,
			organizing_rules = ?, check_in_instructions = ?, check_out_instructions = ?,
			librarian_id = ?, embedding = ?, embedded_at = ?, updated_at = ?
		 WHERE id = ?`,
		b.Title, stringOrNull(b.Author), stringOrNull(b.Description), b.BorrowDurationDays,
		stringOrNull(b.OrganizingRules), stringOrNull(b.CheckInInstructions), stringOrNull(b.CheckOutInstructions),
		b.LibrarianID, blobOrNull(b.Embedding), unixOrNull(b.EmbeddedAt), b.UpdatedAt.Unix(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update book: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return b, nil
}

// DeleteBook removes a book and its loan history. A book with an open loan
// cannot be deleted and yields ErrBookOnLoan.
func (s *Store) DeleteBook(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists, open int
	err = tx.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(*) FROM books WHERE id = ?),
			(SELECT COUNT(*) FROM loans WHERE book_id = ? AND returned_at IS NULL)`,
		id, id,
	).Scan(&exists, &open)
	if err != nil {
		return fmt.Errorf("failed to check book: %w", err)
	}
	if exists == 0 {
		return ErrBookNotFound
	}
	if open > 0 {
		return ErrBookOnLoan
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM loans WHERE book_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete loan history: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM books WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete book: %w", err)
	}
	return tx.Commit()
}

func (s *Store) queryBooks(ctx context.Context, query string, args ...any) ([]*Book, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query books: %w", err)
	}
	defer rows.Close()

	var books []*Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

func scanBook(row rowScanner) (*Book, error) {
	var b Book
	var author, description, rules, checkIn, checkOut sql.NullString
	var embeddedAt sql.NullInt64
	var createdAt, updatedAt int64
	var loanID, loanLibrarian sql.NullString
	var loanBorrowed, loanDue, loanCreated, loanUpdated sql.NullInt64

	err := row.Scan(
		&b.ID, &b.Title, &author, &description, &b.BorrowDurationDays,
		&rules, &checkIn, &checkOut,
		&b.LibraryID, &b.LibrarianID, &b.Embedding, &embeddedAt, &createdAt, &updatedAt,
		&loanID, &loanLibrarian, &loanBorrowed, &loanDue, &loanCreated, &loanUpdated,
	)
	if err != nil {
		return nil, err
	}

	b.Author = nullableString(author)
	b.Description = nullableString(description)
	b.OrganizingRules = nullableString(rules)
	b.CheckInInstructions = nullableString(checkIn)
	b.CheckOutInstructions = nullableString(checkOut)
	b.EmbeddedAt = nullableUnix(embeddedAt)
	b.CreatedAt = fromUnix(createdAt)
	b.UpdatedAt = fromUnix(updatedAt)

	if loanID.Valid {
		b.ActiveLoan = &Loan{
			ID:          loanID.String,
			BookID:      b.ID,
			LibrarianID: loanLibrarian.String,
			BorrowedAt:  fromUnix(loanBorrowed.Int64),
			DueDate:     nullableUnix(loanDue),
			CreatedAt:   fromUnix(loanCreated.Int64),
			UpdatedAt:   fromUnix(loanUpdated.Int64),
			BookTitle:   b.Title,
		}
	}
	return &b, nil
}
