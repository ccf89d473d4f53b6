package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const librarianColumns = `id, name, contact_info, is_super, secret_key, library_id, created_at, updated_at`

// LibrarianDependents counts what would be orphaned by deleting a librarian.
type LibrarianDependents struct {
	Books int // Books the librarian owns
	Loans int // Loans, open or closed, where the librarian is the borrower
}

// Any reports whether there is anything to dispose of.
func (d LibrarianDependents) Any() bool {
	return d.Books > 0 || d.Loans > 0
}

// DeleteLibrarianOptions selects how dependents are disposed of. At most one
// of ReassignTo and Cascade may be set.
type DeleteLibrarianOptions struct {
	ReassignTo string // Librarian ID receiving books and loans
	Cascade    bool   // Delete owned books, their loans, and borrower loans
}

// DeleteLibrarianResult reports what a deletion touched.
type DeleteLibrarianResult struct {
	BooksReassigned int
	LoansReassigned int
	BooksDeleted    int
	LoansDeleted    int
}

// CreateLibrarian inserts a librarian. SecretKey must already be set.
func (s *Store) CreateLibrarian(ctx context.Context, l *Librarian) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM libraries WHERE id = ?`, l.LibraryID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check library: %w", err)
	}
	if exists == 0 {
		return ErrLibraryNotFound
	}

	if err := insertLibrarian(ctx, tx, l); err != nil {
		return err
	}
	return tx.Commit()
}

func insertLibrarian(ctx context.Context, tx *sql.Tx, l *Librarian) error {
	if l.ID == "" {
		l.ID = NewID(PrefixLibrarian)
	}
	if l.SecretKey == "" {
		return errors.New("librarian secret key is required")
	}
	ts := now()
	l.CreatedAt, l.UpdatedAt = ts, ts

	_, err := tx.ExecContext(ctx,
		`INSERT INTO librarians (id, name, contact_info, is_super, secret_key, library_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.Name, l.ContactInfo, l.IsSuper, l.SecretKey, l.LibraryID, ts.Unix(), ts.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateSecretKey
		}
		return fmt.Errorf("failed to insert librarian: %w", err)
	}
	return nil
}

// GetLibrarian retrieves a librarian by ID.
func (s *Store) GetLibrarian(ctx context.Context, id string) (*Librarian, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+librarianColumns+` FROM librarians WHERE id = ?`, id)
	l, err := scanLibrarian(row)
	if err == sql.ErrNoRows {
		return nil, ErrLibrarianNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get librarian: %w", err)
	}
	return l, nil
}

// GetLibrarianBySecretKey looks up the librarian holding secret.
// Returns ErrLibrarianNotFound when no librarian matches.
func (s *Store) GetLibrarianBySecretKey(ctx context.Context, secret string) (*Librarian, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+librarianColumns+` FROM librarians WHERE secret_key = ?`, secret)
	l, err := scanLibrarian(row)
	if err == sql.ErrNoRows {
		return nil, ErrLibrarianNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up librarian by key: %w", err)
	}
	return l, nil
}

// ListLibrarians returns a page of a library's librarians ordered by name,
// along with the total number matching opts.Search.
func (s *Store) ListLibrarians(ctx context.Context, libraryID string, opts ListOptions) ([]*Librarian, int, error) {
	where := ` WHERE library_id = ?`
	args := []any{libraryID}
	if opts.Search != "" {
		pattern := "%" + escapeLike(opts.Search) + "%"
		where += ` AND (name LIKE ? ESCAPE '\' OR contact_info LIKE ? ESCAPE '\')`
		args = append(args, pattern, pattern)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM librarians`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count librarians: %w", err)
	}

	query := `SELECT ` + librarianColumns + ` FROM librarians` + where +
		` ORDER BY name COLLATE NOCASE, id` + opts.limitClause()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list librarians: %w", err)
	}
	defer rows.Close()

	var out []*Librarian
	for rows.Next() {
		l, err := scanLibrarian(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan librarian: %w", err)
		}
		out = append(out, l)
	}
	return out, total, rows.Err()
}

// UpdateLibrarianDetails changes a librarian's name and/or contact info.
func (s *Store) UpdateLibrarianDetails(ctx context.Context, id string, name, contactInfo *string) (*Librarian, error) {
	return s.updateLibrarian(ctx, id, func(l *Librarian) {
		if name != nil {
			l.Name = *name
		}
		if contactInfo != nil {
			l.ContactInfo = *contactInfo
		}
	})
}

// SetLibrarianSuper sets or clears a librarian's super flag.
func (s *Store) SetLibrarianSuper(ctx context.Context, id string, isSuper bool) (*Librarian, error) {
	return s.updateLibrarian(ctx, id, func(l *Librarian) {
		l.IsSuper = isSuper
	})
}

// LibrarianUpdate lists the librarian fields to change. Nil fields are
// left as they are.
type LibrarianUpdate struct {
	IsSuper     *bool
	Name        *string
	ContactInfo *string
}

// UpdateLibrarian applies every field of u in a single transaction.
func (s *Store) UpdateLibrarian(ctx context.Context, id string, u LibrarianUpdate) (*Librarian, error) {
	return s.updateLibrarian(ctx, id, func(l *Librarian) {
		if u.IsSuper != nil {
			l.IsSuper = *u.IsSuper
		}
		if u.Name != nil {
			l.Name = *u.Name
		}
		if u.ContactInfo != nil {
			l.ContactInfo = *u.ContactInfo
		}
	})
}

func (s *Store) updateLibrarian(ctx context.Context, id string, apply func(*Librarian)) (*Librarian, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	l, err := scanLibrarian(tx.QueryRowContext(ctx, `SELECT `+librarianColumns+` FROM librarians WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrLibrarianNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get librarian: %w", err)
	}

	apply(l)
	l.UpdatedAt = now()

	_, err = tx.ExecContext(ctx,
		`UPDATE librarians SET name = ?, contact_info = ?, is_super = ?, updated_at = ? WHERE id = ?`,
		l.Name, l.ContactInfo, l.IsSuper, l.UpdatedAt.Unix(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update librarian: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return l, nil
}

// GetLibrarianDependents counts the books and loans tied to a librarian.
func (s *Store) GetLibrarianDependents(ctx context.Context, id string) (*LibrarianDependents, error) {
	return librarianDependents(ctx, s.db, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func librarianDependents(ctx context.Context, q queryRower, id string) (*LibrarianDependents, error) {
	var d LibrarianDependents
	err := q.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(*) FROM books WHERE librarian_id = ?),
			(SELECT COUNT(*) FROM loans WHERE librarian_id = ?)`,
		id, id,
	).Scan(&d.Books, &d.Loans)
	if err != nil {
		return nil, fmt.Errorf("failed to count librarian dependents: %w", err)
	}
	return &d, nil
}

// DeleteLibrarian removes a librarian and disposes of its dependents in a
// single transaction. With ReassignTo set, owned books and borrower loans
// move to that librarian, who must belong to the same library. With Cascade
// set, loans of owned books, the owned books, and borrower loans are
// deleted. With neither, the delete fails with ErrHasDependents if anything
// depends on the librarian. On any error nothing is changed.
func (s *Store) DeleteLibrarian(ctx context.Context, id string, opts DeleteLibrarianOptions) (*DeleteLibrarianResult, error) {
	if opts.ReassignTo != "" && opts.Cascade {
		return nil, errors.New("reassign and cascade are mutually exclusive")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var libraryID string
	err = tx.QueryRowContext(ctx, `SELECT library_id FROM librarians WHERE id = ?`, id).Scan(&libraryID)
	if err == sql.ErrNoRows {
		return nil, ErrLibrarianNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get librarian: %w", err)
	}

	deps, err := librarianDependents(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	result := &DeleteLibrarianResult{}
	ts := now().Unix()

	switch {
	case opts.ReassignTo != "":
		if opts.ReassignTo == id {
			return nil, ErrInvalidReassignment
		}
		var targetLibrary string
		err := tx.QueryRowContext(ctx, `SELECT library_id FROM librarians WHERE id = ?`, opts.ReassignTo).Scan(&targetLibrary)
		if err == sql.ErrNoRows || (err == nil && targetLibrary != libraryID) {
			return nil, ErrInvalidReassignment
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get reassignment target: %w", err)
		}

		res, err := tx.ExecContext(ctx, `UPDATE books SET librarian_id = ?, updated_at = ? WHERE librarian_id = ?`, opts.ReassignTo, ts, id)
		if err != nil {
			return nil, fmt.Errorf("failed to reassign books: %w", err)
		}
		result.BooksReassigned = rowsAffected(res)

		res, err = tx.ExecContext(ctx, `UPDATE loans SET librarian_id = ?, updated_at = ? WHERE librarian_id = ?`, opts.ReassignTo, ts, id)
		if err != nil {
			return nil, fmt.Errorf("failed to reassign loans: %w", err)
		}
		result.LoansReassigned = rowsAffected(res)

	case opts.Cascade:
		res, err := tx.ExecContext(ctx, `DELETE FROM loans WHERE book_id IN (SELECT id FROM books WHERE librarian_id = ?)`, id)
		if err != nil {
			return nil, fmt.Errorf("failed to delete loans of owned books: %w", err)
		}
		result.LoansDeleted = rowsAffected(res)

		res, err = tx.ExecContext(ctx, `DELETE FROM books WHERE librarian_id = ?`, id)
		if err != nil {
			return nil, fmt.Errorf("failed to delete owned books: %w", err)
		}
		result.BooksDeleted = rowsAffected(res)

		res, err = tx.ExecContext(ctx, `DELETE FROM loans WHERE librarian_id = ?`, id)
		if err != nil {
			return nil, fmt.Errorf("failed to delete borrower loans: %w", err)
		}
		result.LoansDeleted += rowsAffected(res)

	case deps.Any():
		return nil, ErrHasDependents
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM librarians WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("failed to delete librarian: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return result, nil
}

func rowsAffected(res sql.Result) int {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return int(n)
}

func scanLibrarian(row rowScanner) (*Librarian, error) {
	var l Librarian
	var createdAt, updatedAt int64
	err := row.Scan(&l.ID, &l.Name, &l.ContactInfo, &l.IsSuper, &l.SecretKey, &l.LibraryID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	l.CreatedAt = fromUnix(createdAt)
	l.UpdatedAt = fromUnix(updatedAt)
	return &l, nil
}
