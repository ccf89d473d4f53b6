package store

import (
	"context"
	"database/sql"
	"fmt"
)

const libraryColumns = `id, name, description, location, created_at, updated_at`

// LibraryUpdate carries the fields to change on a library. Nil fields are
// left unchanged.
type LibraryUpdate struct {
	Name        *string
	Description *string
	Location    *string
}

// CreateLibrary inserts a new library, assigning its ID and timestamps.
func (s *Store) CreateLibrary(ctx context.Context, lib *Library) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertLibrary(ctx, tx, lib); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateLibraryWithLibrarian inserts a library together with its first
// librarian in one transaction. Either both rows exist afterwards or
// neither does.
func (s *Store) CreateLibraryWithLibrarian(ctx context.Context, lib *Library, first *Librarian) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertLibrary(ctx, tx, lib); err != nil {
		return err
	}
	first.LibraryID = lib.ID
	if err := insertLibrarian(ctx, tx, first); err != nil {
		return err
	}
	return tx.Commit()
}

func insertLibrary(ctx context.Context, tx *sql.Tx, lib *Library) error {
	if lib.ID == "" {
		lib.ID = NewID(PrefixLibrary)
	}
	ts := now()
	lib.CreatedAt, lib.UpdatedAt = ts, ts

	_, err := tx.ExecContext(ctx,
		`INSERT INTO libraries (id, name, description, location, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		lib.ID, lib.Name, stringOrNull(lib.Description), stringOrNull(lib.Location), ts.Unix(), ts.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert library: %w", err)
	}
	return nil
}

// GetLibrary retrieves a library by ID.
func (s *Store) GetLibrary(ctx context.Context, id string) (*Library, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+libraryColumns+` FROM libraries WHERE id = ?`, id)
	lib, err := scanLibrary(row)
	if err == sql.ErrNoRows {
		return nil, ErrLibraryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get library: %w", err)
	}
	return lib, nil
}

// ListLibraries returns all libraries ordered by name.
func (s *Store) ListLibraries(ctx context.Context) ([]*Library, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+libraryColumns+` FROM libraries ORDER BY name COLLATE NOCASE, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list libraries: %w", err)
	}
	defer rows.Close()

	var libs []*Library
	for rows.Next() {
		lib, err := scanLibrary(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan library: %w", err)
		}
		libs = append(libs, lib)
	}
	return libs, rows.Err()
}

// UpdateLibrary applies the non-nil fields of upd and returns the result.
func (s *Store) UpdateLibrary(ctx context.Context, id string, upd LibraryUpdate) (*Library, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	lib, err := scanLibrary(tx.QueryRowContext(ctx, `SELECT `+libraryColumns+` FROM libraries WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrLibraryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get library: %w", err)
	}

	if upd.Name != nil {
		lib.Name = *upd.Name
	}
	if upd.Description != nil {
		lib.Description = upd.Description
	}
	if upd.Location != nil {
		lib.Location = upd.Location
	}
	lib.UpdatedAt = now()

	_, err = tx.ExecContext(ctx,
		`UPDATE libraries SET name = ?, description = ?, location = ?, updated_at = ? WHERE id = ?`,
		lib.Name, stringOrNull(lib.Description), stringOrNull(lib.Location), lib.UpdatedAt.Unix(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update library: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return lib, nil
}

// GetLibraryStats counts a library's librarians, books and open loans.
func (s *Store) GetLibraryStats(ctx context.Context, id string) (*LibraryStats, error) {
	var stats LibraryStats
	err := s.db.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(*) FROM librarians WHERE library_id = ?),
			(SELECT COUNT(*) FROM books WHERE library_id = ?),
			(SELECT COUNT(*) FROM loans l JOIN books b ON b.id = l.book_id
			 WHERE b.library_id = ? AND l.returned_at IS NULL)`,
		id, id, id,
	).Scan(&stats.Librarians, &stats.Books, &stats.ActiveLoans)
	if err != nil {
		return nil, fmt.Errorf("failed to count library contents: %w", err)
	}
	return &stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLibrary(row rowScanner) (*Library, error) {
	var lib Library
	var description, location sql.NullString
	var createdAt, updatedAt int64
	if err := row.Scan(&lib.ID, &lib.Name, &description, &location, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	lib.Description = nullableString(description)
	lib.Location = nullableString(location)
	lib.CreatedAt = fromUnix(createdAt)
	lib.UpdatedAt = fromUnix(updatedAt)
	return &lib, nil
}
