package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// appName names the XDG data directory and database file.
const appName = "usufruit"

// ID prefixes for each entity type.
const (
	PrefixLibrary   = "lib_"
	PrefixLibrarian = "lbr_"
	PrefixBook      = "bk_"
	PrefixLoan      = "ln_"
)

// idLength is the number of hex characters taken from a UUID for entity IDs.
const idLength = 16

// Store provides persistence for libraries, librarians, books and loans.
type Store struct {
	db *sql.DB
}

// DefaultPath returns the default database path following the XDG spec.
func DefaultPath() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, _ := os.UserHomeDir()
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, appName, appName+".db")
}

// NewID returns a fresh identifier with the given prefix.
func NewID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:idLength]
}

// Open opens or creates a SQLite database at the given path.
//
// Pragmas are passed through the DSN so that every pooled connection gets
// them, not only the first one. Transactions start with BEGIN IMMEDIATE:
// check-then-act sequences (borrow, delete with reassignment) take the
// write lock before their first read.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	params := url.Values{}
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "journal_mode(WAL)")
	params.Set("_txlock", "immediate")
	dsn := "file:" + path + "?" + params.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate creates the schema if it doesn't exist and applies migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS libraries (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		location TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS librarians (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		contact_info TEXT NOT NULL,
		is_super INTEGER NOT NULL DEFAULT 0,
		secret_key TEXT NOT NULL,
		library_id TEXT NOT NULL REFERENCES libraries(id),
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_librarians_secret_key ON librarians(secret_key);
	CREATE INDEX IF NOT EXISTS idx_librarians_library ON librarians(library_id);

	CREATE TABLE IF NOT EXISTS books (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		author TEXT,
		description TEXT,
		borrow_duration_days INTEGER NOT NULL CHECK (borrow_duration_days >= 1),
		organizing_rules TEXT,
		check_in_instructions TEXT,
		check_out_instructions TEXT,
		library_id TEXT NOT NULL REFERENCES libraries(id),
		librarian_id TEXT NOT NULL REFERENCES librarians(id),
		embedding BLOB,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_books_library ON books(library_id);
	CREATE INDEX IF NOT EXISTS idx_books_librarian ON books(librarian_id);

	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		book_id TEXT NOT NULL REFERENCES books(id),
		librarian_id TEXT NOT NULL REFERENCES librarians(id),
		borrowed_at INTEGER NOT NULL,
		due_date INTEGER,
		returned_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_loans_book ON loans(book_id);
	CREATE INDEX IF NOT EXISTS idx_loans_librarian ON loans(librarian_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_loans_active_book ON loans(book_id) WHERE returned_at IS NULL;

	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		severity INTEGER NOT NULL,
		library_id TEXT,
		actor_id TEXT,
		target_id TEXT,
		request_id TEXT,
		details TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_audit_library ON audit_log(library_id, timestamp);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Columns added after the initial schema. Errors for columns that
	// already exist are ignored.
	migrations := []string{
		"ALTER TABLE books ADD COLUMN embedded_at INTEGER",
	}
	for _, m := range migrations {
		s.db.Exec(m)
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
// This should only be used in tests to manipulate state for testing edge cases.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SupportsCaseInsensitiveContains reports whether lexical search matches
// case-insensitively. SQLite's LIKE folds ASCII case.
func (s *Store) SupportsCaseInsensitiveContains() bool {
	return true
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

// now returns the current time truncated to the second resolution the
// schema stores.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

func fromUnix(v int64) time.Time {
	return time.Unix(v, 0).UTC()
}

func nullableUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromUnix(v.Int64)
	return &t
}

func unixOrNull(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func nullableString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func stringOrNull(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// blobOrNull binds an empty blob as NULL.
func blobOrNull(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// escapeLike escapes LIKE wildcards so user input matches literally.
// Queries using it must declare ESCAPE '\'.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// ListOptions controls pagination and filtering of list queries.
type ListOptions struct {
	Offset int
	Limit  int    // 0 means no limit
	Search string // Case-insensitive substring filter
}

func (o ListOptions) limitClause() string {
	if o.Limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d OFFSET %d", o.Limit, o.Offset)
}
