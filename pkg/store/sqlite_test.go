package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary SQLite database for testing.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
		os.Remove(dbPath)
	})

	return store
}

// seedLibrary creates a library with a super librarian and a regular one.
func seedLibrary(t *testing.T, s *Store, name string) (*Library, *Librarian, *Librarian) {
	t.Helper()
	ctx := context.Background()

	lib := &Library{Name: name}
	super := &Librarian{Name: name + " admin", ContactInfo: "admin@example.org", IsSuper: true, SecretKey: NewID("sk_")}
	require.NoError(t, s.CreateLibraryWithLibrarian(ctx, lib, super))

	regular := &Librarian{Name: name + " member", ContactInfo: "member@example.org", SecretKey: NewID("sk_"), LibraryID: lib.ID}
	require.NoError(t, s.CreateLibrarian(ctx, regular))
	return lib, super, regular
}

func seedBook(t *testing.T, s *Store, lib *Library, owner *Librarian, title string) *Book {
	t.Helper()
	b := &Book{Title: title, BorrowDurationDays: 14, LibraryID: lib.ID, LibrarianID: owner.ID}
	require.NoError(t, s.CreateBook(context.Background(), b))
	return b
}

func TestOpenCreatesSchema(t *testing.T) {
	t.Parallel()
	t.Log("Testing: Open creates tables and is idempotent")

	dbPath := filepath.Join(t.TempDir(), "nested", "usufruit.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(dbPath)
	require.NoError(t, err)
	defer s.Close()

	for _, table := range []string{"libraries", "librarians", "books", "loans", "audit_log"} {
		var n int
		err := s.DB().QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "table %s", table)
	}
	assert.NoError(t, s.Ping(context.Background()))
	assert.True(t, s.SupportsCaseInsensitiveContains())
}

func TestForeignKeysEnforced(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	t.Log("Testing: foreign_keys pragma applies to pooled connections")

	_, err := s.DB().Exec(`INSERT INTO books (id, title, borrow_duration_days, library_id, librarian_id, created_at, updated_at)
		VALUES ('bk_x', 'orphan', 7, 'lib_missing', 'lbr_missing', 0, 0)`)
	assert.Error(t, err)
}

func TestNewID(t *testing.T) {
	t.Parallel()
	a, b := NewID(PrefixBook), NewID(PrefixBook)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, len(PrefixBook)+idLength)
	assert.Equal(t, PrefixBook, a[:len(PrefixBook)])
}

func TestEscapeLike(t *testing.T) {
	t.Parallel()
	assert.Equal(t, `100\%`, escapeLike("100%"))
	assert.Equal(t, `snake\_case`, escapeLike("snake_case"))
	assert.Equal(t, `back\\slash`, escapeLike(`back\slash`))
}
