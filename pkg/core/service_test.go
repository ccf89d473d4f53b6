package core

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eflynch/usufruit/pkg/apperr"
	"github.com/eflynch/usufruit/pkg/audit"
	"github.com/eflynch/usufruit/pkg/authz"
	"github.com/eflynch/usufruit/pkg/bearer"
	"github.com/eflynch/usufruit/pkg/embed"
	"github.com/eflynch/usufruit/pkg/search"
	"github.com/eflynch/usufruit/pkg/store"
)

// recordingEmitter keeps emitted events for assertions.
type recordingEmitter struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingEmitter) Emit(ev audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingEmitter) ofType(t audit.EventType) []audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []audit.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// countingQueue records enqueued book IDs.
type countingQueue struct {
	mu  sync.Mutex
	ids []string
}

func (q *countingQueue) Enqueue(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, id)
	return true
}

func (q *countingQueue) enqueued() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.ids...)
}

type testEnv struct {
	svc   *Service
	store *store.Store
	rec   *recordingEmitter
	queue *countingQueue
	now   time.Time
}

func setupTestService(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "core.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	az, err := authz.NewAuthorizer(authz.Config{Logger: logger})
	require.NoError(t, err)
	engine, err := search.NewEngine(st, search.Config{
		Semantic: true,
		Embedder: embed.NewHashEmbedder(64),
		Logger:   logger,
	})
	require.NoError(t, err)

	env := &testEnv{
		store: st,
		rec:   &recordingEmitter{},
		queue: &countingQueue{},
		now:   time.Date(2025, time.January, 20, 15, 30, 0, 0, time.UTC),
	}
	env.svc, err = New(Config{
		Store:      st,
		Authorizer: az,
		Search:     engine,
		Queue:      env.queue,
		Emitter:    audit.NewMultiEmitter(logger, audit.NewStoreEmitter(st), env.rec),
		Logger:     logger,
		Now:        func() time.Time { return env.now },
	})
	require.NoError(t, err)
	return env
}

// seedLibrary creates a library with a founding super librarian.
func (e *testEnv) seedLibrary(t *testing.T, name string) (*store.Library, *store.Librarian) {
	t.Helper()
	created, err := e.svc.CreateLibrary(context.Background(), nil, CreateLibraryInput{
		Name:           name,
		FirstLibrarian: &FirstLibrarianInput{Name: name + " founder", ContactInfo: "founder@example.com"},
	})
	require.NoError(t, err)
	return created.Library, created.FirstLibrarian
}

// join self-registers a regular librarian.
func (e *testEnv) join(t *testing.T, libraryID, name string) *store.Librarian {
	t.Helper()
	l, err := e.svc.CreateLibrarian(context.Background(), nil, libraryID, CreateLibrarianInput{
		Name:        name,
		ContactInfo: name + "@example.com",
	})
	require.NoError(t, err)
	return l
}

func (e *testEnv) addBook(t *testing.T, owner *store.Librarian, title string) *store.Book {
	t.Helper()
	b, err := e.svc.CreateBook(context.Background(), IdentityOf(owner), owner.LibraryID, CreateBookInput{
		Title:              title,
		BorrowDurationDays: 14,
		LibrarianID:        owner.ID,
	})
	require.NoError(t, err)
	return b
}

func assertKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, apperr.KindOf(err), "unexpected error: %v", err)
}

func TestNew_RequiresDependencies(t *testing.T) {
	t.Parallel()
	t.Log("Testing: New rejects a config without store, authorizer or engine")

	_, err := New(Config{})
	assert.Error(t, err)
}

func TestAuthenticate_RoundTrip(t *testing.T) {
	t.Parallel()
	env := setupTestService(t)
	ctx := context.Background()
	lib, _ := env.seedLibrary(t, "Tool Shed")
	alice := env.join(t, lib.ID, "alice")

	t.Log("Testing: the returned secret authenticates as the same librarian")
	got, err := env.svc.Authenticate(ctx, alice.SecretKey)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, alice.ID, got.ID)

	t.Log("Testing: unknown and empty secrets authenticate as nobody")
	got, err = env.svc.Authenticate(ctx, "not-a-real-secret")
	require.NoError(t, err)
	assert.Nil(t, got)
	got, err = env.svc.Authenticate(ctx, "   ")
	require.NoError(t, err)
	assert.Nil(t, got)

	t.Log("Testing: LookupBySecret yields the bearer identity")
	id, err := env.svc.LookupBySecret(ctx, alice.SecretKey)
	require.NoError(t, err)
	assert.Equal(t, &bearer.Identity{LibrarianID: alice.ID, LibraryID: lib.ID, Name: "alice"}, id)
}

func TestLogin(t *testing.T) {
	t.Parallel()
	env := setupTestService(t)
	ctx := context.Background()
	libA, founder := env.seedLibrary(t, "A")
	libB, _ := env.seedLibrary(t, "B")

	t.Log("Testing: login without a library resolves the librarian and library")
	sess, err := env.svc.Login(ctx, LoginRequest{SecretKey: founder.SecretKey})
	require.NoError(t, err)
	assert.Equal(t, founder.ID, sess.Librarian.ID)
	assert.Equal(t, libA.ID, sess.Library.ID)

	t.Log("Testing: login against another library is Unauthorized")
	_, err = env.svc.Login(ctx, LoginRequest{SecretKey: founder.SecretKey, LibraryID: libB.ID})
	assertKind(t, err, apperr.KindUnauthorized)

	t.Log("Testing: unknown secret is Unauthorized and audited without the secret")
	_, err = env.svc.Login(ctx, LoginRequest{SecretKey: "guess", LibraryID: libA.ID})
	assertKind(t, err, apperr.KindUnauthorized)
	assert.NotContains(t, err.Error(), "guess")

	failures := env.rec.ofType(audit.EventAuthFailure)
	require.Len(t, failures, 2)
	for _, ev := range failures {
		for _, v := range ev.Details {
			assert.NotContains(t, v, founder.SecretKey)
			assert.NotEqual(t, "guess", v)
		}
	}
	assert.Len(t, env.rec.ofType(audit.EventAuthSuccess), 1)

	t.Log("Testing: missing secret is a Validation error")
	_, err = env.svc.Login(ctx, LoginRequest{})
	assertKind(t, err, apperr.KindValidation)
}

func TestCreateLibrary(t *testing.T) {
	t.Parallel()
	env := setupTestService(t)
	ctx := context.Background()

	t.Log("Testing: a library can be created anonymously without a first librarian")
	created, err := env.svc.CreateLibrary(ctx, nil, CreateLibraryInput{Name: "  Seed Bank  "})
	require.NoError(t, err)
	assert.Equal(t, "Seed Bank", created.Library.Name)
	assert.Nil(t, created.FirstLibrarian)

	t.Log("Testing: the first librarian is a super librarian with a secret")
	lib, founder := env.seedLibrary(t, "Tool Shed")
	assert.True(t, founder.IsSuper)
	assert.NotEmpty(t, founder.SecretKey)
	assert.Equal(t, lib.ID, founder.LibraryID)

	t.Log("Testing: an empty name is rejected")
	_, err = env.svc.CreateLibrary(ctx, nil, CreateLibraryInput{Name: "   "})
	assertKind(t, err, apperr.KindValidation)

	detail, err := env.svc.GetLibrary(ctx, nil, lib.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, detail.Stats.Librarians)

	_, err = env.svc.GetLibrary(ctx, nil, "lib_missing")
	assertKind(t, err, apperr.KindNotFound)
}

func TestUpdateLibrary(t *testing.T) {
	t.Parallel()
	env := setupTestService(t)
	ctx := context.Background()
	lib, founder := env.seedLibrary(t, "Tool Shed")
	regular := env.join(t, lib.ID, "bob")
	_, otherFounder := env.seedLibrary(t, "Other")

	name := "Tool Library"
	tests := []struct {
		name  string
		actor *bearer.Identity
		kind  apperr.Kind
	}{
		{"anonymous", nil, apperr.KindUnauthorized},
		{"regular librarian", IdentityOf(regular), apperr.KindForbidden},
		{"super of another library", IdentityOf(otherFounder), apperr.KindForbidden},
	}
	for _, tt := range tests {
		t.Logf("Testing: %s cannot update the library", tt.name)
		_, err := env.svc.UpdateLibrary(ctx, tt.actor, lib.ID, UpdateLibraryInput{Name: &name})
		assertKind(t, err, tt.kind)
	}

	t.Log("Testing: the super librarian updates the library")
	updated, err := env.svc.UpdateLibrary(ctx, IdentityOf(founder), lib.ID, UpdateLibraryInput{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, name, updated.Name)
	assert.Len(t, env.rec.ofType(audit.EventLibraryUpdated), 1)

	t.Log("Testing: denials of authenticated librarians are audited")
	assert.NotEmpty(t, env.rec.ofType(audit.EventAuthzDenied))
}

func TestListAuditEvents(t *testing.T) {
	t.Parallel()
	env := setupTestService(t)
	ctx := context.Background()
	lib, founder := env.seedLibrary(t, "Tool Shed")
	regular := env.join(t, lib.ID, "carol")

	_, err := env.svc.UpdateSuperStatus(ctx, IdentityOf(founder), lib.ID, regular.ID, true)
	require.NoError(t, err)

	t.Log("Testing: anonymous callers cannot read the audit trail")
	_, err = env.svc.ListAuditEvents(ctx, nil, lib.ID, AuditQuery{})
	assertKind(t, err, apperr.KindUnauthorized)

	t.Log("Testing: super librarians read the library's audit trail")
	entries, err := env.svc.ListAuditEvents(ctx, IdentityOf(founder), lib.ID, AuditQuery{
		EventType: string(audit.EventLibrarianPromoted),
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, founder.ID, entries[0].ActorID)
	assert.Equal(t, regular.ID, entries[0].TargetID)

	t.Log("Testing: unknown event types are rejected")
	_, err = env.svc.ListAuditEvents(ctx, IdentityOf(founder), lib.ID, AuditQuery{EventType: "nope"})
	assertKind(t, err, apperr.KindValidation)
}
