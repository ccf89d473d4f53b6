package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eflynch/usufruit/pkg/store"
)

// recordingEmitter captures emitted events for test verification.
type recordingEmitter struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recordingEmitter) Emit(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingEmitter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestMultiEmitterFansOut(t *testing.T) {
	t.Parallel()
	t.Log("Testing: every backend receives the event even when one fails")

	failing := &recordingEmitter{err: errors.New("disk full")}
	ok := &recordingEmitter{}
	m := NewMultiEmitter(slog.New(slog.NewTextHandler(io.Discard, nil)), failing, nil, ok)

	err := m.Emit(NewLoanReturned("lib_1", "lbr_1", "ln_1", "bk_1", ""))
	assert.NoError(t, err)
	assert.Equal(t, 1, failing.count())
	assert.Equal(t, 1, ok.count())
}

func TestMultiEmitterNilLogger(t *testing.T) {
	t.Parallel()
	m := NewMultiEmitter(nil)
	assert.NoError(t, m.Emit(NewLibraryCreated("lib_1", "", "")))
}

func TestNopEmitter(t *testing.T) {
	t.Parallel()
	assert.NoError(t, NopEmitter{}.Emit(Event{}))
}

func TestStoreEmitterPersists(t *testing.T) {
	t.Parallel()
	t.Log("Testing: StoreEmitter writes queryable audit rows")

	s, err := store.Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	e := NewStoreEmitter(s)
	require.NoError(t, e.Emit(NewSuperStatusChanged("lib_1", "lbr_admin", "lbr_x", true, "req-1")))

	fail := NewAuthFailure("lib_1", "deadbeef", "10.1.2.3", "unknown secret", "POST", "/api/v1/auth", "req-2")
	require.NoError(t, e.Emit(fail))

	entries, err := s.QueryAuditEntries(context.Background(), store.AuditFilter{LibraryID: "lib_1"})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byType := map[string]*store.AuditEntry{}
	for _, en := range entries {
		byType[en.EventType] = en
	}

	promoted := byType[string(EventLibrarianPromoted)]
	require.NotNil(t, promoted)
	assert.Equal(t, "lbr_admin", promoted.ActorID)
	assert.Equal(t, "lbr_x", promoted.TargetID)
	assert.Equal(t, int(SeverityWarning), promoted.Severity)

	failed := byType[string(EventAuthFailure)]
	require.NotNil(t, failed)
	assert.Equal(t, "10.1.2.3", failed.Details["ip"])
	assert.Equal(t, "deadbeef", failed.Details["fingerprint"])
	_, leaked := fail.Details["ip"]
	assert.False(t, leaked, "emitter must not mutate the event's details")
}
