package bearer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eflynch/usufruit/pkg/audit"
	"github.com/eflynch/usufruit/pkg/authz"
)

const knownSecret = "kN0wn-s3cret-value-for-tests"

type mapLookup struct {
	identities map[string]*Identity
	err        error
}

func (m *mapLookup) LookupBySecret(_ context.Context, secret string) (*Identity, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.identities[secret], nil
}

type recorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recorder) Emit(ev audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

type harness struct {
	mw     *Middleware
	rec    *recorder
	logs   *bytes.Buffer
	lookup *mapLookup
}

func newHarness() *harness {
	h := &harness{
		rec:  &recorder{},
		logs: &bytes.Buffer{},
		lookup: &mapLookup{identities: map[string]*Identity{
			knownSecret: {LibrarianID: "lbr_1", LibraryID: "lib_1", Name: "Ada", IsSuper: true},
		}},
	}
	logger := slog.New(slog.NewTextHandler(h.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h.mw = NewMiddleware(h.lookup, WithLogger(logger), WithAuditEmitter(h.rec))
	return h
}

// serve runs a request and returns the recorded response and the identity
// the handler saw.
func (h *harness) serve(header string) (*httptest.ResponseRecorder, *Identity, bool) {
	var seen *Identity
	called := false
	handler := h.mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		seen = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/libraries", nil)
	req = req.WithContext(authz.ContextWithRequestID(req.Context(), "req-42"))
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr, seen, called
}

func TestMiddlewareKnownSecret(t *testing.T) {
	t.Parallel()
	h := newHarness()
	t.Log("Testing: a valid secret attaches the librarian identity")

	rr, id, called := h.serve("Bearer " + knownSecret)
	assert.True(t, called)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	require.NotNil(t, id)
	assert.Equal(t, "lbr_1", id.LibrarianID)
	assert.Empty(t, h.rec.events)
	assert.NotContains(t, h.logs.String(), knownSecret)
}

func TestMiddlewareNoHeaderIsAnonymous(t *testing.T) {
	t.Parallel()
	h := newHarness()

	_, id, called := h.serve("")
	assert.True(t, called)
	assert.Nil(t, id)
	assert.Empty(t, h.rec.events)
}

func TestMiddlewareUnknownSecret(t *testing.T) {
	t.Parallel()
	h := newHarness()
	t.Log("Testing: an unknown secret proceeds anonymously and is audited without the secret")

	const guess = "not-a-real-secret-0123456789"
	rr, id, called := h.serve("Bearer " + guess)
	assert.True(t, called)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Nil(t, id)

	require.Len(t, h.rec.events, 1)
	ev := h.rec.events[0]
	assert.Equal(t, audit.EventAuthFailure, ev.Type)
	assert.Equal(t, Fingerprint(guess), ev.Details["fingerprint"])
	assert.Equal(t, "req-42", ev.RequestID)
	for _, v := range ev.Details {
		assert.NotContains(t, v, guess)
	}
	assert.NotContains(t, h.logs.String(), guess)
}

func TestMiddlewareMalformedHeader(t *testing.T) {
	t.Parallel()
	h := newHarness()

	rr, _, called := h.serve("Basic Zm9vOmJhcg==")
	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "unauthorized", body["code"])
	assert.NotContains(t, rr.Body.String(), "Zm9vOmJhcg")
	assert.Len(t, h.rec.events, 1)
}

func TestMiddlewareLookupError(t *testing.T) {
	t.Parallel()
	h := newHarness()
	h.lookup.err = errors.New("database is locked")

	rr, _, called := h.serve("Bearer " + knownSecret)
	assert.False(t, called)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.NotContains(t, h.logs.String(), knownSecret)
}

func TestMiddlewareRecoversPanic(t *testing.T) {
	t.Parallel()
	h := newHarness()

	handler := h.mw.Wrap(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.7:5123"
	assert.Equal(t, "192.0.2.7", ClientIP(r))

	r.RemoteAddr = "[2001:db8::1]:443"
	assert.Equal(t, "2001:db8::1", ClientIP(r))

	r.Header.Set("X-Real-IP", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", ClientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", ClientIP(r))
}
