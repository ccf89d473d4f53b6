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
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 500
)

// AuditQuery filters ListAuditEvents.
type AuditQuery struct {
	EventType string
	ActorID   string
	Since     time.Time
	Limit     int
}

// ListAuditEvents returns a library's audit trail, newest first. Only super
// librarians of the library may read it.
func (s *Service) ListAuditEvents(ctx context.Context, actor *bearer.Identity, libraryID string, q AuditQuery) ([]*store.AuditEntry, error) {
	q.EventType = strings.TrimSpace(q.EventType)
	if q.EventType != "" && !knownEventType(q.EventType) {
		return nil, apperr.Validation("unknown event type %q", q.EventType)
	}
	if _, err := s.requireLibrary(ctx, libraryID); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, authz.ActionAuditRead, libraryResource(libraryID), nil); err != nil {
		return nil, err
	}

	switch {
	case q.Limit <= 0:
		q.Limit = defaultAuditLimit
	case q.Limit > maxAuditLimit:
		q.Limit = maxAuditLimit
	}
	entries, err := s.store.QueryAuditEntries(ctx, store.AuditFilter{
		LibraryID: libraryID,
		EventType: q.EventType,
		ActorID:   strings.TrimSpace(q.ActorID),
		Since:     q.Since,
		Limit:     q.Limit,
	})
	if err != nil {
		return nil, s.storeError(ctx, err)
	}
	return entries, nil
}

func knownEventType(t string) bool {
	for _, et := range audit.AllEventTypes() {
		if string(et) == t {
			return true
		}
	}
	return false
}
