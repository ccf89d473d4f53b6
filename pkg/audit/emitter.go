package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/eflynch/usufruit/pkg/store"
)

// EventEmitter accepts structured audit events for recording.
type EventEmitter interface {
	Emit(Event) error
}

// NopEmitter discards all events. Use when no audit backend is configured.
type NopEmitter struct{}

// Emit discards the event.
func (NopEmitter) Emit(Event) error { return nil }

// MultiEmitter forwards each event to every backend. Backend errors are
// logged and never returned: a failed audit write must not fail the
// operation being audited.
type MultiEmitter struct {
	backends []EventEmitter
	logger   *slog.Logger
}

// NewMultiEmitter creates a fan-out emitter. Nil backends are skipped.
// If logger is nil, slog.Default() is used for error reporting.
func NewMultiEmitter(logger *slog.Logger, backends ...EventEmitter) *MultiEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	kept := make([]EventEmitter, 0, len(backends))
	for _, b := range backends {
		if b != nil {
			kept = append(kept, b)
		}
	}
	return &MultiEmitter{backends: kept, logger: logger}
}

// Emit writes ev to all backends.
func (m *MultiEmitter) Emit(ev Event) error {
	for _, b := range m.backends {
		if err := b.Emit(ev); err != nil {
			m.logger.Error("audit emit failed", "event", string(ev.Type), "request_id", ev.RequestID, "error", err)
		}
	}
	return nil
}

// EntryWriter persists audit entries.
type EntryWriter interface {
	InsertAuditEntry(ctx context.Context, entry *store.AuditEntry) (int64, error)
}

// storeWriteTimeout bounds a single audit insert.
const storeWriteTimeout = 5 * time.Second

// StoreEmitter writes events to the audit_log table.
type StoreEmitter struct {
	w EntryWriter
}

// NewStoreEmitter creates an emitter backed by w.
func NewStoreEmitter(w EntryWriter) *StoreEmitter {
	return &StoreEmitter{w: w}
}

// Emit inserts ev as an audit entry.
func (s *StoreEmitter) Emit(ev Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
	defer cancel()

	details := ev.Details
	if ev.IP != "" {
		details = make(map[string]string, len(ev.Details)+1)
		for k, v := range ev.Details {
			details[k] = v
		}
		details["ip"] = ev.IP
	}

	_, err := s.w.InsertAuditEntry(ctx, &store.AuditEntry{
		Timestamp: ev.Timestamp,
		EventType: string(ev.Type),
		Severity:  int(ev.Severity),
		LibraryID: ev.LibraryID,
		ActorID:   ev.ActorID,
		TargetID:  ev.TargetID,
		RequestID: ev.RequestID,
		Details:   details,
	})
	return err
}
