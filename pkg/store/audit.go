package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AuditEntry represents a single audit log record.
type AuditEntry struct {
	ID        int64
	Timestamp time.Time
	EventType string
	Severity  int
	LibraryID string
	ActorID   string
	TargetID  string
	RequestID string
	Details   map[string]string
}

// AuditFilter specifies criteria for querying audit entries.
type AuditFilter struct {
	LibraryID string
	EventType string
	ActorID   string
	Since     time.Time
	Limit     int
}

// InsertAuditEntry adds a new audit log entry to the database.
func (s *Store) InsertAuditEntry(ctx context.Context, entry *AuditEntry) (int64, error) {
	var detailsJSON sql.NullString
	if len(entry.Details) > 0 {
		data, err := json.Marshal(entry.Details)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal details: %w", err)
		}
		detailsJSON.String = string(data)
		detailsJSON.Valid = true
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (timestamp, event_type, severity, library_id, actor_id, target_id, request_id, details)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Timestamp.Unix(),
		entry.EventType,
		entry.Severity,
		entry.LibraryID,
		entry.ActorID,
		entry.TargetID,
		entry.RequestID,
		detailsJSON,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}
	return id, nil
}

// QueryAuditEntries retrieves audit entries matching the given filter,
// newest first.
func (s *Store) QueryAuditEntries(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	var conditions []string
	var args []any

	if filter.LibraryID != "" {
		conditions = append(conditions, "library_id = ?")
		args = append(args, filter.LibraryID)
	}
	if filter.EventType != "" {
		conditions = append(conditions, "event_type = ?")
		args = append(args, filter.EventType)
	}
	if filter.ActorID != "" {
		conditions = append(conditions, "actor_id = ?")
		args = append(args, filter.ActorID)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, filter.Since.Unix())
	}

	query := `SELECT id, timestamp, event_type, severity, library_id, actor_id, target_id, request_id, details
	          FROM audit_log`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanAuditEntry(row rowScanner) (*AuditEntry, error) {
	var entry AuditEntry
	var timestamp int64
	var libraryID, actorID, targetID, requestID, detailsJSON sql.NullString

	err := row.Scan(&entry.ID, &timestamp, &entry.EventType, &entry.Severity,
		&libraryID, &actorID, &targetID, &requestID, &detailsJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit entry: %w", err)
	}

	entry.Timestamp = fromUnix(timestamp)
	entry.LibraryID = libraryID.String
	entry.ActorID = actorID.String
	entry.TargetID = targetID.String
	entry.RequestID = requestID.String

	if detailsJSON.Valid {
		if err := json.Unmarshal([]byte(detailsJSON.String), &entry.Details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal details: %w", err)
		}
	}
	return &entry, nil
}
