package api

import (
	"net/http"
	"time"

	"github.com/eflynch/usufruit/pkg/apperr"
	"github.com/eflynch/usufruit/pkg/core"
)

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var since time.Time
	if raw := q.Get("since"); raw != "" {
		since, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, r, apperr.Validation("since must be an RFC 3339 timestamp"))
			return
		}
	}

	entries, err := s.svc.ListAuditEvents(r.Context(), actor(r), r.PathValue("libraryId"), core.AuditQuery{
		EventType: q.Get("type"),
		ActorID:   q.Get("actorId"),
		Since:     since,
		Limit:     limit,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]auditEntryResponse, len(entries))
	for i, e := range entries {
		out[i] = auditEntryToResponse(e)
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}
