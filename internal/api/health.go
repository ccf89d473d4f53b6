package api

import (
	"context"
	"net/http"
	"time"

	"github.com/eflynch/usufruit/internal/version"
	"github.com/eflynch/usufruit/pkg/embed"
)

const healthPingTimeout = 2 * time.Second

type healthResponse struct {
	Status         string            `json:"status"`
	Version        string            `json:"version"`
	Uptime         string            `json:"uptime"`
	UptimeSeconds  int64             `json:"uptimeSeconds"`
	Database       string            `json:"database"`
	SemanticSearch bool              `json:"semanticSearch"`
	EmbeddingQueue *embed.QueueStats `json:"embeddingQueue,omitempty"`
}

// handleHealth reports liveness and dependencies. It returns 503 when the
// database cannot be reached.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()

	uptime := time.Since(s.started).Truncate(time.Second)
	resp := healthResponse{
		Status:         "ok",
		Version:        version.Version,
		Uptime:         uptime.String(),
		UptimeSeconds:  int64(uptime.Seconds()),
		Database:       "ok",
		SemanticSearch: s.svc.SemanticEnabled(),
	}
	if s.cfg.Queue != nil {
		stats := s.cfg.Queue.Stats()
		resp.EmbeddingQueue = &stats
	}

	status := http.StatusOK
	if err := s.svc.Ping(ctx); err != nil {
		s.logger.WarnContext(r.Context(), "health check: database unreachable", "error", err)
		resp.Status = "degraded"
		resp.Database = "unreachable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
