package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const statsSchema = `
CREATE TABLE IF NOT EXISTS render_stats (
    template_key  TEXT PRIMARY KEY,
    renders       INTEGER NOT NULL DEFAULT 0,
    failures      INTEGER NOT NULL DEFAULT 0,
    first_seen    DATETIME NOT NULL,
    last_seen     DATETIME NOT NULL
);
`

// adhocTemplateKey groups renders of templates that do not belong to a note type.
const adhocTemplateKey = "(ad hoc)"

// GlobalStatsSummary provides a high-level overview of the collection and
// of render activity.
type GlobalStatsSummary struct {
	NoteTypes     int64 `json:"note_types"`
	Notes         int64 `json:"notes"`
	TotalRenders  int64 `json:"total_renders"`
	TotalFailures int64 `json:"total_failures"`
	Templates     int64 `json:"templates_rendered"`
}

// TemplateStats is the render history of one template.
type TemplateStats struct {
	Template  string    `json:"template"`
	Renders   int64     `json:"renders"`
	Failures  int64     `json:"failures"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// StatsAPI holds the dependencies for the statistics handlers.
type StatsAPI struct {
	db     *sql.DB
	logger *slog.Logger
}

func setupStatsSchema(db *sql.DB) error {
	_, err := db.Exec(statsSchema)
	return err
}

func NewStatsAPI(db *sql.DB, logger *slog.Logger) *StatsAPI {
	return &StatsAPI{
		db:     db,
		logger: logger,
	}
}

func (s *StatsAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/stats/summary", s.handleSummary)
	mux.HandleFunc("/api/stats/top_templates", s.handleTopTemplates)
}

// Record counts one render of the template identified by key. Failures are
// logged but never returned; statistics must not break rendering.
func (s *StatsAPI) Record(ctx context.Context, key string, failed bool) {
	now := time.Now().UTC()
	failures := 0
	if failed {
		failures = 1
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO render_stats (template_key, renders, failures, first_seen, last_seen) VALUES (?, 1, ?, ?, ?)
        ON CONFLICT(template_key) DO UPDATE SET renders = renders + 1, failures = failures + ?, last_seen = ?
    `, key, failures, now, now, failures, now)
	if err != nil {
		s.logger.Warn("Failed to record render statistics", "template", key, "error", err)
	}
}

func (s *StatsAPI) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeStatsRead) {
		return
	}

	var summary GlobalStatsSummary
	queries := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM note_types", &summary.NoteTypes},
		{"SELECT COUNT(*) FROM notes", &summary.Notes},
		{"SELECT COALESCE(SUM(renders), 0) FROM render_stats", &summary.TotalRenders},
		{"SELECT COALESCE(SUM(failures), 0) FROM render_stats", &summary.TotalFailures},
		{"SELECT COUNT(*) FROM render_stats", &summary.Templates},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(r.Context(), q.query).Scan(q.dest); err != nil {
			s.logger.Error("Failed to compute stats summary", "query", q.query, "error", err)
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
			return
		}
	}
	respondWithJSON(w, http.StatusOK, summary)
}

func (s *StatsAPI) handleTopTemplates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeStatsRead) {
		return
	}

	limit := 100
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l < limit {
		limit = l
	}

	rows, err := s.db.QueryContext(r.Context(),
		"SELECT template_key, renders, failures, first_seen, last_seen FROM render_stats ORDER BY renders DESC, template_key LIMIT ?", limit)
	if err != nil {
		s.logger.Error("Failed to query top templates", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	results := []TemplateStats{}
	for rows.Next() {
		var ts TemplateStats
		if err = rows.Scan(&ts.Template, &ts.Renders, &ts.Failures, &ts.FirstSeen, &ts.LastSeen); err != nil {
			s.logger.Error("Failed to scan top templates", "error", err)
			continue
		}
		results = append(results, ts)
	}
	respondWithJSON(w, http.StatusOK, results)
}
