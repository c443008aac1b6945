package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/CTAG07/Drosera/pkg/cloze"
	"github.com/CTAG07/Drosera/pkg/templating"
)

// RenderAPI exposes the template engine directly, without going through
// stored note types.
type RenderAPI struct {
	tm     *templating.TemplateManager
	stats  *StatsAPI
	logger *slog.Logger
}

// NewRenderAPI creates a new instance of the RenderAPI.
func NewRenderAPI(tm *templating.TemplateManager, stats *StatsAPI, logger *slog.Logger) *RenderAPI {
	return &RenderAPI{
		tm:     tm,
		stats:  stats,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for the rendering endpoints.
func (a *RenderAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/render", a.handleRender)
	mux.HandleFunc("/api/cloze/count", a.handleClozeCount)
	mux.HandleFunc("/api/templates/validate", a.handleValidate)
}

// RenderRequest is the body of POST /api/render. When Ordinal is set the
// cloze filter is active for that card; Question defaults to true. When Back
// is set both sides are rendered, Template being the front, and Question is
// ignored.
type RenderRequest struct {
	Template string            `json:"template"`
	Back     *string           `json:"back,omitempty"`
	Fields   map[string]string `json:"fields"`
	Ordinal  *int              `json:"ordinal,omitempty"`
	Question *bool             `json:"question,omitempty"`
}

// ClozeCountRequest is the body of POST /api/cloze/count.
type ClozeCountRequest struct {
	Text string `json:"text"`
}

// ValidateRequest is the body of POST /api/templates/validate.
type ValidateRequest struct {
	Template string `json:"template"`
}

// ValidateResponse describes a template without rendering it.
type ValidateResponse struct {
	Valid          bool        `json:"valid"`
	Fields         []string    `json:"fields"`
	ClozeFields    []string    `json:"cloze_fields"`
	UnknownFilters []string    `json:"unknown_filters"`
	Error          *parseIssue `json:"error,omitempty"`
}

// parseIssue is the JSON form of a *templating.ParseError.
type parseIssue struct {
	Error  string `json:"error"`
	Kind   string `json:"kind"`
	Offset int    `json:"offset"`
	Tag    string `json:"tag"`
	Want   string `json:"want,omitempty"`
}

func newParseIssue(pe *templating.ParseError) *parseIssue {
	return &parseIssue{
		Error:  pe.Error(),
		Kind:   pe.Kind.Error(),
		Offset: pe.Offset,
		Tag:    pe.Tag,
		Want:   pe.Want,
	}
}

// respondWithTemplateError maps compile errors onto status codes: 422 for
// malformed templates, 413 for oversized ones.
func respondWithTemplateError(w http.ResponseWriter, err error) bool {
	var pe *templating.ParseError
	switch {
	case errors.As(err, &pe):
		respondWithJSON(w, http.StatusUnprocessableEntity, newParseIssue(pe))
	case errors.Is(err, templating.ErrTemplateTooLarge):
		respondWithError(w, http.StatusRequestEntityTooLarge, err.Error())
	default:
		return false
	}
	return true
}

func (a *RenderAPI) handleRender(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeRender) {
		return
	}

	var req RenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}

	if req.Back != nil {
		a.renderPair(w, r, req)
		return
	}

	t, err := a.tm.Compile(req.Template)
	if err != nil {
		a.compileFailed(w, r, err)
		return
	}

	var html string
	if req.Ordinal != nil {
		question := req.Question == nil || *req.Question
		html = t.RenderCloze(req.Fields, *req.Ordinal, question)
	} else {
		html = t.Render(req.Fields)
	}
	a.stats.Record(r.Context(), adhocTemplateKey, false)

	respondWithJSON(w, http.StatusOK, map[string]string{"html": html})
}

// renderPair answers a two-sided request with {question, answer}. The
// rendered front reaches the back as {{FrontSide}}.
func (a *RenderAPI) renderPair(w http.ResponseWriter, r *http.Request, req RenderRequest) {
	ordinal := 0
	if req.Ordinal != nil {
		ordinal = *req.Ordinal
	}
	question, answer, err := a.tm.RenderPair(req.Template, *req.Back, req.Fields, ordinal)
	if err != nil {
		a.compileFailed(w, r, err)
		return
	}
	a.stats.Record(r.Context(), adhocTemplateKey, false)

	respondWithJSON(w, http.StatusOK, map[string]string{"question": question, "answer": answer})
}

func (a *RenderAPI) compileFailed(w http.ResponseWriter, r *http.Request, err error) {
	a.stats.Record(r.Context(), adhocTemplateKey, true)
	if !respondWithTemplateError(w, err) {
		a.logger.Error("Failed to compile template", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to compile template")
	}
}

func (a *RenderAPI) handleClozeCount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeRender) {
		return
	}

	var req ClozeCountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}

	ordinals := cloze.Ordinals(req.Text)
	if ordinals == nil {
		ordinals = []int{}
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"count":    templating.CountClozeCards(req.Text),
		"ordinals": ordinals,
	})
}

func (a *RenderAPI) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeRender) {
		return
	}

	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}

	resp := ValidateResponse{Fields: []string{}, ClozeFields: []string{}, UnknownFilters: []string{}}
	t, err := a.tm.Compile(req.Template)
	if err != nil {
		var pe *templating.ParseError
		if !errors.As(err, &pe) {
			if !respondWithTemplateError(w, err) {
				respondWithError(w, http.StatusInternalServerError, "Failed to compile template")
			}
			return
		}
		resp.Error = newParseIssue(pe)
		respondWithJSON(w, http.StatusOK, resp)
		return
	}

	resp.Valid = true
	resp.Fields = append(resp.Fields, t.FieldNames()...)
	resp.ClozeFields = append(resp.ClozeFields, t.ClozeFields()...)
	for _, f := range t.Filters() {
		if !templating.HasFilter(f) {
			resp.UnknownFilters = append(resp.UnknownFilters, f)
		}
	}
	respondWithJSON(w, http.StatusOK, resp)
}
