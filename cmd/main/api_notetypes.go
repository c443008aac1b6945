package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/CTAG07/Drosera/pkg/notes"
	"github.com/CTAG07/Drosera/pkg/templating"
	"github.com/sahilm/fuzzy"
)

// NoteTypeAPI holds the dependencies for the note type handlers.
type NoteTypeAPI struct {
	store  *notes.Store
	tm     *templating.TemplateManager
	logger *slog.Logger
}

// NewNoteTypeAPI creates a new instance of the NoteTypeAPI.
func NewNoteTypeAPI(store *notes.Store, tm *templating.TemplateManager, logger *slog.Logger) *NoteTypeAPI {
	return &NoteTypeAPI{
		store:  store,
		tm:     tm,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for all /api/notetypes endpoints.
func (a *NoteTypeAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/notetypes", a.handleNoteTypes)
	mux.HandleFunc("/api/notetypes/import", a.handleImport)
	mux.HandleFunc("/api/notetypes/", a.handleNoteTypeSubroutes)
}

// NoteTypeDetails is a note type together with the number of notes using it.
type NoteTypeDetails struct {
	notes.NoteType
	NoteCount int `json:"note_count"`
}

// respondWithStoreError maps store errors onto status codes.
func (a *NoteTypeAPI) respondWithStoreError(w http.ResponseWriter, err error, action string) {
	respondWithStoreError(w, a.logger, err, action)
}

func respondWithStoreError(w http.ResponseWriter, logger *slog.Logger, err error, action string) {
	switch {
	case errors.Is(err, notes.ErrNotFound):
		respondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, notes.ErrInvalid):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, notes.ErrExists):
		respondWithError(w, http.StatusConflict, err.Error())
	default:
		if !respondWithTemplateError(w, err) {
			logger.Error("Failed to "+action, "error", err)
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to %s", action))
		}
	}
}

func (a *NoteTypeAPI) handleNoteTypes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listNoteTypes(w, r)
	case http.MethodPost:
		a.createNoteType(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// listNoteTypes lists every note type. With ?q= the list is filtered by a
// fuzzy match on the name and ordered by match quality.
func (a *NoteTypeAPI) listNoteTypes(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, scopeNotesRead) {
		return
	}
	infos, err := a.store.GetNoteTypeInfos(r.Context())
	if err != nil {
		a.respondWithStoreError(w, err, "list note types")
		return
	}
	if infos == nil {
		infos = []notes.NoteTypeInfo{}
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		respondWithJSON(w, http.StatusOK, infos)
		return
	}

	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	matches := fuzzy.Find(query, names)
	results := make([]notes.NoteTypeInfo, 0, len(matches))
	for _, m := range matches {
		results = append(results, infos[m.Index])
	}
	respondWithJSON(w, http.StatusOK, results)
}

func (a *NoteTypeAPI) createNoteType(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, scopeNotesWrite) {
		return
	}

	var nt notes.NoteType
	if err := json.NewDecoder(r.Body).Decode(&nt); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	if nt.Kind == "" {
		nt.Kind = notes.KindStandard
	}

	if _, err := a.store.GetNoteType(r.Context(), nt.Name); err == nil {
		respondWithError(w, http.StatusConflict, fmt.Sprintf("Note type %q already exists", nt.Name))
		return
	}
	if err := a.tm.Validate(nt); err != nil {
		a.respondWithStoreError(w, err, "validate note type")
		return
	}

	created, err := a.store.InsertNoteType(r.Context(), nt)
	if err != nil {
		a.respondWithStoreError(w, err, "create note type")
		return
	}
	if err = a.tm.Refresh(r.Context()); err != nil {
		a.logger.Warn("Failed to refresh note types after create", "error", err)
	}
	respondWithJSON(w, http.StatusCreated, created)
}

// handleNoteTypeSubroutes dispatches /api/notetypes/{name}[/templates/{ord}|/export].
func (a *NoteTypeAPI) handleNoteTypeSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/notetypes/"), "/")
	parts := strings.Split(rest, "/")
	name := parts[0]
	if name == "" {
		respondWithError(w, http.StatusBadRequest, "Invalid note type name in URL")
		return
	}

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			a.getNoteType(w, r, name)
		case http.MethodDelete:
			a.deleteNoteType(w, r, name)
		default:
			w.Header().Set("Allow", "GET, DELETE")
			respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	case len(parts) == 2 && parts[1] == "export":
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", "GET")
			respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		a.exportNoteType(w, r, name)
	case len(parts) == 3 && parts[1] == "templates":
		ord, err := strconv.Atoi(parts[2])
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid template ordinal in URL")
			return
		}
		if r.Method != http.MethodPut {
			w.Header().Set("Allow", "PUT")
			respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		a.updateTemplate(w, r, name, ord)
	default:
		respondWithError(w, http.StatusNotFound, "Not found")
	}
}

func (a *NoteTypeAPI) getNoteType(w http.ResponseWriter, r *http.Request, name string) {
	if !requireScope(w, r, scopeNotesRead) {
		return
	}
	nt, err := a.store.GetNoteType(r.Context(), name)
	if err != nil {
		a.respondWithStoreError(w, err, "load note type")
		return
	}
	count, err := a.store.CountNotes(r.Context(), nt.ID)
	if err != nil {
		a.respondWithStoreError(w, err, "count notes")
		return
	}
	respondWithJSON(w, http.StatusOK, NoteTypeDetails{NoteType: nt, NoteCount: count})
}

func (a *NoteTypeAPI) deleteNoteType(w http.ResponseWriter, r *http.Request, name string) {
	if !requireScope(w, r, scopeNotesWrite) {
		return
	}
	nt, err := a.store.GetNoteType(r.Context(), name)
	if err != nil {
		a.respondWithStoreError(w, err, "load note type")
		return
	}
	if err = a.store.RemoveNoteType(r.Context(), nt.ID); err != nil {
		a.respondWithStoreError(w, err, "remove note type")
		return
	}
	if err = a.tm.Refresh(r.Context()); err != nil {
		a.logger.Warn("Failed to refresh note types after delete", "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

// updateTemplate replaces one card template. The note type with the new
// template must still validate.
func (a *NoteTypeAPI) updateTemplate(w http.ResponseWriter, r *http.Request, name string, ord int) {
	if !requireScope(w, r, scopeNotesWrite) {
		return
	}
	var ct notes.CardTemplate
	if err := json.NewDecoder(r.Body).Decode(&ct); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	ct.Ord = ord

	nt, err := a.store.GetNoteType(r.Context(), name)
	if err != nil {
		a.respondWithStoreError(w, err, "load note type")
		return
	}
	current, ok := nt.Template(ord)
	if !ok {
		respondWithError(w, http.StatusNotFound, fmt.Sprintf("Note type %q has no template %d", name, ord))
		return
	}
	if ct.Name == "" {
		ct.Name = current.Name
	}

	candidate := nt
	candidate.Templates = make([]notes.CardTemplate, len(nt.Templates))
	for i, t := range nt.Templates {
		if t.Ord == ord {
			t = ct
		}
		candidate.Templates[i] = t
	}
	if err = a.tm.Validate(candidate); err != nil {
		a.respondWithStoreError(w, err, "validate template")
		return
	}

	if err = a.store.UpdateCardTemplate(r.Context(), nt.ID, ct); err != nil {
		a.respondWithStoreError(w, err, "update template")
		return
	}
	if err = a.tm.Refresh(r.Context()); err != nil {
		a.logger.Warn("Failed to refresh note types after template update", "error", err)
	}
	respondWithJSON(w, http.StatusOK, ct)
}

// exportNoteType streams the note type and its notes as JSON, or as an xz
// compressed JSON file with ?compress=xz.
func (a *NoteTypeAPI) exportNoteType(w http.ResponseWriter, r *http.Request, name string) {
	if !requireScope(w, r, scopeNotesRead) {
		return
	}

	var buf bytes.Buffer
	if err := a.store.ExportNoteType(r.Context(), name, &buf); err != nil {
		a.respondWithStoreError(w, err, "export note type")
		return
	}

	filename := url.PathEscape(name) + ".json"
	data := buf.Bytes()
	contentType := "application/json"
	if r.URL.Query().Get("compress") == "xz" {
		compressed, err := compressXZ(data)
		if err != nil {
			a.respondWithStoreError(w, err, "compress export")
			return
		}
		data = compressed
		filename += ".xz"
		contentType = "application/x-xz"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleImport accepts a JSON export or a YAML definition, optionally xz
// compressed, and merges it into the collection.
func (a *NoteTypeAPI) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeNotesWrite) {
		return
	}

	body, err := maybeDecompress(r.Body)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	def, err := notes.DecodeDefinition(io.LimitReader(body, 64<<20))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	nt, err := importDefinition(r.Context(), a.store, a.tm, def)
	if err != nil {
		a.respondWithStoreError(w, err, "import note type")
		return
	}
	if err = a.tm.Refresh(r.Context()); err != nil {
		a.logger.Warn("Failed to refresh note types after import", "error", err)
	}
	a.logger.Info("Note type imported via API", slog.String("note_type", nt.Name))
	respondWithJSON(w, http.StatusOK, nt)
}
