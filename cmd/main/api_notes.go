package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/CTAG07/Drosera/pkg/notes"
	"github.com/CTAG07/Drosera/pkg/templating"
)

// NoteAPI holds the dependencies for the note and card handlers.
type NoteAPI struct {
	store  *notes.Store
	tm     *templating.TemplateManager
	stats  *StatsAPI
	logger *slog.Logger
}

// NewNoteAPI creates a new instance of the NoteAPI.
func NewNoteAPI(store *notes.Store, tm *templating.TemplateManager, stats *StatsAPI, logger *slog.Logger) *NoteAPI {
	return &NoteAPI{
		store:  store,
		tm:     tm,
		stats:  stats,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for all /api/notes endpoints.
func (a *NoteAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/notes", a.handleNotes)
	mux.HandleFunc("/api/notes/", a.handleNoteSubroutes)
}

// CreateNoteRequest is the expected JSON body for adding a note.
type CreateNoteRequest struct {
	NoteType string            `json:"note_type"`
	GUID     string            `json:"guid,omitempty"`
	Fields   map[string]string `json:"fields"`
	Tags     []string          `json:"tags,omitempty"`
	Deck     string            `json:"deck,omitempty"`
}

// NoteResponse is a note together with the cards it generates.
type NoteResponse struct {
	notes.Note
	Cards []templating.Card `json:"cards"`
}

func (a *NoteAPI) handleNotes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listNotes(w, r)
	case http.MethodPost:
		a.createNote(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// listNotes lists the notes of the note type named by ?note_type=.
func (a *NoteAPI) listNotes(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, scopeNotesRead) {
		return
	}
	name := r.URL.Query().Get("note_type")
	if name == "" {
		respondWithError(w, http.StatusBadRequest, "The note_type query parameter is required")
		return
	}
	nt, err := a.store.GetNoteType(r.Context(), name)
	if err != nil {
		respondWithStoreError(w, a.logger, err, "load note type")
		return
	}
	list, err := a.store.ListNotes(r.Context(), nt.ID)
	if err != nil {
		respondWithStoreError(w, a.logger, err, "list notes")
		return
	}
	if list == nil {
		list = []notes.Note{}
	}
	respondWithJSON(w, http.StatusOK, list)
}

func (a *NoteAPI) createNote(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, scopeNotesWrite) {
		return
	}

	var req CreateNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}

	nt, ok := a.tm.NoteType(req.NoteType)
	if !ok {
		var err error
		if nt, err = a.store.GetNoteType(r.Context(), req.NoteType); err != nil {
			respondWithStoreError(w, a.logger, err, "load note type")
			return
		}
	}

	note, err := a.store.AddNote(r.Context(), notes.Note{
		GUID:       req.GUID,
		NoteTypeID: nt.ID,
		Fields:     req.Fields,
		Tags:       req.Tags,
		Deck:       req.Deck,
	})
	if err != nil {
		respondWithStoreError(w, a.logger, err, "add note")
		return
	}

	cards, err := a.tm.GenerateCards(nt, note)
	if err != nil {
		respondWithStoreError(w, a.logger, err, "generate cards")
		return
	}
	respondWithJSON(w, http.StatusCreated, NoteResponse{Note: note, Cards: nonNilCards(cards)})
}

// handleNoteSubroutes dispatches /api/notes/{guid}[/cards[/{ord}]].
func (a *NoteAPI) handleNoteSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/notes/"), "/")
	parts := strings.Split(rest, "/")
	guid := parts[0]
	if guid == "" {
		respondWithError(w, http.StatusBadRequest, "Invalid note GUID in URL")
		return
	}

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			a.getNote(w, r, guid)
		case http.MethodDelete:
			a.deleteNote(w, r, guid)
		default:
			w.Header().Set("Allow", "GET, DELETE")
			respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	case parts[1] != "cards" || len(parts) > 3:
		respondWithError(w, http.StatusNotFound, "Not found")
	case r.Method != http.MethodGet:
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	case len(parts) == 2:
		a.listCards(w, r, guid)
	default:
		ord, err := strconv.Atoi(parts[2])
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid card ordinal in URL")
			return
		}
		a.renderCard(w, r, guid, ord)
	}
}

// loadNote fetches a note and its note type, writing an error response on failure.
func (a *NoteAPI) loadNote(w http.ResponseWriter, r *http.Request, guid string) (notes.Note, notes.NoteType, bool) {
	note, err := a.store.GetNote(r.Context(), guid)
	if err != nil {
		respondWithStoreError(w, a.logger, err, "load note")
		return notes.Note{}, notes.NoteType{}, false
	}
	nt, err := a.tm.NoteTypeByID(r.Context(), note.NoteTypeID)
	if err != nil {
		respondWithStoreError(w, a.logger, err, "load note type")
		return notes.Note{}, notes.NoteType{}, false
	}
	return note, nt, true
}

func (a *NoteAPI) getNote(w http.ResponseWriter, r *http.Request, guid string) {
	if !requireScope(w, r, scopeNotesRead) {
		return
	}
	note, nt, ok := a.loadNote(w, r, guid)
	if !ok {
		return
	}
	cards, err := a.tm.GenerateCards(nt, note)
	if err != nil {
		respondWithStoreError(w, a.logger, err, "generate cards")
		return
	}
	respondWithJSON(w, http.StatusOK, NoteResponse{Note: note, Cards: nonNilCards(cards)})
}

func (a *NoteAPI) deleteNote(w http.ResponseWriter, r *http.Request, guid string) {
	if !requireScope(w, r, scopeNotesWrite) {
		return
	}
	if err := a.store.RemoveNote(r.Context(), guid); err != nil {
		respondWithStoreError(w, a.logger, err, "remove note")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *NoteAPI) listCards(w http.ResponseWriter, r *http.Request, guid string) {
	if !requireScope(w, r, scopeNotesRead) {
		return
	}
	note, nt, ok := a.loadNote(w, r, guid)
	if !ok {
		return
	}
	cards, err := a.tm.GenerateCards(nt, note)
	if err != nil {
		respondWithStoreError(w, a.logger, err, "generate cards")
		return
	}
	respondWithJSON(w, http.StatusOK, nonNilCards(cards))
}

// renderCard renders one card. With ?side=question or ?side=answer only that
// side is returned, as HTML; otherwise both sides are returned as JSON.
func (a *NoteAPI) renderCard(w http.ResponseWriter, r *http.Request, guid string, ord int) {
	if !requireScope(w, r, scopeRender) {
		return
	}
	side := r.URL.Query().Get("side")
	if side != "" && side != "question" && side != "answer" {
		respondWithError(w, http.StatusBadRequest, "side must be 'question' or 'answer'")
		return
	}

	note, nt, ok := a.loadNote(w, r, guid)
	if !ok {
		return
	}
	card, err := a.tm.RenderCard(nt, note, ord)
	if err != nil {
		a.stats.Record(r.Context(), nt.Name, true)
		respondWithStoreError(w, a.logger, err, "render card")
		return
	}
	a.stats.Record(r.Context(), nt.Name+"/"+card.Template, false)

	switch side {
	case "question", "answer":
		html := card.Question
		if side == "answer" {
			html = card.Answer
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(html))
	default:
		respondWithJSON(w, http.StatusOK, card)
	}
}

func nonNilCards(cards []templating.Card) []templating.Card {
	if cards == nil {
		return []templating.Card{}
	}
	return cards
}
