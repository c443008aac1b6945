package main

import (
	"net/http"
	"testing"
)

func TestStatsRecordRenders(t *testing.T) {
	env := setupTestServer(t, nil)
	createNoteTypes(t, env, basicNoteTypeJSON)
	note := addNote(t, env, CreateNoteRequest{NoteType: "Basic", Fields: map[string]string{"Front": "Q", "Back": "A"}})

	for i := 0; i < 3; i++ {
		env.do(t, http.MethodGet, "/api/notes/"+note.GUID+"/cards/1", "", nil)
	}
	env.do(t, http.MethodGet, "/api/notes/"+note.GUID+"/cards/2", "", nil)
	env.do(t, http.MethodGet, "/api/notes/"+note.GUID+"/cards/5", "", nil)
	env.do(t, http.MethodPost, "/api/render", "", RenderRequest{Template: "{{#x}}"})

	rr := env.do(t, http.MethodGet, "/api/stats/summary", "", nil)
	expectStatus(t, rr, http.StatusOK)
	summary := decodeBody[GlobalStatsSummary](t, rr)
	want := GlobalStatsSummary{NoteTypes: 1, Notes: 1, TotalRenders: 6, TotalFailures: 2, Templates: 4}
	if summary != want {
		t.Errorf("summary = %+v, want %+v", summary, want)
	}

	rr = env.do(t, http.MethodGet, "/api/stats/top_templates?limit=2", "", nil)
	expectStatus(t, rr, http.StatusOK)
	top := decodeBody[[]TemplateStats](t, rr)
	if len(top) != 2 {
		t.Fatalf("got %d entries, want 2", len(top))
	}
	if top[0].Template != "Basic/Forward" || top[0].Renders != 3 || top[0].Failures != 0 {
		t.Errorf("top entry = %+v", top[0])
	}
	if top[0].LastSeen.Before(top[0].FirstSeen) {
		t.Errorf("last_seen %v before first_seen %v", top[0].LastSeen, top[0].FirstSeen)
	}
}
