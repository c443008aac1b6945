package notes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestExportImportRoundTrip(t *testing.T) {
	ctx, src, nt := setupTestDBWithNoteType(t)
	for _, front := range []string{"a", "b"} {
		if _, err := src.AddNote(ctx, Note{NoteTypeID: nt.ID, Fields: map[string]string{"Front": front}, Deck: "Default"}); err != nil {
			t.Fatalf("AddNote() failed: %v", err)
		}
	}

	var buf bytes.Buffer
	if err := src.ExportNoteType(ctx, "Basic", &buf); err != nil {
		t.Fatalf("ExportNoteType() failed: %v", err)
	}

	var exported ExportedNoteType
	if err := json.Unmarshal(buf.Bytes(), &exported); err != nil {
		t.Fatalf("export is not valid json: %v", err)
	}
	if exported.Name != "Basic" || len(exported.Notes) != 2 {
		t.Fatalf("unexpected export: %+v", exported)
	}

	_, dst := setupTestDB(t)
	imported, err := dst.ImportNoteType(ctx, bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ImportNoteType() failed: %v", err)
	}
	if len(imported.Templates) != 2 || imported.Templates[0].QFmt != "{{Front}}" {
		t.Errorf("templates not imported: %+v", imported.Templates)
	}
	list, err := dst.ListNotes(ctx, imported.ID)
	if err != nil {
		t.Fatalf("ListNotes() failed: %v", err)
	}
	if len(list) != 2 || list[0].GUID != exported.Notes[0].GUID || list[0].Deck != "Default" {
		t.Errorf("notes not imported with their guids: %+v", list)
	}

	// Importing the same export again merges: every note is already present.
	if _, err = dst.ImportNoteType(ctx, bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("second ImportNoteType() failed: %v", err)
	}
	count, err := dst.CountNotes(ctx, imported.ID)
	if err != nil {
		t.Fatalf("CountNotes() failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected duplicate guids to be skipped, got %d notes", count)
	}
}

func TestExportMissingNoteType(t *testing.T) {
	_, s := setupTestDB(t)
	var buf bytes.Buffer
	if err := s.ExportNoteType(context.Background(), "missing", &buf); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestImportRejectsInvalid(t *testing.T) {
	_, s := setupTestDB(t)
	ctx := context.Background()

	if _, err := s.ImportNoteType(ctx, strings.NewReader("{not json")); err == nil {
		t.Error("expected a decode error")
	}
	if _, err := s.ImportNoteType(ctx, strings.NewReader(`{"name":"x","kind":"standard"}`)); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}

const clozeDefinition = `
name: Cloze
kind: cloze
css: ".cloze { font-weight: bold; }"
fields: [Text, Extra]
templates:
  - name: Cloze
    qfmt: "{{cloze:Text}}"
    afmt: "{{cloze:Text}}<br>{{Extra}}"
notes:
  - fields:
      Text: "{{c1::Canberra}} is the capital of {{c2::Australia}}"
    tags: [geography]
`

func TestDecodeDefinition(t *testing.T) {
	def, err := DecodeDefinition(strings.NewReader(clozeDefinition))
	if err != nil {
		t.Fatalf("DecodeDefinition() failed: %v", err)
	}
	if def.Name != "Cloze" || def.Kind != KindCloze || len(def.Fields) != 2 {
		t.Errorf("unexpected definition: %+v", def)
	}
	if len(def.Templates) != 1 || def.Templates[0].QFmt != "{{cloze:Text}}" {
		t.Errorf("templates not decoded: %+v", def.Templates)
	}
	if len(def.Notes) != 1 || def.Notes[0].Tags[0] != "geography" {
		t.Fatalf("notes not decoded: %+v", def.Notes)
	}

	_, s := setupTestDB(t)
	ctx := context.Background()
	nt, err := s.ImportExported(ctx, def)
	if err != nil {
		t.Fatalf("ImportExported() failed: %v", err)
	}
	list, err := s.ListNotes(ctx, nt.ID)
	if err != nil {
		t.Fatalf("ListNotes() failed: %v", err)
	}
	if len(list) != 1 || list[0].GUID == "" {
		t.Errorf("expected one note with a generated guid, got %+v", list)
	}
}

func TestDecodeDefinitionDefaultsKind(t *testing.T) {
	def, err := DecodeDefinition(strings.NewReader("name: Basic\nfields: [Front]\ntemplates:\n  - qfmt: '{{Front}}'\n    afmt: '{{Front}}'\n"))
	if err != nil {
		t.Fatalf("DecodeDefinition() failed: %v", err)
	}
	if def.Kind != KindStandard {
		t.Errorf("expected default kind %q, got %q", KindStandard, def.Kind)
	}
}
