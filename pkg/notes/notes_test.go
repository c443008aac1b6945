package notes

import (
	"errors"
	"reflect"
	"testing"
)

func TestAddAndGetNote(t *testing.T) {
	ctx, s, nt := setupTestDBWithNoteType(t)

	added, err := s.AddNote(ctx, Note{
		NoteTypeID: nt.ID,
		Fields:     map[string]string{"Front": "犬", "Back": "dog"},
		Tags:       []string{"animals", "jlpt-n5"},
		Deck:       "Japanese",
	})
	if err != nil {
		t.Fatalf("AddNote() failed: %v", err)
	}
	if added.GUID == "" || added.ID == 0 {
		t.Fatalf("expected generated guid and id, got %+v", added)
	}

	got, err := s.GetNote(ctx, added.GUID)
	if err != nil {
		t.Fatalf("GetNote() failed: %v", err)
	}
	if !reflect.DeepEqual(got, added) {
		t.Errorf("got %+v, want %+v", got, added)
	}
	if got.TagString() != "animals jlpt-n5" {
		t.Errorf("unexpected tag string %q", got.TagString())
	}

	if _, err = s.GetNote(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAddNoteRejectsUnknownField(t *testing.T) {
	ctx, s, nt := setupTestDBWithNoteType(t)

	_, err := s.AddNote(ctx, Note{NoteTypeID: nt.ID, Fields: map[string]string{"Extra": "x"}})
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}

	_, err = s.AddNote(ctx, Note{NoteTypeID: nt.ID + 1})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown note type, got %v", err)
	}
}

func TestAddNoteKeepsGUID(t *testing.T) {
	ctx, s, nt := setupTestDBWithNoteType(t)

	note := Note{GUID: "fixed-guid", NoteTypeID: nt.ID}
	added, err := s.AddNote(ctx, note)
	if err != nil {
		t.Fatalf("AddNote() failed: %v", err)
	}
	if added.GUID != "fixed-guid" {
		t.Errorf("expected guid to be kept, got %q", added.GUID)
	}
	if added.Fields == nil {
		t.Error("expected an empty field map, got nil")
	}

	if _, err = s.AddNote(ctx, note); !errors.Is(err, ErrExists) {
		t.Errorf("expected ErrExists for a duplicate guid, got %v", err)
	}
	if n, err := s.CountNotes(ctx, nt.ID); err != nil || n != 1 {
		t.Errorf("CountNotes() = %d, %v, want 1", n, err)
	}
}

func TestListCountRemoveNotes(t *testing.T) {
	ctx, s, nt := setupTestDBWithNoteType(t)

	var guids []string
	for _, front := range []string{"one", "two", "three"} {
		n, err := s.AddNote(ctx, Note{NoteTypeID: nt.ID, Fields: map[string]string{"Front": front}})
		if err != nil {
			t.Fatalf("AddNote(%q) failed: %v", front, err)
		}
		guids = append(guids, n.GUID)
	}

	list, err := s.ListNotes(ctx, nt.ID)
	if err != nil {
		t.Fatalf("ListNotes() failed: %v", err)
	}
	if len(list) != 3 || list[0].Fields["Front"] != "one" || list[2].Fields["Front"] != "three" {
		t.Errorf("expected notes in insertion order, got %+v", list)
	}

	if err = s.RemoveNote(ctx, guids[1]); err != nil {
		t.Fatalf("RemoveNote() failed: %v", err)
	}
	if err = s.RemoveNote(ctx, guids[1]); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second removal, got %v", err)
	}

	count, err := s.CountNotes(ctx, nt.ID)
	if err != nil {
		t.Fatalf("CountNotes() failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 notes, got %d", count)
	}
}
