package notes

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// Note holds the field values of one note. GUID is the stable external
// identifier; ID is local to the database.
type Note struct {
	ID         int               `json:"id"`
	GUID       string            `json:"guid"`
	NoteTypeID int               `json:"note_type_id"`
	Fields     map[string]string `json:"fields"`
	Tags       []string          `json:"tags"`
	Deck       string            `json:"deck"`
}

// TagString joins the tags the way they are shown on cards.
func (n Note) TagString() string {
	return strings.Join(n.Tags, " ")
}

func splitTags(s string) []string {
	return strings.Fields(s)
}

// AddNote stores a note for an existing note type. A GUID is generated when
// the note has none. Fields the note type does not define are rejected, and
// a GUID already in use returns ErrExists.
func (s *Store) AddNote(ctx context.Context, note Note) (Note, error) {
	nt, err := s.GetNoteTypeByID(ctx, note.NoteTypeID)
	if err != nil {
		return Note{}, err
	}
	for name := range note.Fields {
		if !nt.HasField(name) {
			return Note{}, fmt.Errorf("%w: note type %q has no field %q", ErrInvalid, nt.Name, name)
		}
	}
	if note.GUID == "" {
		note.GUID = uuid.NewString()
	} else if _, err = s.GetNote(ctx, note.GUID); err == nil {
		return Note{}, fmt.Errorf("%w: note %s", ErrExists, note.GUID)
	} else if !errors.Is(err, ErrNotFound) {
		return Note{}, err
	}
	if note.Fields == nil {
		note.Fields = map[string]string{}
	}

	data, err := json.Marshal(note.Fields)
	if err != nil {
		return Note{}, fmt.Errorf("failed to encode note fields: %w", err)
	}

	err = s.stmtInsertNote.QueryRowContext(ctx,
		note.GUID, note.NoteTypeID, string(data), note.TagString(), note.Deck).Scan(&note.ID)
	if err != nil {
		return Note{}, fmt.Errorf("failed to insert note %s: %w", note.GUID, err)
	}

	s.logger.DebugContext(ctx, "Note added",
		slog.String("guid", note.GUID),
		slog.String("note_type", nt.Name),
	)
	return note, nil
}

// GetNote loads a note by GUID. It returns ErrNotFound if none exists.
func (s *Store) GetNote(ctx context.Context, guid string) (Note, error) {
	note := Note{GUID: guid}
	var fields, tags string
	err := s.stmtGetNote.QueryRowContext(ctx, guid).Scan(&note.ID, &note.NoteTypeID, &fields, &tags, &note.Deck)
	if errors.Is(err, sql.ErrNoRows) {
		return Note{}, fmt.Errorf("note %s: %w", guid, ErrNotFound)
	}
	if err != nil {
		return Note{}, err
	}
	if err = json.Unmarshal([]byte(fields), &note.Fields); err != nil {
		return Note{}, fmt.Errorf("note %s has corrupt fields: %w", guid, err)
	}
	note.Tags = splitTags(tags)
	return note, nil
}

// ListNotes returns every note of a note type in insertion order.
func (s *Store) ListNotes(ctx context.Context, noteTypeID int) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT note_id, guid, fields, tags, deck FROM notes WHERE note_type_id = ? ORDER BY note_id`, noteTypeID)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var list []Note
	for rows.Next() {
		note := Note{NoteTypeID: noteTypeID}
		var fields, tags string
		if err = rows.Scan(&note.ID, &note.GUID, &fields, &tags, &note.Deck); err != nil {
			return nil, err
		}
		if err = json.Unmarshal([]byte(fields), &note.Fields); err != nil {
			return nil, fmt.Errorf("note %s has corrupt fields: %w", note.GUID, err)
		}
		note.Tags = splitTags(tags)
		list = append(list, note)
	}
	return list, rows.Err()
}

// CountNotes returns how many notes use the note type.
func (s *Store) CountNotes(ctx context.Context, noteTypeID int) (int, error) {
	var n int
	err := s.stmtCountNotes.QueryRowContext(ctx, noteTypeID).Scan(&n)
	return n, err
}

// RemoveNote deletes a note by GUID.
func (s *Store) RemoveNote(ctx context.Context, guid string) error {
	res, err := s.stmtDeleteNote.ExecContext(ctx, guid)
	if err != nil {
		return fmt.Errorf("failed to remove note %s: %w", guid, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("note %s: %w", guid, ErrNotFound)
	}
	return nil
}
