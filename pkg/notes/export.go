package notes

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
)

// ExportedNote is the serializable form of a note inside an export.
type ExportedNote struct {
	GUID   string            `json:"guid,omitempty" yaml:"guid,omitempty"`
	Fields map[string]string `json:"fields" yaml:"fields"`
	Tags   []string          `json:"tags,omitempty" yaml:"tags,omitempty"`
	Deck   string            `json:"deck,omitempty" yaml:"deck,omitempty"`
}

// ExportedNoteType is the serializable form of a note type and its notes,
// used for JSON export and import and for YAML definition files.
type ExportedNoteType struct {
	NoteType `yaml:",inline"`
	Notes    []ExportedNote `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// ExportNoteType writes the named note type and all of its notes to w as
// indented JSON.
func (s *Store) ExportNoteType(ctx context.Context, name string, w io.Writer) error {
	nt, err := s.GetNoteType(ctx, name)
	if err != nil {
		return err
	}
	list, err := s.ListNotes(ctx, nt.ID)
	if err != nil {
		return fmt.Errorf("could not query notes for export: %w", err)
	}

	exported := ExportedNoteType{NoteType: nt}
	for _, n := range list {
		exported.Notes = append(exported.Notes, ExportedNote{
			GUID:   n.GUID,
			Fields: n.Fields,
			Tags:   n.Tags,
			Deck:   n.Deck,
		})
	}

	s.logger.InfoContext(ctx, "Note type exported",
		slog.String("note_type", nt.Name),
		slog.Int("notes_exported", len(exported.Notes)),
	)

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(exported)
}

// ImportNoteType reads a JSON export from r and merges it into the database.
// See ImportExported for the merge rules.
func (s *Store) ImportNoteType(ctx context.Context, r io.Reader) (NoteType, error) {
	var imported ExportedNoteType
	if err := json.NewDecoder(r).Decode(&imported); err != nil {
		return NoteType{}, fmt.Errorf("failed to decode json note type: %w", err)
	}
	return s.ImportExported(ctx, imported)
}

// ImportExported stores an exported note type. When a note type with the same
// name already exists its templates are kept and only the notes are merged;
// notes whose GUID is already present are skipped. The whole import runs in
// one transaction.
func (s *Store) ImportExported(ctx context.Context, imported ExportedNoteType) (NoteType, error) {
	if err := imported.check(); err != nil {
		return NoteType{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return NoteType{}, fmt.Errorf("could not begin transaction for import: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	var id int
	err = tx.QueryRowContext(ctx, "SELECT note_type_id FROM note_types WHERE name = ?", imported.Name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		if id, err = insertNoteTypeTx(ctx, tx, imported.NoteType); err != nil {
			return NoteType{}, err
		}
	} else if err != nil {
		return NoteType{}, fmt.Errorf("failed to query for note type %q: %w", imported.Name, err)
	}

	stmtInsertNote, err := tx.PrepareContext(ctx,
		`INSERT INTO notes (guid, note_type_id, fields, tags, deck) VALUES (?, ?, ?, ?, ?) ON CONFLICT(guid) DO NOTHING`)
	if err != nil {
		return NoteType{}, fmt.Errorf("failed to prepare note insert statement: %w", err)
	}
	defer func(stmt *sql.Stmt) {
		_ = stmt.Close()
	}(stmtInsertNote)

	added := 0
	for _, n := range imported.Notes {
		guid := n.GUID
		if guid == "" {
			guid = uuid.NewString()
		}
		fields := n.Fields
		if fields == nil {
			fields = map[string]string{}
		}
		data, err := json.Marshal(fields)
		if err != nil {
			return NoteType{}, fmt.Errorf("failed to encode fields of note %s: %w", guid, err)
		}
		note := Note{Tags: n.Tags}
		res, err := stmtInsertNote.ExecContext(ctx, guid, id, string(data), note.TagString(), n.Deck)
		if err != nil {
			return NoteType{}, fmt.Errorf("failed to insert note %s: %w", guid, err)
		}
		if affected, _ := res.RowsAffected(); affected > 0 {
			added++
		}
	}

	if err = tx.Commit(); err != nil {
		return NoteType{}, fmt.Errorf("could not commit import: %w", err)
	}

	s.logger.InfoContext(ctx, "Note type imported",
		slog.String("note_type", imported.Name),
		slog.Int("target_note_type_id", id),
		slog.Int("notes_added", added),
		slog.Int("notes_skipped", len(imported.Notes)-added),
	)
	return s.GetNoteTypeByID(ctx, id)
}
