package notes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Kind selects how cards are generated for a note type.
type Kind string

const (
	// KindStandard note types produce one card per template whose question
	// side has content.
	KindStandard Kind = "standard"
	// KindCloze note types produce one card per cloze ordinal, all rendered
	// from the first template.
	KindCloze Kind = "cloze"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindStandard || k == KindCloze
}

// CardTemplate is one card of a note type. Ord is its 1-based position,
// assigned by the Store.
type CardTemplate struct {
	Ord  int    `json:"ord" yaml:"ord,omitempty"`
	Name string `json:"name" yaml:"name"`
	QFmt string `json:"qfmt" yaml:"qfmt"`
	AFmt string `json:"afmt" yaml:"afmt"`
}

// NoteType is a complete note type with its fields and templates.
type NoteType struct {
	ID        int            `json:"id" yaml:"-"`
	Name      string         `json:"name" yaml:"name"`
	Kind      Kind           `json:"kind" yaml:"kind"`
	CSS       string         `json:"css,omitempty" yaml:"css,omitempty"`
	Fields    []string       `json:"fields" yaml:"fields"`
	Templates []CardTemplate `json:"templates" yaml:"templates"`
}

// NoteTypeInfo is the summary of a note type used for listings.
type NoteTypeInfo struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

// Template returns the template with the given ordinal.
func (nt NoteType) Template(ord int) (CardTemplate, bool) {
	for _, t := range nt.Templates {
		if t.Ord == ord {
			return t, true
		}
	}
	return CardTemplate{}, false
}

// HasField reports whether the note type defines a field called name.
func (nt NoteType) HasField(name string) bool {
	for _, f := range nt.Fields {
		if f == name {
			return true
		}
	}
	return false
}

// check validates the parts of a note type the database cannot.
func (nt NoteType) check() error {
	if strings.TrimSpace(nt.Name) == "" {
		return fmt.Errorf("%w: note type name is required", ErrInvalid)
	}
	if !nt.Kind.Valid() {
		return fmt.Errorf("%w: unknown note type kind %q", ErrInvalid, nt.Kind)
	}
	if len(nt.Fields) == 0 {
		return fmt.Errorf("%w: note type %q has no fields", ErrInvalid, nt.Name)
	}
	if len(nt.Templates) == 0 {
		return fmt.Errorf("%w: note type %q has no card templates", ErrInvalid, nt.Name)
	}
	seen := make(map[string]struct{}, len(nt.Fields))
	for _, f := range nt.Fields {
		if strings.TrimSpace(f) == "" {
			return fmt.Errorf("%w: note type %q has an empty field name", ErrInvalid, nt.Name)
		}
		if _, dup := seen[f]; dup {
			return fmt.Errorf("%w: note type %q repeats field %q", ErrInvalid, nt.Name, f)
		}
		seen[f] = struct{}{}
	}
	return nil
}

// InsertNoteType stores a new note type with its fields and templates inside
// a single transaction. Template ordinals are assigned from their position.
// The stored note type is returned.
func (s *Store) InsertNoteType(ctx context.Context, nt NoteType) (NoteType, error) {
	if err := nt.check(); err != nil {
		return NoteType{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return NoteType{}, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	id, err := insertNoteTypeTx(ctx, tx, nt)
	if err != nil {
		return NoteType{}, err
	}
	if err = tx.Commit(); err != nil {
		return NoteType{}, fmt.Errorf("could not commit note type %q: %w", nt.Name, err)
	}

	s.logger.InfoContext(ctx, "Note type created",
		slog.String("note_type", nt.Name),
		slog.Int("note_type_id", id),
		slog.Int("templates", len(nt.Templates)),
	)
	return s.GetNoteTypeByID(ctx, id)
}

func insertNoteTypeTx(ctx context.Context, tx *sql.Tx, nt NoteType) (int, error) {
	var id int
	err := tx.QueryRowContext(ctx,
		`INSERT INTO note_types (name, kind, css) VALUES (?, ?, ?) RETURNING note_type_id`,
		nt.Name, string(nt.Kind), nt.CSS).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert note type %q: %w", nt.Name, err)
	}

	for i, field := range nt.Fields {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO note_fields (note_type_id, ord, name) VALUES (?, ?, ?)`,
			id, i+1, field); err != nil {
			return 0, fmt.Errorf("failed to insert field %q: %w", field, err)
		}
	}

	for i, t := range nt.Templates {
		name := t.Name
		if name == "" {
			name = fmt.Sprintf("Card %d", i+1)
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO card_templates (note_type_id, ord, name, qfmt, afmt) VALUES (?, ?, ?, ?, ?)`,
			id, i+1, name, t.QFmt, t.AFmt); err != nil {
			return 0, fmt.Errorf("failed to insert card template %q: %w", name, err)
		}
	}
	return id, nil
}

// GetNoteType loads a note type by name. It returns ErrNotFound if none exists.
func (s *Store) GetNoteType(ctx context.Context, name string) (NoteType, error) {
	nt := NoteType{Name: name}
	var kind string
	err := s.stmtGetNoteTypeInfo.QueryRowContext(ctx, name).Scan(&nt.ID, &kind, &nt.CSS)
	if errors.Is(err, sql.ErrNoRows) {
		return NoteType{}, fmt.Errorf("note type %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return NoteType{}, err
	}
	nt.Kind = Kind(kind)
	return s.loadParts(ctx, nt)
}

// GetNoteTypeByID loads a note type by its id.
func (s *Store) GetNoteTypeByID(ctx context.Context, id int) (NoteType, error) {
	nt := NoteType{ID: id}
	var kind string
	err := s.stmtGetNoteTypeByID.QueryRowContext(ctx, id).Scan(&nt.Name, &kind, &nt.CSS)
	if errors.Is(err, sql.ErrNoRows) {
		return NoteType{}, fmt.Errorf("note type %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return NoteType{}, err
	}
	nt.Kind = Kind(kind)
	return s.loadParts(ctx, nt)
}

func (s *Store) loadParts(ctx context.Context, nt NoteType) (NoteType, error) {
	rows, err := s.stmtGetFields.QueryContext(ctx, nt.ID)
	if err != nil {
		return NoteType{}, fmt.Errorf("could not query fields: %w", err)
	}
	for rows.Next() {
		var field string
		if err = rows.Scan(&field); err != nil {
			_ = rows.Close()
			return NoteType{}, err
		}
		nt.Fields = append(nt.Fields, field)
	}
	_ = rows.Close()
	if err = rows.Err(); err != nil {
		return NoteType{}, err
	}

	rows, err = s.stmtGetTemplates.QueryContext(ctx, nt.ID)
	if err != nil {
		return NoteType{}, fmt.Errorf("could not query card templates: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)
	for rows.Next() {
		var t CardTemplate
		if err = rows.Scan(&t.Ord, &t.Name, &t.QFmt, &t.AFmt); err != nil {
			return NoteType{}, err
		}
		nt.Templates = append(nt.Templates, t)
	}
	return nt, rows.Err()
}

// GetNoteTypeInfos lists every note type ordered by name.
func (s *Store) GetNoteTypeInfos(ctx context.Context) ([]NoteTypeInfo, error) {
	rows, err := s.stmtGetNoteTypeInfos.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var infos []NoteTypeInfo
	for rows.Next() {
		var info NoteTypeInfo
		var kind string
		if err = rows.Scan(&info.ID, &info.Name, &kind); err != nil {
			return nil, err
		}
		info.Kind = Kind(kind)
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// GetNoteTypes loads every note type in full. If multiple note types are
// needed, this is cheaper than calling GetNoteType for each one.
func (s *Store) GetNoteTypes(ctx context.Context) ([]NoteType, error) {
	infos, err := s.GetNoteTypeInfos(ctx)
	if err != nil {
		return nil, err
	}
	types := make([]NoteType, 0, len(infos))
	for _, info := range infos {
		nt, err := s.loadParts(ctx, NoteType{ID: info.ID, Name: info.Name, Kind: info.Kind})
		if err != nil {
			return nil, fmt.Errorf("could not load note type %q: %w", info.Name, err)
		}
		types = append(types, nt)
	}
	return types, nil
}

// UpdateCardTemplate replaces the name and formats of an existing template,
// identified by noteTypeID and t.Ord.
func (s *Store) UpdateCardTemplate(ctx context.Context, noteTypeID int, t CardTemplate) error {
	res, err := s.stmtUpdateTemplate.ExecContext(ctx, t.Name, t.QFmt, t.AFmt, noteTypeID, t.Ord)
	if err != nil {
		return fmt.Errorf("failed to update card template %d: %w", t.Ord, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("card template %d of note type %d: %w", t.Ord, noteTypeID, ErrNotFound)
	}
	s.logger.InfoContext(ctx, "Card template updated",
		slog.Int("note_type_id", noteTypeID),
		slog.Int("ord", t.Ord),
	)
	return nil
}

// RemoveNoteType deletes a note type together with its fields, templates and
// notes. The operation is performed within a transaction.
func (s *Store) RemoveNoteType(ctx context.Context, id int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	res, err := tx.ExecContext(ctx, "DELETE FROM note_types WHERE note_type_id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to remove note type %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("note type %d: %w", id, ErrNotFound)
	}

	for _, table := range []string{"notes", "card_templates", "note_fields"} {
		if _, err = tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE note_type_id = ?", id); err != nil {
			return fmt.Errorf("failed to remove %s for note type %d: %w", table, id, err)
		}
	}

	s.logger.InfoContext(ctx, "Note type removed", slog.Int("note_type_id", id))
	return tx.Commit()
}
