package notes

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

var (
	// ErrNotFound is returned when a note type, template or note does not exist.
	ErrNotFound = errors.New("notes: not found")
	// ErrInvalid is returned for note types or notes that fail basic checks
	// before reaching the database.
	ErrInvalid = errors.New("notes: invalid")
	// ErrExists is returned when adding a note whose GUID is already taken.
	ErrExists = errors.New("notes: already exists")
)

// SetupSchema initializes the tables used by the Store. It is idempotent and
// safe to call on an already-initialized database.
func SetupSchema(db *sql.DB) error {

	const (
		schemaNoteTypes = `
CREATE TABLE IF NOT EXISTS note_types (
    note_type_id INTEGER PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    kind TEXT NOT NULL,
    css  TEXT NOT NULL DEFAULT ''
);
`
		schemaFields = `
CREATE TABLE IF NOT EXISTS note_fields (
    note_type_id INTEGER NOT NULL,
    ord INTEGER NOT NULL,
    name TEXT NOT NULL,
    PRIMARY KEY (note_type_id, ord),
    UNIQUE (note_type_id, name)
);
`
		schemaTemplates = `
CREATE TABLE IF NOT EXISTS card_templates (
    note_type_id INTEGER NOT NULL,
    ord INTEGER NOT NULL,
    name TEXT NOT NULL,
    qfmt TEXT NOT NULL,
    afmt TEXT NOT NULL,
    PRIMARY KEY (note_type_id, ord)
);
`
		schemaNotes = `
CREATE TABLE IF NOT EXISTS notes (
    note_id INTEGER PRIMARY KEY,
    guid TEXT NOT NULL UNIQUE,
    note_type_id INTEGER NOT NULL,
    fields TEXT NOT NULL,
    tags TEXT NOT NULL DEFAULT '',
    deck TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_notes_note_type ON notes (note_type_id);
`
	)

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	for _, stmt := range []string{schemaNoteTypes, schemaFields, schemaTemplates, schemaNotes} {
		if _, err = tx.Exec(stmt); err != nil {
			return fmt.Errorf("could not create schema: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}

	return nil
}

// Store is the entry point for reading and writing the collection. It holds
// the database connection and prepared statements for the hot lookups.
type Store struct {
	db                   *sql.DB
	stmtGetNoteTypeInfo  *sql.Stmt
	stmtGetNoteTypeByID  *sql.Stmt
	stmtGetNoteTypeInfos *sql.Stmt
	stmtGetFields        *sql.Stmt
	stmtGetTemplates     *sql.Stmt
	stmtUpdateTemplate   *sql.Stmt
	stmtInsertNote       *sql.Stmt
	stmtGetNote          *sql.Stmt
	stmtDeleteNote       *sql.Stmt
	stmtCountNotes       *sql.Stmt
	logger               *slog.Logger
}

// NewStore creates a Store and prepares its statements. SetupSchema must have
// been called on db first.
func NewStore(db *sql.DB) (*Store, error) {
	prepare := func(query string) (*sql.Stmt, error) {
		stmt, err := db.Prepare(query)
		if err != nil {
			return nil, fmt.Errorf("could not prepare %q: %w", query, err)
		}
		return stmt, nil
	}

	s := &Store{
		db:     db,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	var err error
	if s.stmtGetNoteTypeInfo, err = prepare(`SELECT note_type_id, kind, css FROM note_types WHERE name = ?;`); err != nil {
		return nil, err
	}
	if s.stmtGetNoteTypeByID, err = prepare(`SELECT name, kind, css FROM note_types WHERE note_type_id = ?;`); err != nil {
		return nil, err
	}
	if s.stmtGetNoteTypeInfos, err = prepare(`SELECT note_type_id, name, kind FROM note_types ORDER BY name;`); err != nil {
		return nil, err
	}
	if s.stmtGetFields, err = prepare(`SELECT name FROM note_fields WHERE note_type_id = ? ORDER BY ord;`); err != nil {
		return nil, err
	}
	if s.stmtGetTemplates, err = prepare(`SELECT ord, name, qfmt, afmt FROM card_templates WHERE note_type_id = ? ORDER BY ord;`); err != nil {
		return nil, err
	}
	if s.stmtUpdateTemplate, err = prepare(`UPDATE card_templates SET name = ?, qfmt = ?, afmt = ? WHERE note_type_id = ? AND ord = ?;`); err != nil {
		return nil, err
	}
	if s.stmtInsertNote, err = prepare(`INSERT INTO notes (guid, note_type_id, fields, tags, deck) VALUES (?, ?, ?, ?, ?) RETURNING note_id;`); err != nil {
		return nil, err
	}
	if s.stmtGetNote, err = prepare(`SELECT note_id, note_type_id, fields, tags, deck FROM notes WHERE guid = ?;`); err != nil {
		return nil, err
	}
	if s.stmtDeleteNote, err = prepare(`DELETE FROM notes WHERE guid = ?;`); err != nil {
		return nil, err
	}
	if s.stmtCountNotes, err = prepare(`SELECT COUNT(*) FROM notes WHERE note_type_id = ?;`); err != nil {
		return nil, err
	}

	return s, nil
}

// Close releases the prepared statements held by the Store. The database
// itself is owned by the caller.
func (s *Store) Close() {
	for _, stmt := range []*sql.Stmt{
		s.stmtGetNoteTypeInfo,
		s.stmtGetNoteTypeByID,
		s.stmtGetNoteTypeInfos,
		s.stmtGetFields,
		s.stmtGetTemplates,
		s.stmtUpdateTemplate,
		s.stmtInsertNote,
		s.stmtGetNote,
		s.stmtDeleteNote,
		s.stmtCountNotes,
	} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
}

// SetLogger sets the logger for the Store. By default, all logs are discarded.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}
