package notes

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates a file-backed SQLite database in a temporary directory
// and a Store on top of it. Resources are released with t.Cleanup.
func setupTestDB(t *testing.T) (*sql.DB, *Store) {
	dbFile := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", dbFile+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=-4000")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := SetupSchema(db); err != nil {
		t.Fatalf("failed to set up schema: %v", err)
	}

	s, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(s.Close)

	return db, s
}

func basicNoteType() NoteType {
	return NoteType{
		Name:   "Basic",
		Kind:   KindStandard,
		Fields: []string{"Front", "Back"},
		Templates: []CardTemplate{
			{Name: "Forward", QFmt: "{{Front}}", AFmt: "{{FrontSide}}<hr id=answer>{{Back}}"},
			{QFmt: "{{#Back}}{{Back}}{{/Back}}", AFmt: "{{Front}}"},
		},
	}
}

// setupTestDBWithNoteType also inserts the basic note type.
func setupTestDBWithNoteType(t *testing.T) (context.Context, *Store, NoteType) {
	_, s := setupTestDB(t)
	ctx := context.Background()
	nt, err := s.InsertNoteType(ctx, basicNoteType())
	if err != nil {
		t.Fatalf("setup: InsertNoteType() failed: %v", err)
	}
	return ctx, s, nt
}
