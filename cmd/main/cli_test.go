package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestParseFieldsArg(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fields.json")
	if err := os.WriteFile(path, []byte(`{"Front": "from file"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	fields, err := parseFieldsArg(`{"Front": "inline"}`)
	if err != nil || fields["Front"] != "inline" {
		t.Errorf("inline: got %v, %v", fields, err)
	}
	fields, err = parseFieldsArg("@" + path)
	if err != nil || fields["Front"] != "from file" {
		t.Errorf("file: got %v, %v", fields, err)
	}
	if _, err = parseFieldsArg(`["not", "an", "object"]`); err == nil {
		t.Error("expected an error for a JSON array")
	}
	if _, err = parseFieldsArg("@" + filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestExportCommandWritesCompressedFile(t *testing.T) {
	env := setupTestServer(t, nil)
	createNoteTypes(t, env, basicNoteTypeJSON)

	out := filepath.Join(env.dir, "basic.json.xz")
	cmd := &ExportCmd{Name: "Basic", Out: out}
	if err := cmd.Run(&Globals{Config: env.configPath}); err != nil {
		t.Fatalf("ExportCmd.Run() error = %v", err)
	}

	def, err := readDefinitionFile(out)
	if err != nil {
		t.Fatalf("readDefinitionFile() error = %v", err)
	}
	if def.Name != "Basic" || len(def.Templates) != 2 {
		t.Errorf("exported definition = %+v", def)
	}

	missing := &ExportCmd{Name: "Missing", Out: filepath.Join(env.dir, "missing.json")}
	if err = missing.Run(&Globals{Config: env.configPath}); err == nil {
		t.Error("expected an error exporting a missing note type")
	}
}

func TestImportCommand(t *testing.T) {
	env := setupTestServer(t, nil)
	path := filepath.Join(env.dir, "vocab.yaml")
	if err := os.WriteFile(path, []byte(vocabDefinition), 0o644); err != nil {
		t.Fatal(err)
	}

	cmd := &ImportCmd{Files: []string{path}}
	if err := cmd.Run(&Globals{Config: env.configPath}); err != nil {
		t.Fatalf("ImportCmd.Run() error = %v", err)
	}
	if _, err := env.server.store.GetNoteType(context.Background(), "Vocab"); err != nil {
		t.Errorf("imported note type not found: %v", err)
	}
}

func TestRenderCommandPair(t *testing.T) {
	dir := t.TempDir()
	front := filepath.Join(dir, "front.tmpl")
	back := filepath.Join(dir, "back.tmpl")
	if err := os.WriteFile(front, []byte("{{cloze:Text}}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(back, []byte("{{FrontSide}}|{{cloze:Text}}"), 0o644); err != nil {
		t.Fatal(err)
	}

	cmd := &RenderCmd{
		Template: front,
		Back:     back,
		Fields:   `{"Text": "{{c1::Paris}} is in {{c2::France}}"}`,
		Ordinal:  1,
	}
	var out bytes.Buffer
	if err := cmd.render(&out, DefaultConfig()); err != nil {
		t.Fatalf("render() error = %v", err)
	}
	want := `<span class="cloze">[...]</span> is in France` + "\n---\n" +
		`<span class="cloze">[...]</span> is in France|<span class="cloze">Paris</span> is in France` + "\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}

	single := &RenderCmd{Template: front, Fields: cmd.Fields, Ordinal: 1, Answer: true}
	out.Reset()
	if err := single.render(&out, DefaultConfig()); err != nil {
		t.Fatalf("render() error = %v", err)
	}
	if want := `<span class="cloze">Paris</span> is in France` + "\n"; out.String() != want {
		t.Errorf("single side output = %q, want %q", out.String(), want)
	}
}
