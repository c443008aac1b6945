package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/CTAG07/Drosera/pkg/notes"
	"github.com/CTAG07/Drosera/pkg/templating"
	"github.com/natefinch/atomic"
	"github.com/ulikunitz/xz"
)

// xzMagic is the header of every xz stream.
var xzMagic = []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}

var definitionExts = []string{".yaml", ".yml", ".json"}

// maybeDecompress returns a reader over r that transparently decompresses r
// when it starts with the xz magic bytes.
func maybeDecompress(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(xzMagic))
	if err != nil || !bytes.Equal(head, xzMagic) {
		return br, nil
	}
	xr, err := xz.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("failed to open xz stream: %w", err)
	}
	return xr, nil
}

// compressXZ compresses data into a single xz stream.
func compressXZ(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create xz writer: %w", err)
	}
	if _, err = xw.Write(data); err != nil {
		return nil, fmt.Errorf("failed to compress: %w", err)
	}
	if err = xw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish xz stream: %w", err)
	}
	return buf.Bytes(), nil
}

// writeExportFile writes data to path atomically, compressing it first when
// path ends in .xz.
func writeExportFile(path string, data []byte) error {
	if strings.HasSuffix(path, ".xz") {
		compressed, err := compressXZ(data)
		if err != nil {
			return err
		}
		data = compressed
	}
	return atomic.WriteFile(path, bytes.NewReader(data))
}

// readDefinitionFile decodes a note type definition from a YAML or JSON file,
// which may be xz compressed.
func readDefinitionFile(path string) (notes.ExportedNoteType, error) {
	f, err := os.Open(path)
	if err != nil {
		return notes.ExportedNoteType{}, err
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	r, err := maybeDecompress(f)
	if err != nil {
		return notes.ExportedNoteType{}, fmt.Errorf("%s: %w", path, err)
	}
	def, err := notes.DecodeDefinition(r)
	if err != nil {
		return notes.ExportedNoteType{}, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// definitionFiles lists the definition files in dir, sorted by name.
func definitionFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".xz")
		for _, ext := range definitionExts {
			if strings.EqualFold(filepath.Ext(name), ext) {
				files = append(files, filepath.Join(dir, e.Name()))
				break
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// importDefinition validates a decoded definition against the template
// engine and merges it into the store.
func importDefinition(ctx context.Context, store *notes.Store, tm *templating.TemplateManager, def notes.ExportedNoteType) (notes.NoteType, error) {
	if err := tm.Validate(def.NoteType); err != nil {
		return notes.NoteType{}, fmt.Errorf("note type %q is invalid: %w", def.Name, err)
	}
	return store.ImportExported(ctx, def)
}

// importDefinitionFiles imports every file in order and refreshes the
// manager once at the end. It stops at the first failure.
func importDefinitionFiles(ctx context.Context, logger *slog.Logger, store *notes.Store, tm *templating.TemplateManager, paths []string) error {
	for _, path := range paths {
		def, err := readDefinitionFile(path)
		if err != nil {
			return err
		}
		nt, err := importDefinition(ctx, store, tm, def)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		logger.Info("Imported note type definition", slog.String("file", path), slog.String("note_type", nt.Name))
	}
	return tm.Refresh(ctx)
}
