package notes

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// DecodeDefinition reads a note type definition written in YAML. Since YAML
// is a superset of JSON, JSON exports are accepted as well.
func DecodeDefinition(r io.Reader) (ExportedNoteType, error) {
	var def ExportedNoteType
	if err := yaml.NewDecoder(r).Decode(&def); err != nil {
		return ExportedNoteType{}, fmt.Errorf("failed to decode note type definition: %w", err)
	}
	if def.Kind == "" {
		def.Kind = KindStandard
	}
	return def, nil
}
