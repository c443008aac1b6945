package templating

// TemplateConfig holds all configuration options for the TemplateManager.
type TemplateConfig struct {
	// CacheSize is the number of compiled templates kept in memory, keyed by
	// their source. Zero disables caching.
	CacheSize int

	// MaxTemplateBytes rejects templates larger than this many bytes before
	// they are parsed. Zero means no limit.
	MaxTemplateBytes int

	// StrictFields makes validation fail when a template references a field
	// the note type does not define. Reserved fields are always allowed.
	StrictFields bool

	// RejectUnknownFilters makes validation fail when a template uses a filter
	// that is not registered. Rendering passes unknown filters through either way.
	RejectUnknownFilters bool
}

// DefaultConfig returns a TemplateConfig with safe default values.
func DefaultConfig() TemplateConfig {
	return TemplateConfig{
		CacheSize:            512,
		MaxTemplateBytes:     65536, // 64KB
		StrictFields:         true,
		RejectUnknownFilters: false,
	}
}
