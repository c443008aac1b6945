package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"strings"
	"sync"

	"github.com/CTAG07/Drosera/pkg/templating"
	"github.com/natefinch/atomic"
)

// ServerConfig controls the HTTP API and where the collection lives.
type ServerConfig struct {
	ApiAddr         string   `json:"api_addr"`
	LogLevel        string   `json:"log_level"`
	TrustedProxies  []string `json:"trusted_proxies"`
	DataDir         string   `json:"data_dir"`
	DatabasePath    string   `json:"database_path"`
	MaxRequestBytes int64    `json:"max_request_bytes"`
	// DefinitionsDir holds note type definition files (.yaml, .yml, .json,
	// optionally .xz compressed) imported on startup. Empty disables it.
	DefinitionsDir string `json:"definitions_dir"`
}

// Config is the on-disk configuration file.
type Config struct {
	Server    *ServerConfig              `json:"server_config"`
	Templates *templating.TemplateConfig `json:"template_config"`
}

// DefaultServerConfig listens on :7378 and keeps the collection in ./data.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ApiAddr:         ":7378",
		LogLevel:        "info",
		TrustedProxies:  []string{},
		DataDir:         "./data",
		DatabasePath:    "./data/drosera.db?_journal_mode=WAL&_busy_timeout=5000",
		MaxRequestBytes: 4 << 20,
	}
}

// DefaultConfig returns a complete configuration with default values.
func DefaultConfig() *Config {
	tc := templating.DefaultConfig()
	return &Config{
		Server:    DefaultServerConfig(),
		Templates: &tc,
	}
}

// LoadConfig reads the JSON configuration at path. Sections missing from the
// file get their defaults. A missing file is created with the defaults; if
// that write fails the defaults are still returned.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if err = writeConfig(path, cfg); err != nil {
			slog.Warn("Could not write default config", "path", path, "error", err)
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not read config %s: %w", path, err)
	}

	if err = json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("could not parse config %s: %w", path, err)
	}
	if cfg.Server == nil {
		cfg.Server = DefaultServerConfig()
	}
	if cfg.Templates == nil {
		tc := templating.DefaultConfig()
		cfg.Templates = &tc
	}
	return cfg, nil
}

func writeConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("could not encode config: %w", err)
	}
	return atomic.WriteFile(path, bytes.NewReader(data))
}

// parseLogLevel maps the config's log level names onto slog levels.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// parseTrustedProxies turns addresses and CIDR ranges into prefixes. A bare
// address becomes a single-address prefix. Entries that parse as neither are
// returned separately.
func parseTrustedProxies(entries []string) (prefixes []netip.Prefix, bad []string) {
	for _, e := range entries {
		if p, err := netip.ParsePrefix(e); err == nil {
			prefixes = append(prefixes, p.Masked())
			continue
		}
		if addr, err := netip.ParseAddr(e); err == nil {
			addr = addr.Unmap()
			prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		bad = append(bad, e)
	}
	return prefixes, bad
}

// ConfigManager guards the live configuration. Updates are pushed to the
// template manager and written back to the config file.
type ConfigManager struct {
	mu      sync.RWMutex
	path    string
	config  *Config
	proxies []netip.Prefix
	logger  *slog.Logger
	tm      *templating.TemplateManager
}

// NewConfigManager loads the config at path. Until SetLogger is called,
// warnings go to stdout.
func NewConfigManager(path string) (*ConfigManager, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	cm := &ConfigManager{
		path:   path,
		config: cfg,
		logger: slog.New(slog.NewTextHandler(os.Stdout, nil)),
	}
	cm.applyProxies()
	return cm, nil
}

// SetTemplateManager hands the current template settings to tm and keeps it
// in sync with later updates.
func (cm *ConfigManager) SetTemplateManager(tm *templating.TemplateManager) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.tm = tm
	if tm != nil {
		tm.SetConfig(cm.config.Templates)
	}
}

// SetLogger replaces the logger; a nil logger discards output.
func (cm *ConfigManager) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cm.logger = logger
}

// Get returns a copy of the current configuration.
func (cm *ConfigManager) Get() Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return *cm.config
}

// Update validates and applies a new configuration, reloads the note types
// under the new template settings and saves the result to disk. On failure
// the previous configuration stays in effect.
func (cm *ConfigManager) Update(ctx context.Context, next Config) error {
	if next.Server == nil || next.Templates == nil {
		return errors.New("server_config and template_config are required")
	}
	if next.Templates.CacheSize < 0 || next.Templates.MaxTemplateBytes < 0 {
		return errors.New("template limits must not be negative")
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.tm != nil {
		prev := cm.config.Templates
		cm.tm.SetConfig(next.Templates)
		if err := cm.tm.Refresh(ctx); err != nil {
			cm.tm.SetConfig(prev)
			_ = cm.tm.Refresh(ctx)
			return fmt.Errorf("template configuration rejected: %w", err)
		}
	}

	*cm.config = next
	cm.applyProxies()

	if err := writeConfig(cm.path, cm.config); err != nil {
		return fmt.Errorf("could not save config %s: %w", cm.path, err)
	}
	cm.logger.InfoContext(ctx, "Configuration updated", slog.String("path", cm.path))
	return nil
}

// IsTrusted reports whether ip is a configured trusted proxy.
func (cm *ConfigManager) IsTrusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	cm.mu.RLock()
	defer cm.mu.RUnlock()
	for _, p := range cm.proxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// applyProxies must be called with mu held or before the manager is shared.
func (cm *ConfigManager) applyProxies() {
	prefixes, bad := parseTrustedProxies(cm.config.Server.TrustedProxies)
	for _, e := range bad {
		cm.logger.Warn("Ignoring invalid trusted proxy", slog.String("entry", e))
	}
	cm.proxies = prefixes
}
