package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/CTAG07/Drosera/pkg/cloze"
	"github.com/CTAG07/Drosera/pkg/notes"
	"github.com/CTAG07/Drosera/pkg/templating"
)

// newLogger builds the process logger for the configured level.
func newLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLogLevel(level)}))
}

// collection bundles what the offline commands need to work on the database.
type collection struct {
	cm     *ConfigManager
	logger *slog.Logger
	db     *sql.DB
	store  *notes.Store
	tm     *templating.TemplateManager
}

func openCollectionFromConfig(ctx context.Context, g *Globals) (*collection, error) {
	cm, err := NewConfigManager(g.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := newLogger(os.Stderr, cm.Get().Server.LogLevel)
	cm.SetLogger(logger)

	if err = os.MkdirAll(cm.Get().Server.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := initDB(cm.Get().Server.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	store, tm, err := openCollection(ctx, cm, logger, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &collection{cm: cm, logger: logger, db: db, store: store, tm: tm}, nil
}

func (c *collection) Close() {
	c.store.Close()
	if err := c.db.Close(); err != nil {
		c.logger.Error("Failed to close database", "error", err)
	}
}

// ServeCmd runs the API server until it is shut down.
type ServeCmd struct{}

func (c *ServeCmd) Run(g *Globals) error {
	baseLogger := newLogger(os.Stdout, "info")

	actionChan := make(chan string, 1)

	go func() {
		osSignalChan := make(chan os.Signal, 1)
		signal.Notify(osSignalChan, syscall.SIGINT, syscall.SIGTERM)
		<-osSignalChan // Wait for a signal
		baseLogger.Info("OS signal received, initiating shutdown.")
		actionChan <- actionShutdown
	}()

	for {
		action, err := run(g.Config, actionChan)
		if err != nil {
			baseLogger.Error("An error occurred during server run, shutting down.", "error", err)
			return err
		}

		if action != actionRestart {
			break
		}
		baseLogger.Info("--- Server Restarting ---")
	}

	baseLogger.Info("Drosera has shut down.")
	return nil
}

// run hosts the API server and returns whenever the server is shut down or restarted.
func run(configPath string, actionChan chan string) (string, error) {
	cm, err := NewConfigManager(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to load configuration: %w", err)
	}
	config := cm.Get()

	logger := newLogger(os.Stdout, config.Server.LogLevel)
	cm.SetLogger(logger)
	logger.Info("Starting server cycle...", "version", Version)

	if err = os.MkdirAll(config.Server.DataDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := initDB(config.Server.DatabasePath)
	if err != nil {
		return "", fmt.Errorf("failed to initialize database: %w", err)
	}

	server, err := NewServer(context.Background(), cm, logger, db, actionChan)
	if err != nil {
		_ = db.Close()
		return "", fmt.Errorf("failed to create server object: %w", err)
	}

	apiHttpServer := &http.Server{
		Addr:              config.Server.ApiAddr,
		Handler:           server.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting api server", "address", apiHttpServer.Addr)
		if err := apiHttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Api server failed", "error", err)
			actionChan <- actionShutdown
		}
	}()

	action := <-actionChan // Block here until API or OS signal sends an action.

	logger.Info("Stopping server for " + action + "...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = apiHttpServer.Shutdown(ctx); err != nil {
		logger.Error("Api server shutdown failed", "error", err)
	}
	logger.Info("HTTP server stopped.")

	server.Close()
	logger.Info("Closing database connection.")
	if err = db.Close(); err != nil {
		logger.Error("Failed to close database", "error", err)
	}

	return action, nil
}

// RenderCmd renders a template file. With --ordinal the cloze filter is
// active for that card. With --back both sides are printed, the question
// first, separated by a line holding only "---".
type RenderCmd struct {
	Template string `name:"template" short:"t" required:"" type:"existingfile" help:"Template file to render (the front with --back)."`
	Back     string `name:"back" short:"b" type:"existingfile" help:"Back template file; renders both sides with {{FrontSide}} set."`
	Fields   string `name:"fields" short:"f" default:"{}" help:"Fields as a JSON object, or @FILE to read them from a file."`
	Ordinal  int    `name:"ordinal" short:"n" help:"Cloze card ordinal (1-based). 0 renders without cloze handling."`
	Answer   bool   `name:"answer" short:"a" help:"Render the answer side of the cloze card."`
}

func (c *RenderCmd) Run(g *Globals) error {
	cfg, err := LoadConfig(g.Config)
	if err != nil {
		return err
	}
	return c.render(os.Stdout, cfg)
}

func (c *RenderCmd) render(out io.Writer, cfg *Config) error {
	src, err := os.ReadFile(c.Template)
	if err != nil {
		return err
	}
	fields, err := parseFieldsArg(c.Fields)
	if err != nil {
		return err
	}

	tm, err := templating.NewTemplateManager(context.Background(), nil, nil, cfg.Templates)
	if err != nil {
		return err
	}
	if c.Back != "" {
		back, err := os.ReadFile(c.Back)
		if err != nil {
			return err
		}
		question, answer, err := tm.RenderPair(string(src), string(back), fields, c.Ordinal)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "%s\n---\n%s\n", question, answer)
		return err
	}

	t, err := tm.Compile(string(src))
	if err != nil {
		return fmt.Errorf("%s: %w", c.Template, err)
	}

	var html string
	if c.Ordinal > 0 {
		html = t.RenderCloze(fields, c.Ordinal, !c.Answer)
	} else {
		html = t.Render(fields)
	}
	_, err = fmt.Fprintln(out, html)
	return err
}

// parseFieldsArg decodes a JSON object given inline or, with a leading @,
// read from a file ("@-" reads stdin).
func parseFieldsArg(arg string) (map[string]string, error) {
	data := []byte(arg)
	if path, ok := strings.CutPrefix(arg, "@"); ok {
		var err error
		if path == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(path)
		}
		if err != nil {
			return nil, err
		}
	}
	fields := map[string]string{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("invalid fields: %w", err)
	}
	return fields, nil
}

// CountCmd prints the number of cloze cards a text produces and their ordinals.
type CountCmd struct {
	Text string `arg:"" optional:"" help:"Field text. Read from stdin when omitted."`
}

func (c *CountCmd) Run() error {
	text := c.Text
	if text == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return err
		}
		text = string(data)
	}
	ords := make([]string, 0)
	for _, o := range cloze.Ordinals(text) {
		ords = append(ords, fmt.Sprint(o))
	}
	_, err := fmt.Fprintf(os.Stdout, "%d cards: [%s]\n", templating.CountClozeCards(text), strings.Join(ords, " "))
	return err
}

// ImportCmd merges definition files into the collection.
type ImportCmd struct {
	Files []string `arg:"" required:"" type:"existingfile" help:"Definition or export files (.yaml, .yml, .json, optionally .xz)."`
}

func (c *ImportCmd) Run(g *Globals) error {
	ctx := context.Background()
	col, err := openCollectionFromConfig(ctx, g)
	if err != nil {
		return err
	}
	defer col.Close()
	return importDefinitionFiles(ctx, col.logger, col.store, col.tm, c.Files)
}

// ExportCmd writes a note type and its notes as JSON.
type ExportCmd struct {
	Name string `arg:"" help:"Note type name."`
	Out  string `name:"out" short:"o" help:"Output file. A .xz suffix compresses the export. Defaults to stdout."`
}

func (c *ExportCmd) Run(g *Globals) error {
	ctx := context.Background()
	col, err := openCollectionFromConfig(ctx, g)
	if err != nil {
		return err
	}
	defer col.Close()

	var buf bytes.Buffer
	if err = col.store.ExportNoteType(ctx, c.Name, &buf); err != nil {
		return err
	}
	if c.Out == "" {
		_, err = buf.WriteTo(os.Stdout)
		return err
	}
	if err = writeExportFile(c.Out, buf.Bytes()); err != nil {
		return err
	}
	col.logger.Info("Exported note type", "note_type", c.Name, "file", c.Out)
	return nil
}

// VersionCmd prints build information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	v := currentVersion()
	_, err := fmt.Fprintf(os.Stdout, "drosera %s (commit %s, built %s, %s)\n", v.Version, v.Commit, v.BuildDate, v.GoVersion)
	return err
}
