package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/CTAG07/Drosera/pkg/notes"
	"github.com/CTAG07/Drosera/pkg/templating"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-Id"

type Server struct {
	cm          *ConfigManager
	logger      *slog.Logger
	store       *notes.Store
	tm          *templating.TemplateManager
	authAPI     *AuthAPI
	renderAPI   *RenderAPI
	noteTypeAPI *NoteTypeAPI
	noteAPI     *NoteAPI
	statsAPI    *StatsAPI
	serverAPI   *ServerAPI
	apiMux      *http.ServeMux
	handler     http.Handler
}

// setupSchemas creates every table the server needs.
func setupSchemas(db *sql.DB) error {
	if err := notes.SetupSchema(db); err != nil {
		return fmt.Errorf("failed to setup notes schema: %w", err)
	}
	if err := setupAuthSchema(db); err != nil {
		return fmt.Errorf("failed to setup auth schema: %w", err)
	}
	if err := setupStatsSchema(db); err != nil {
		return fmt.Errorf("failed to setup stats schema: %w", err)
	}
	return nil
}

// openCollection sets up the schemas and builds the note store and the
// template manager on top of db.
func openCollection(ctx context.Context, cm *ConfigManager, logger *slog.Logger, db *sql.DB) (*notes.Store, *templating.TemplateManager, error) {
	if err := setupSchemas(db); err != nil {
		return nil, nil, err
	}

	store, err := notes.NewStore(db)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create note store: %w", err)
	}
	store.SetLogger(logger)

	cfg := cm.Get()
	tm, err := templating.NewTemplateManager(ctx, logger, store, cfg.Templates)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to create template manager: %w", err)
	}
	cm.SetTemplateManager(tm)
	return store, tm, nil
}

func NewServer(ctx context.Context, cm *ConfigManager, logger *slog.Logger, db *sql.DB, actionChan chan string) (*Server, error) {
	store, tm, err := openCollection(ctx, cm, logger, db)
	if err != nil {
		return nil, err
	}

	cfg := cm.Get()
	if dir := cfg.Server.DefinitionsDir; dir != "" {
		files, err := definitionFiles(dir)
		if err != nil {
			logger.Warn("Failed to list note type definitions", "dir", dir, "error", err)
		} else if err = importDefinitionFiles(ctx, logger, store, tm, files); err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to import note type definitions: %w", err)
		}
	}

	// api initialization
	statsAPI := NewStatsAPI(db, logger)
	server := &Server{
		cm:          cm,
		logger:      logger,
		store:       store,
		tm:          tm,
		authAPI:     NewAuthAPI(db, logger),
		renderAPI:   NewRenderAPI(tm, statsAPI, logger),
		noteTypeAPI: NewNoteTypeAPI(store, tm, logger),
		noteAPI:     NewNoteAPI(store, tm, statsAPI, logger),
		statsAPI:    statsAPI,
		serverAPI:   NewServerAPI(cm, actionChan, tm, logger),
		apiMux:      http.NewServeMux(),
	}

	apiMux := http.NewServeMux()

	server.authAPI.RegisterRoutes(apiMux)
	server.renderAPI.RegisterRoutes(apiMux)
	server.noteTypeAPI.RegisterRoutes(apiMux)
	server.noteAPI.RegisterRoutes(apiMux)
	server.statsAPI.RegisterRoutes(apiMux)
	server.serverAPI.RegisterRoutes(apiMux)

	// Make sure api functions must pass through authentication first
	authedAPI := server.authAPI.Authenticate(apiMux)
	// ... except for the health check, which is unauthed so something like docker can use it
	server.apiMux.HandleFunc("/api/health", server.serverAPI.handleHealthCheck)
	server.apiMux.Handle("/api/", authedAPI)

	server.handler = server.logRequests(server.limitBody(server.apiMux))

	return server, nil
}

// Close releases the resources owned by the server. The database is owned
// by the caller.
func (s *Server) Close() {
	s.store.Close()
}

// limitBody caps request bodies at the configured size.
func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if limit := s.cm.Get().Server.MaxRequestBytes; limit > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// logRequests tags every request with an id and logs it once it completes.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.Debug("Handled API request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"remote_addr", s.clientIP(r),
			"duration", time.Since(start))
	})
}

// clientIP returns the address of the client. Forwarding headers are only
// honoured when the direct peer is a trusted proxy.
func (s *Server) clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// If splitting fails (e.g., no port), use the address as is.
		ip = r.RemoteAddr
	}
	if !s.cm.IsTrusted(ip) {
		return ip
	}

	// The X-Real-Ip header contains the forwarded IP in some cases (like from nginx)
	if realIP := r.Header.Get("X-Real-Ip"); realIP != "" {
		return realIP
	}
	// The first IP in X-Forwarded-For is the original client.
	if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
		ips := strings.Split(forwardedFor, ",")
		return strings.TrimSpace(ips[0])
	}
	return ip
}
