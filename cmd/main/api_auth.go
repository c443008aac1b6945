package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	authHeader   = "dros-auth"
	apiKeyPrefix = "dros_"
	scopeMaster  = "*"
)

// Scopes understood by the API handlers.
const (
	scopeAuthManage    = "auth:manage"
	scopeRender        = "render"
	scopeNotesRead     = "notes:read"
	scopeNotesWrite    = "notes:write"
	scopeStatsRead     = "stats:read"
	scopeServerConfig  = "server:config"
	scopeServerControl = "server:control"
)

// Keys are stored as the sha256 of the raw key; scopes are space separated.
const authSchema = `
CREATE TABLE IF NOT EXISTS api_keys (
    id           INTEGER  PRIMARY KEY,
    secret_hash  TEXT     NOT NULL UNIQUE,
    scopes       TEXT     NOT NULL,
    description  TEXT     NOT NULL,
    created_at   DATETIME NOT NULL
);
`

type permissionsKey struct{}

// Permissions is what Authenticate attaches to a request: the key that was
// presented and the scopes it grants.
type Permissions struct {
	KeyID    int // 0 when the API is open
	ScopeSet map[string]struct{}
}

func newPermissions(keyID int, scopes ...string) *Permissions {
	p := &Permissions{KeyID: keyID, ScopeSet: make(map[string]struct{}, len(scopes))}
	for _, s := range scopes {
		p.ScopeSet[s] = struct{}{}
	}
	return p
}

// Allows reports whether the permissions include scope, directly or through
// the master scope.
func (p *Permissions) Allows(scope string) bool {
	if p == nil {
		return false
	}
	if _, ok := p.ScopeSet[scopeMaster]; ok {
		return true
	}
	_, ok := p.ScopeSet[scope]
	return ok
}

// Scopes returns the granted scopes in sorted order.
func (p *Permissions) Scopes() []string {
	scopes := make([]string, 0, len(p.ScopeSet))
	for s := range p.ScopeSet {
		scopes = append(scopes, s)
	}
	slices.Sort(scopes)
	return scopes
}

func permissionsFrom(ctx context.Context) (*Permissions, bool) {
	p, ok := ctx.Value(permissionsKey{}).(*Permissions)
	return p, ok
}

// AuthAPI manages API keys and guards every authenticated route.
type AuthAPI struct {
	db     *sql.DB
	logger *slog.Logger
}

func setupAuthSchema(db *sql.DB) error {
	_, err := db.Exec(authSchema)
	return err
}

// NewAuthAPI creates a new instance of the AuthAPI.
func NewAuthAPI(db *sql.DB, logger *slog.Logger) *AuthAPI {
	return &AuthAPI{db: db, logger: logger}
}

// RegisterRoutes sets up the routing for the key management endpoints.
func (a *AuthAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/auth/me", a.handleWhoAmI)
	mux.HandleFunc("/api/auth/keys", a.handleKeys)
	mux.HandleFunc("/api/auth/keys/", a.handleKey)
}

// APIKeyInfo describes a stored key. The raw key is never listed.
type APIKeyInfo struct {
	ID          int       `json:"id"`
	Scopes      []string  `json:"scopes"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// CreateKeyRequest is the body of POST /api/auth/keys.
type CreateKeyRequest struct {
	Scopes      []string `json:"scopes"`
	Description string   `json:"description"`
}

// CreateKeyResponse carries the raw key. This is the only time it is sent.
type CreateKeyResponse struct {
	ID     int      `json:"id"`
	RawKey string   `json:"raw_key"`
	Scopes []string `json:"scopes"`
}

// Authenticate resolves the dros-auth header into Permissions for the rest
// of the chain. With no keys stored the API is open and every request holds
// the master scope.
func (a *AuthAPI) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		n, err := a.countKeys(ctx)
		if err != nil {
			a.logger.ErrorContext(ctx, "Could not count API keys", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}

		var perms *Permissions
		if n == 0 {
			perms = newPermissions(0, scopeMaster)
		} else {
			raw := r.Header.Get(authHeader)
			if raw == "" {
				respondWithError(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
				return
			}
			perms, err = a.lookupKey(ctx, raw)
			switch {
			case errors.Is(err, sql.ErrNoRows):
				a.logger.DebugContext(ctx, "Unknown API key", "remote_addr", r.RemoteAddr)
				respondWithError(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
				return
			case err != nil:
				a.logger.ErrorContext(ctx, "Could not look up API key", "error", err)
				respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
				return
			}
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, permissionsKey{}, perms)))
	})
}

func (a *AuthAPI) countKeys(ctx context.Context) (int, error) {
	var n int
	err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM api_keys").Scan(&n)
	return n, err
}

func (a *AuthAPI) lookupKey(ctx context.Context, raw string) (*Permissions, error) {
	var id int
	var scopes string
	err := a.db.QueryRowContext(ctx, "SELECT id, scopes FROM api_keys WHERE secret_hash = ?", hashAPIKey(raw)).
		Scan(&id, &scopes)
	if err != nil {
		return nil, err
	}
	return newPermissions(id, strings.Fields(scopes)...), nil
}

func (a *AuthAPI) handleKeys(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, scopeAuthManage) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		a.listKeys(w, r)
	case http.MethodPost:
		a.createKey(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleKey serves /api/auth/keys/{id}. Only DELETE is supported.
func (a *AuthAPI) handleKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.Header().Set("Allow", "DELETE")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	id, err := strconv.Atoi(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/auth/keys/"), "/"))
	if err != nil || id < 1 {
		respondWithError(w, http.StatusBadRequest, "Key id must be a positive integer")
		return
	}
	if !requireScope(w, r, scopeAuthManage) {
		return
	}
	a.deleteKey(w, r, id)
}

func (a *AuthAPI) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	perms, ok := permissionsFrom(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"key_id": perms.KeyID,
		"scopes": perms.Scopes(),
	})
}

func (a *AuthAPI) listKeys(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rows, err := a.db.QueryContext(ctx, "SELECT id, description, scopes, created_at FROM api_keys ORDER BY id")
	if err != nil {
		a.logger.ErrorContext(ctx, "Could not list API keys", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to list keys")
		return
	}
	defer func() { _ = rows.Close() }()

	keys := []APIKeyInfo{}
	for rows.Next() {
		var k APIKeyInfo
		var scopes string
		if err = rows.Scan(&k.ID, &k.Description, &scopes, &k.CreatedAt); err != nil {
			a.logger.ErrorContext(ctx, "Could not read API key", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Failed to list keys")
			return
		}
		k.Scopes = strings.Fields(scopes)
		keys = append(keys, k)
	}
	if err = rows.Err(); err != nil {
		a.logger.ErrorContext(ctx, "Could not list API keys", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to list keys")
		return
	}
	respondWithJSON(w, http.StatusOK, keys)
}

// createKey issues a new key. The first key ever created holds the master
// scope regardless of what was asked for.
func (a *AuthAPI) createKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req CreateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}

	n, err := a.countKeys(ctx)
	if err != nil {
		a.logger.ErrorContext(ctx, "Could not count API keys", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to create key")
		return
	}
	scopes := req.Scopes
	if n == 0 {
		scopes = []string{scopeMaster}
	}
	scopeList := strings.Join(scopes, " ")

	raw, err := generateAPIKey()
	if err != nil {
		a.logger.ErrorContext(ctx, "Could not generate API key", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to create key")
		return
	}

	var id int
	err = a.db.QueryRowContext(ctx,
		"INSERT INTO api_keys (secret_hash, scopes, description, created_at) VALUES (?, ?, ?, ?) RETURNING id",
		hashAPIKey(raw), scopeList, req.Description, time.Now().UTC()).Scan(&id)
	if err != nil {
		a.logger.ErrorContext(ctx, "Could not store API key", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to create key")
		return
	}

	a.logger.InfoContext(ctx, "API key created", slog.Int("key_id", id), slog.String("scopes", scopeList))
	respondWithJSON(w, http.StatusCreated, CreateKeyResponse{ID: id, RawKey: raw, Scopes: strings.Fields(scopeList)})
}

// deleteKey revokes a key. The last key holding the master scope cannot be
// revoked.
func (a *AuthAPI) deleteKey(w http.ResponseWriter, r *http.Request, id int) {
	ctx := r.Context()
	var scopes string
	err := a.db.QueryRowContext(ctx, "SELECT scopes FROM api_keys WHERE id = ?", id).Scan(&scopes)
	if errors.Is(err, sql.ErrNoRows) {
		respondWithError(w, http.StatusNotFound, "Key not found")
		return
	}
	if err != nil {
		a.logger.ErrorContext(ctx, "Could not look up API key", "key_id", id, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to delete key")
		return
	}

	if slices.Contains(strings.Fields(scopes), scopeMaster) {
		var masters int
		err = a.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM api_keys WHERE ' ' || scopes || ' ' LIKE '% * %'").Scan(&masters)
		if err != nil {
			a.logger.ErrorContext(ctx, "Could not count master keys", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Failed to delete key")
			return
		}
		if masters == 1 {
			respondWithError(w, http.StatusBadRequest, "Cannot delete the last master key")
			return
		}
	}

	if _, err = a.db.ExecContext(ctx, "DELETE FROM api_keys WHERE id = ?", id); err != nil {
		a.logger.ErrorContext(ctx, "Could not delete API key", "key_id", id, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to delete key")
		return
	}
	a.logger.InfoContext(ctx, "API key deleted", slog.Int("key_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// requireScope writes a 403 and returns false when the request lacks scope.
func requireScope(w http.ResponseWriter, r *http.Request, scope string) bool {
	if perms, _ := permissionsFrom(r.Context()); perms.Allows(scope) {
		return true
	}
	respondWithError(w, http.StatusForbidden, fmt.Sprintf("Forbidden: requires '%s' scope", scope))
	return false
}

func generateAPIKey() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("could not read random bytes: %w", err)
	}
	return apiKeyPrefix + hex.EncodeToString(b[:]), nil
}

func hashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Could not encode JSON response", "error", err)
	}
}
