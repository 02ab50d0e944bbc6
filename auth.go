package main

import (
	"crypto/subtle"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"
)

const (
	RoleUser       = "user"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

var (
	errNoSession      = errors.New("no session")
	errSessionExpired = errors.New("session expired")
)

// SessionUser is the portal identity resolved from the session cookie or the admin token.
type SessionUser struct {
	UserID      string
	DisplayName string
	XUsername   string
	Role        string
	ViaToken    bool
}

func (u *SessionUser) IsAdmin() bool {
	return u != nil && (u.Role == RoleAdmin || u.Role == RoleSuperAdmin)
}

// Actor names the caller in the audit log.
func (u *SessionUser) Actor() string {
	if u == nil {
		return "unknown"
	}
	if u.ViaToken {
		return "admin-token"
	}
	return "user:" + u.UserID
}

func normalizeRole(role string) string {
	switch r := strings.ToLower(strings.TrimSpace(role)); r {
	case RoleAdmin, RoleSuperAdmin:
		return r
	default:
		return RoleUser
	}
}

func getSessionUser(db *sql.DB, r *http.Request, cookieName string) (*SessionUser, error) {
	cookie, err := r.Cookie(cookieName)
	if err != nil || strings.TrimSpace(cookie.Value) == "" {
		return nil, errNoSession
	}

	var user SessionUser
	var role string
	var expiresAt time.Time
	err = db.QueryRowContext(r.Context(), `
		SELECT u.id, COALESCE(NULLIF(u.display_name, ''), u.username, ''), COALESCE(u.x_username, ''), u.role, s.expires_at
		FROM akari_user_sessions s
		JOIN akari_users u ON u.id = s.user_id
		WHERE s.session_token = $1
	`, cookie.Value).Scan(&user.UserID, &user.DisplayName, &user.XUsername, &role, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNoSession
	}
	if err != nil {
		return nil, err
	}
	user.Role = normalizeRole(role)

	if time.Now().UTC().After(expiresAt) {
		clearSession(db, r, cookie.Value)
		return nil, errSessionExpired
	}
	return &user, nil
}

func clearSession(db *sql.DB, r *http.Request, token string) {
	_, _ = db.ExecContext(r.Context(), `
		DELETE FROM akari_user_sessions
		WHERE session_token = $1
	`, token)
}

// requireSession writes the 401/500 response itself and reports whether the caller may continue.
func requireSession(db *sql.DB, cfg *Config, w http.ResponseWriter, r *http.Request) (*SessionUser, bool) {
	user, err := getSessionUser(db, r, cfg.SessionCookieName)
	switch {
	case err == nil:
		return user, true
	case errors.Is(err, errNoSession), errors.Is(err, errSessionExpired):
		writeError(w, http.StatusUnauthorized, "Not authenticated")
	default:
		writeInternalError(w, err, "session lookup failed")
	}
	return nil, false
}

// requirePortalAdmin accepts the admin bearer token or a session with an admin role.
func requirePortalAdmin(db *sql.DB, cfg *Config, w http.ResponseWriter, r *http.Request) (*SessionUser, bool) {
	if token := bearerToken(r); token != "" && constantTimeEqual(token, cfg.AdminToken) {
		return &SessionUser{Role: RoleSuperAdmin, DisplayName: "admin-token", ViaToken: true}, true
	}
	user, ok := requireSession(db, cfg, w, r)
	if !ok {
		return nil, false
	}
	if !user.IsAdmin() {
		writeError(w, http.StatusForbidden, "Admin access required")
		return nil, false
	}
	return user, true
}

func requireAdminToken(cfg *Config, w http.ResponseWriter, r *http.Request) bool {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "Missing admin token")
		return false
	}
	if !constantTimeEqual(token, cfg.AdminToken) {
		writeError(w, http.StatusForbidden, "Invalid admin token")
		return false
	}
	return true
}

// requireCronSecret accepts the secret from any of the bearer header, x-cron-secret or ?secret=.
func requireCronSecret(cfg *Config, w http.ResponseWriter, r *http.Request) bool {
	candidates := []string{
		bearerToken(r),
		strings.TrimSpace(r.Header.Get("x-cron-secret")),
		r.URL.Query().Get("secret"),
	}
	for _, provided := range candidates {
		if constantTimeEqual(provided, cfg.CronSecret) {
			return true
		}
	}
	writeError(w, http.StatusUnauthorized, "Unauthorized")
	return false
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

// constantTimeEqual never matches an empty secret.
func constantTimeEqual(provided, expected string) bool {
	if provided == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}
