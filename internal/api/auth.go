package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/AaronLay10/NarrativeForge/internal/config"
)

// Role represents an authorization role.
type Role string

const (
	// RoleAdmin may read and write graphs and drive play sessions.
	RoleAdmin Role = "admin"
	// RoleAuthor may validate, convert and play graphs but not store them.
	RoleAuthor Role = "author"
)

type authConfig struct {
	adminUser  string
	adminPass  string
	authorUser string
	authorPass string
	enabled    bool
}

var auth *authConfig

// InitAuth loads credentials from FORGE_ADMIN_USER/PASS and
// FORGE_AUTHOR_USER/PASS, each honouring the _FILE convention. Without
// admin credentials authentication is disabled.
func InitAuth() error {
	vals := make(map[string]string, 4)
	for _, name := range []string{"FORGE_ADMIN_USER", "FORGE_ADMIN_PASS", "FORGE_AUTHOR_USER", "FORGE_AUTHOR_PASS"} {
		v, err := config.ResolveSecret(name)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", name, err)
		}
		vals[name] = v
	}
	auth = &authConfig{
		adminUser:  vals["FORGE_ADMIN_USER"],
		adminPass:  vals["FORGE_ADMIN_PASS"],
		authorUser: vals["FORGE_AUTHOR_USER"],
		authorPass: vals["FORGE_AUTHOR_PASS"],
	}
	auth.enabled = auth.adminUser != "" && auth.adminPass != ""
	return nil
}

// IsAuthEnabled returns true if authentication is configured.
func IsAuthEnabled() bool {
	return auth != nil && auth.enabled
}

// authenticate returns the caller's role, or "" for bad credentials.
func authenticate(r *http.Request) Role {
	if auth == nil || !auth.enabled {
		return RoleAdmin
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return ""
	}
	if matches(user, pass, auth.adminUser, auth.adminPass) {
		return RoleAdmin
	}
	if matches(user, pass, auth.authorUser, auth.authorPass) {
		return RoleAuthor
	}
	return ""
}

func matches(user, pass, wantUser, wantPass string) bool {
	if wantUser == "" || wantPass == "" {
		return false
	}
	// evaluate both so timing does not reveal which one differed
	u := secureCompare(user, wantUser)
	p := secureCompare(pass, wantPass)
	return u && p
}

func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func requireAuth(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="NarrativeForge"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

// RequireRole wraps a handler and requires one of the specified roles.
func RequireRole(handler http.HandlerFunc, allowedRoles ...Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := authenticate(r)
		if role == "" {
			requireAuth(w)
			return
		}
		for _, allowed := range allowedRoles {
			if role == allowed {
				handler(w, r)
				return
			}
		}
		http.Error(w, "Forbidden", http.StatusForbidden)
	}
}

// RequireAnyRole allows admins and authors.
func RequireAnyRole(handler http.HandlerFunc) http.HandlerFunc {
	return RequireRole(handler, RoleAdmin, RoleAuthor)
}

// RequireAdmin allows admins only.
func RequireAdmin(handler http.HandlerFunc) http.HandlerFunc {
	return RequireRole(handler, RoleAdmin)
}
