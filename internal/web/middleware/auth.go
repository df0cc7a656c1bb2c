package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/tdfc/internal/config"
	"github.com/JonMunkholm/tdfc/internal/core"
)

var (
	errMissingAdminKey = errors.New("missing admin key")
	errInvalidAdminKey = errors.New("invalid admin key")
)

// AdminKey returns middleware that guards admin routes with cfg.AdminKey.
// The key is read from the X-API-Key header, falling back to the "key" query
// parameter. An empty AdminKey lets every request through.
func AdminKey(cfg *config.SecurityConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.AdminKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("key")
			}

			var err error
			switch {
			case key == "":
				err = errMissingAdminKey
			case !isValidKey(key, cfg.AdminKey):
				err = errInvalidAdminKey
			}
			if err != nil {
				slog.Warn("auth: rejected admin request",
					"reason", err.Error(),
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
				)
				unauthorized(w, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// isValidKey compares in constant time so the response time does not leak
// how much of the key matched.
func isValidKey(key, want string) bool {
	return subtle.ConstantTimeCompare([]byte(key), []byte(want)) == 1
}

func unauthorized(w http.ResponseWriter, err error) {
	msg := core.MapError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   msg.Message,
		"message": msg.Message,
		"action":  msg.Action,
		"code":    msg.Code,
	})
}
