package httpapi

import (
	"context"
	"crypto/subtle"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/colonia-access/gatekeeper/internal/gate/auth"
	"github.com/colonia-access/gatekeeper/internal/gate/service"
)

func loggingMiddleware(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now().UTC()
		next.ServeHTTP(w, r)
		logger.Printf("%s %s from=%s dur=%s", r.Method, r.URL.Path, r.RemoteAddr, time.Since(start))
	})
}

type ctxKey int

const sessionKey ctxKey = iota

// sessionMiddleware verifies the resident's bearer token and stashes the
// resulting Session in the request context.
func sessionMiddleware(signer auth.Signer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "missing_session", "Authorization: Bearer <session token> required")
				return
			}
			claims, err := signer.Parse(raw)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid_session", "session token is invalid or expired")
				return
			}
			sess := service.Session{
				ResidentID:   claims.ResidentID,
				ResidentName: claims.ResidentName,
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, sess)))
		})
	}
}

func sessionFrom(r *http.Request) service.Session {
	sess, _ := r.Context().Value(sessionKey).(service.Session)
	return sess
}

// gateKeyMiddleware checks the shared X-Gate-Key the terminal sends. An
// empty configured key disables the check.
func gateKeyMiddleware(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Gate-Key")
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				writeError(w, http.StatusUnauthorized, "bad_gate_key", "missing or wrong X-Gate-Key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	tok := strings.TrimSpace(h[len(prefix):])
	return tok, tok != ""
}
