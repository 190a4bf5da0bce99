package middleware

import (
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

var ErrEmptyToken = errors.New("empty token")

// TokenVerifier checks a bearer token presented by an upload client.
type TokenVerifier interface {
	VerifyToken(token string) error
}

// BcryptToken verifies tokens against a single bcrypt hash, so the
// plaintext token never has to be stored in configuration.
type BcryptToken struct {
	Hash []byte
}

func (b BcryptToken) VerifyToken(token string) error {
	if token == "" {
		return ErrEmptyToken
	}
	return bcrypt.CompareHashAndPassword(b.Hash, []byte(token))
}

func TokenMiddleware(v TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				http.Error(w, "Missing bearer token", http.StatusUnauthorized)
				return
			}

			if err := v.VerifyToken(strings.TrimSpace(token)); err != nil {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitMiddleware allows each client address limit requests per second
// with the given burst. Clients idle long enough to have refilled their
// burst are forgotten.
func RateLimitMiddleware(limit rate.Limit, burst int) func(http.Handler) http.Handler {
	clients := newLimiterSet(limit, burst)

	retryAfter := "1"
	if limit > 0 && limit < 1 {
		retryAfter = strconv.Itoa(int(math.Ceil(1 / float64(limit))))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !clients.allow(clientKey(r)) {
				w.Header().Set("Retry-After", retryAfter)
				http.Error(w, "Too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func CORSMiddleware(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			// Echo the origin back only if it's on our allow-list
			if _, ok := allowed[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			}

			w.Header().Set("Access-Control-Expose-Headers", "Retry-After")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
