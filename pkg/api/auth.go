package api

import (
	"crypto/rand"
	"crypto/subtle"
	"net/http"
	"strings"
)

// keyAlphabet has 64 entries so mapping uniform bytes onto it carries
// no modulo bias.
const keyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_("

// KeyLength is the length of generated bearer tokens.
const KeyLength = 33

// GenerateKey returns a random bearer token.
func GenerateKey() string {
	buf := make([]byte, KeyLength)
	if _, err := rand.Read(buf); err != nil {
		panic("api: reading random bytes: " + err.Error())
	}
	for i, b := range buf {
		buf[i] = keyAlphabet[int(b)%len(keyAlphabet)]
	}
	return string(buf)
}

// requireAuth guards a route group with a bearer token check. An empty
// configured key admits everything.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.authKey) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request header"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), s.authKey) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
