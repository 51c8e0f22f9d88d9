package chi

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

// Probe and scrape routes bypass authentication.
var exemptPaths = map[string]struct{}{
	"/health":  {},
	"/ready":   {},
	"/metrics": {},
}

type callerKey struct{}

// CallerFromContext returns the fingerprint of the API key that authenticated
// the request, or "" when auth is disabled.
func CallerFromContext(ctx context.Context) string {
	v, _ := ctx.Value(callerKey{}).(string)
	return v
}

type apiKey struct {
	digest      [sha256.Size]byte
	fingerprint string
}

// BearerAuthMiddleware validates "Authorization: Bearer <key>" against apiKeys.
// Keys are compared as SHA-256 digests in constant time. Empty apiKeys
// disables authentication. Authenticated requests carry the key fingerprint,
// see CallerFromContext.
func BearerAuthMiddleware(apiKeys []string) func(http.Handler) http.Handler {
	keys := make([]apiKey, 0, len(apiKeys))
	for _, k := range apiKeys {
		if k == "" {
			continue
		}
		d := sha256.Sum256([]byte(k))
		keys = append(keys, apiKey{digest: d, fingerprint: "key-" + hex.EncodeToString(d[:4])})
	}

	return func(next http.Handler) http.Handler {
		if len(keys) == 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := exemptPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="ragstream"`)
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, "missing or malformed bearer token")
				return
			}

			d := sha256.Sum256([]byte(token))
			caller := ""
			for i := range keys {
				if subtle.ConstantTimeCompare(d[:], keys[i].digest[:]) == 1 {
					caller = keys[i].fingerprint
				}
			}
			if caller == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="ragstream", error="invalid_token"`)
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid api key")
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
		})
	}
}

// bearerToken extracts the token; the scheme match is case-insensitive.
func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
