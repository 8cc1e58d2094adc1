package api

import "net/http"

// apiKeyAuth requires the X-API-Key header to match key on every
// request under the protected route group (spec §7: the Control API
// trusts the local operator but still gates every request behind a
// static key when one is configured).
func apiKeyAuth(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-API-Key") != key {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":{"message":"invalid or missing API key","code":"VALIDATION"}}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
