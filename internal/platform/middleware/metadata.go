package middleware

import (
	"net/http"
	"strings"

	"github.com/mssola/useragent"

	"fides/pkg/requestcontext"
)

// ClientMetadata extracts the client IP and User-Agent from the request and
// stores them in the context for audit enrichment. Applied early in the chain.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIPFromRequest(r)
		rawUA := r.Header.Get("User-Agent")

		ctx := requestcontext.WithClientMetadata(r.Context(), ip, rawUA, clientAppName(rawUA))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientAppName condenses a raw User-Agent into "browser/version" for audit
// records, which keeps the trail readable without storing the full string
// twice.
func clientAppName(rawUA string) string {
	if rawUA == "" {
		return ""
	}
	ua := useragent.New(rawUA)
	name, version := ua.Browser()
	if name == "" {
		return ""
	}
	if version == "" {
		return name
	}
	return name + "/" + version
}

// clientIPFromRequest extracts the real client IP, handling proxies.
func clientIPFromRequest(r *http.Request) string {
	// X-Forwarded-For can contain multiple IPs; the first is the client.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if rip := r.Header.Get("X-Real-IP"); rip != "" {
		return strings.TrimSpace(rip)
	}
	// RemoteAddr is host:port
	if idx := strings.LastIndex(r.RemoteAddr, ":"); idx != -1 {
		return r.RemoteAddr[:idx]
	}
	return r.RemoteAddr
}
