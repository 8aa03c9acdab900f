// Package clientip resolves the originating client address of an HTTP
// request behind reverse proxies. Redirect analytics and rate limiting both
// key on it.
package clientip

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// proxyHeaders in descending trust order. The first header carrying a valid
// address wins; X-Forwarded-For may hold a comma-separated chain and the
// leftmost entry is the client.
var proxyHeaders = []string{
	"CF-Connecting-IP",
	"Fly-Client-IP",
	"X-Forwarded-For",
	"X-Real-IP",
}

// FromRequest returns the client's IP address, falling back to RemoteAddr
// when no proxy header carries a valid one. Returns "" when nothing parses.
func FromRequest(r *http.Request) string {
	for _, header := range proxyHeaders {
		value := r.Header.Get(header)
		if value == "" {
			continue
		}
		for part := range strings.SplitSeq(value, ",") {
			if ip := normalize(part); ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return normalize(r.RemoteAddr)
	}
	return normalize(host)
}

// GetIP is an alias of FromRequest kept for call-site readability in
// middleware chains.
func GetIP(r *http.Request) string {
	return FromRequest(r)
}

func normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	ip := net.ParseIP(raw)
	if ip == nil {
		return ""
	}
	return ip.String()
}

type contextKey struct{}

// WithContext stores the resolved client IP on the context.
func WithContext(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, contextKey{}, ip)
}

// FromContext returns the client IP stored by Middleware, or "".
func FromContext(ctx context.Context) string {
	ip, _ := ctx.Value(contextKey{}).(string)
	return ip
}

// Middleware resolves the client IP once per request and stores it on the
// request context for downstream handlers.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithContext(r.Context(), FromRequest(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
