package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORSPolicy describes which cross-origin requests are admitted.
type CORSPolicy struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// allowFor resolves the Access-Control-Allow-Origin value for an inbound
// origin, or false when the origin is not admitted. A "*" entry echoes the
// concrete origin when credentials are allowed, since the wildcard form is
// invalid in that combination.
func (p CORSPolicy) allowFor(origin string) (string, bool) {
	for _, allowed := range p.AllowedOrigins {
		switch {
		case allowed == "*" && p.AllowCredentials:
			return origin, true
		case allowed == "*":
			return "*", true
		case strings.EqualFold(allowed, origin):
			return origin, true
		}
	}
	return "", false
}

// WithCORS answers preflights and stamps CORS headers on admitted
// cross-origin requests. With no allowed origins it passes everything
// through untouched.
func WithCORS(p CORSPolicy) Middleware {
	p.AllowedOrigins = compact(p.AllowedOrigins)
	if len(p.AllowedOrigins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	methods := strings.Join(compact(p.AllowedMethods), ", ")
	headers := strings.Join(compact(p.AllowedHeaders), ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allow, ok := "", false
			if origin != "" {
				allow, ok = p.allowFor(origin)
			}
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("Access-Control-Allow-Origin", allow)
			if p.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			if methods != "" {
				h.Set("Access-Control-Allow-Methods", methods)
			}
			if headers != "" {
				h.Set("Access-Control-Allow-Headers", headers)
			}
			if p.MaxAge > 0 {
				h.Set("Access-Control-Max-Age", strconv.Itoa(int(p.MaxAge.Seconds())))
			}
			h.Add("Vary", "Origin")
			h.Add("Vary", "Access-Control-Request-Method")
			h.Add("Vary", "Access-Control-Request-Headers")

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func compact(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}
