package api

import (
	"math"
	"net"
	"net/http"
	"strconv"
)

// rateLimit throttles requests per client IP. RealIP has already
// rewritten RemoteAddr when the request came through a proxy.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := s.limiter.Get(clientIP(r))
		allowed, wait := l.Reserve()

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(s.limiter.Burst()))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(l.Remaining()))

		if !allowed {
			secs := int(math.Ceil(wait.Seconds()))
			if secs < 1 || wait < 0 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeError(w, ErrRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
