package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"GatewayHMA/pkg/logger"
)

// WithAPITokens 要求调用方携带其中任一 Bearer Token，空列表表示不鉴权。
func WithAPITokens(tokens ...string) Option {
	return func(s *Server) {
		for _, t := range tokens {
			if t = strings.TrimSpace(t); t != "" {
				s.tokens = append(s.tokens, []byte(t))
			}
		}
	}
}

// requireToken 校验 Authorization 头，拒绝时写入审计日志。
func (s *Server) requireToken(next http.Handler) http.Handler {
	if len(s.tokens) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if ok && s.tokenAllowed(token) {
			next.ServeHTTP(w, r)
			return
		}
		status := http.StatusUnauthorized
		writeError(w, status, "", http.StatusText(status))
		logger.Audit().Warn("access_denied",
			slog.String("path", r.URL.Path),
			slog.String("method", r.Method),
			slog.Int("status", status),
			slog.Bool("token_present", ok),
		)
	})
}

func (s *Server) tokenAllowed(token string) bool {
	candidate := []byte(token)
	allowed := false
	for _, t := range s.tokens {
		if subtle.ConstantTimeCompare(candidate, t) == 1 {
			allowed = true
		}
	}
	return allowed
}

func bearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
