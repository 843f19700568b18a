package middleware

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"riskcontrol/pkg/crypto"
)

// Auth - middleware для аутентификации запросов ops API
//
// Токен передается в заголовке Authorization: Bearer <token> и
// сверяется с bcrypt-хешем из конфигурации (OPS_TOKEN_HASH).
// Сам токен нигде не хранится и не логируется.
//
// Пустой хеш отключает аутентификацию - режим локального развертывания,
// когда API не выставлен наружу.
func Auth(opsTokenHash string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opsTokenHash == "" {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="ops API"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if !crypto.CheckTokenMatch(token, opsTokenHash) {
				logger.Warn("rejected request with invalid ops token",
					zap.String("remote_addr", r.RemoteAddr),
					zap.String("path", r.URL.Path),
				)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
