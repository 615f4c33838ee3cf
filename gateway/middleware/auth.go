package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"jobmarket/gateway/auth"
	"jobmarket/observability/logging"
)

// TokenVerifier resolves a bearer token to the caller address it names.
type TokenVerifier interface {
	Verify(token string) ([20]byte, error)
}

// Authenticator attaches the authenticated caller to the request context.
// Requests without a bearer token pass through anonymously so that read-only
// methods stay public; handlers that mutate state require auth.CallerFrom.
type Authenticator struct {
	verifier TokenVerifier
	logger   *slog.Logger
}

func NewAuthenticator(verifier TokenVerifier, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{verifier: verifier, logger: logger}
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || a.verifier == nil {
			next.ServeHTTP(w, r)
			return
		}
		tokenString := extractBearer(header)
		if tokenString == "" {
			http.Error(w, "malformed authorization header", http.StatusUnauthorized)
			return
		}
		caller, err := a.verifier.Verify(tokenString)
		if err != nil {
			a.logger.Warn("token validation failed",
				slog.String("request_id", RequestIDFrom(r.Context())),
				logging.MaskField("token", tokenString),
				slog.Any("error", err))
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithCaller(r.Context(), caller)))
	})
}

func extractBearer(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
