package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/tokenguard"
)

// Validator is the subset of [tokenguard.Engine] the guards need.
type Validator interface {
	Validate(ctx context.Context, accessToken string) (*tokenguard.Principal, error)
}

// PrincipalFromContext returns the principal stored by [Guard].
func PrincipalFromContext(ctx context.Context) (*tokenguard.Principal, bool) {
	return tokenguard.PrincipalFromContext(ctx)
}

// Guard rejects requests without a valid bearer access token with 401. On
// success the principal is attached to the request context. Client IP and
// User-Agent are attached before validation so rejections are audited with
// them.
func Guard(v Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := tokenguard.WithClientIP(r.Context(), clientIP(r))
			ctx = tokenguard.WithUserAgent(ctx, r.UserAgent())

			p, err := v.Validate(ctx, token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(tokenguard.WithPrincipal(ctx, p)))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
