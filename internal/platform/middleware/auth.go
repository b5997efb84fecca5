package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	id "fides/pkg/domain"
	dErrors "fides/pkg/domain-errors"
	"fides/pkg/platform/httputil"
	"fides/pkg/requestcontext"
)

// OperatorClaims are the JWT claims carried by operator (notary/certifier)
// bearer tokens.
type OperatorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenAuthority signs and validates operator tokens with a shared HMAC key.
type TokenAuthority struct {
	signingKey []byte
}

func NewTokenAuthority(signingKey string) *TokenAuthority {
	return &TokenAuthority{signingKey: []byte(signingKey)}
}

// Issue mints a token for an operator. Used by the admin surface and tests.
func (a *TokenAuthority) Issue(operatorID id.OperatorID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := OperatorClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operatorID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.signingKey)
}

// Validate parses and verifies a token, returning the operator ID and role.
func (a *TokenAuthority) Validate(tokenString string) (id.OperatorID, string, error) {
	var claims OperatorClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "unexpected signing method")
		}
		return a.signingKey, nil
	})
	if err != nil || !token.Valid {
		return id.OperatorID{}, "", dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid or expired token")
	}
	operatorID, err := id.ParseOperatorID(claims.Subject)
	if err != nil {
		return id.OperatorID{}, "", dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid token subject")
	}
	return operatorID, claims.Role, nil
}

// RequireOperator rejects requests without a valid operator bearer token and
// injects the operator ID into the request context.
func RequireOperator(authority *TokenAuthority, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "operator auth missing",
					"request_id", requestcontext.RequestID(ctx),
					"path", r.URL.Path,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "operator token required"))
				return
			}

			operatorID, role, err := authority.Validate(token)
			if err != nil {
				logger.WarnContext(ctx, "operator auth rejected",
					"request_id", requestcontext.RequestID(ctx),
					"path", r.URL.Path,
					"error", err,
				)
				httputil.WriteError(w, err)
				return
			}
			if role != "notary" && role != "admin" {
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "notary or admin role required"))
				return
			}

			next.ServeHTTP(w, r.WithContext(requestcontext.WithOperatorID(ctx, operatorID)))
		})
	}
}
