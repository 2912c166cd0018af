package httpadapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"

	"github.com/kirillkom/docvault/internal/core/domain"
)

// devUserHeader names the caller when no signing secret is configured.
const devUserHeader = "X-User-Id"

type userIDContextKey struct{}

func userIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userIDContextKey{}).(string)
	return userID
}

// authMiddleware resolves the caller from an HS256 bearer token whose subject
// is the user id. With an empty secret the X-User-Id header is trusted, which
// is only meant for local development.
func authMiddleware(next http.Handler, secret []byte) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var (
			userID string
			err    error
		)
		if len(secret) == 0 {
			userID = strings.TrimSpace(r.Header.Get(devUserHeader))
			if userID == "" {
				err = errors.New("missing " + devUserHeader + " header")
			}
		} else {
			userID, err = userFromBearer(r.Header.Get("Authorization"), secret)
		}
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="docvault"`)
			writeError(w, r, domain.WrapError(domain.ErrUnauthorized, "authenticate", err))
			return
		}
		if info := requestInfoFromContext(r.Context()); info != nil {
			info.userID = userID
		}
		ctx := context.WithValue(r.Context(), userIDContextKey{}, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromBearer(header string, secret []byte) (string, error) {
	header = strings.TrimSpace(header)
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", errors.New("missing bearer token")
	}
	raw := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}
