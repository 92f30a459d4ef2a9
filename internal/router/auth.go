package router

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// tokenClaims is the minimal claim set for a router bearer token: it exists
// only to prove the caller is a sandbox child this Router spawned, not to
// carry identity.
type tokenClaims struct {
	jwtlib.RegisteredClaims
}

// NewToken mints an HS256 bearer token scoped to one router instance,
// signed with secret. Exported so tests can mint tokens directly without
// going through Start.
func NewToken(secret []byte, routerID string) (string, error) {
	claims := tokenClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    "rlm-router",
			Subject:   routerID,
			IssuedAt:  jwtlib.NewNumericDate(time.Now()),
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(1 * time.Hour)),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func verifyToken(secret []byte, raw string) error {
	_, err := jwtlib.ParseWithClaims(raw, &tokenClaims{}, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	return err
}

// requireBearer rejects requests missing a valid Authorization: Bearer
// token signed with secret (§6.2 hardens the loopback hook surface beyond
// "listens on 127.0.0.1 only" — it also authenticates the caller).
func requireBearer(secret []byte, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if err := verifyToken(secret, raw); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		next(w, r)
	}
}
