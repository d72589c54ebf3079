package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ternarybob/maestro/internal/common"
)

// Identity is the caller extracted from a bearer token.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	OrgID  string `json:"org_id,omitempty"`
}

type identityKey struct{}

// WithIdentity stores the caller identity on the request context.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the caller identity placed by the auth middleware.
func IdentityFrom(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	return id, ok
}

// ParseBearer extracts and verifies the Authorization bearer token. An empty
// secret skips signature verification for local development; the claims are
// still required.
func ParseBearer(r *http.Request, secret string) (*Identity, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, common.NewError(common.KindAuth, "missing Authorization header")
	}
	raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if raw == header || raw == "" {
		return nil, common.NewError(common.KindAuth, "Authorization header must be a bearer token")
	}

	claims := jwt.MapClaims{}
	if secret == "" {
		parser := jwt.NewParser()
		if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
			return nil, common.WrapError(common.KindAuth, err, "malformed token")
		}
	} else {
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, common.NewError(common.KindAuth, "unexpected signing method %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			return nil, common.WrapError(common.KindAuth, err, "invalid token")
		}
	}

	return identityFromClaims(claims)
}

// identityFromClaims accepts sub, id, or userId as the subject claim.
func identityFromClaims(claims jwt.MapClaims) (*Identity, error) {
	userID := claimString(claims, "sub")
	if userID == "" {
		userID = claimString(claims, "id")
	}
	if userID == "" {
		userID = claimString(claims, "userId")
	}
	if userID == "" {
		return nil, common.NewError(common.KindAuth, "token carries no subject claim")
	}

	return &Identity{
		UserID: userID,
		Email:  claimString(claims, "email"),
		OrgID:  claimString(claims, "orgId"),
	}, nil
}

func claimString(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}
