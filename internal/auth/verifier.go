package auth

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v4"
)

var ErrInvalidCredential = errors.New("invalid credential")

// Identity is the authenticated caller attached to a request or a live
// connection for its whole lifetime.
type Identity struct {
	UserID   int64
	Username string
	Roles    []string
}

// Verifier resolves an opaque session credential to an identity. The rest of
// the platform issues credentials; this core only validates them.
type Verifier interface {
	Verify(credential string) (*Identity, error)
}

type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Verify(credential string) (*Identity, error) {
	if credential == "" {
		return nil, ErrInvalidCredential
	}

	token, err := jwt.Parse(credential, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidCredential
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || claims["user_id"] == nil {
		return nil, ErrInvalidCredential
	}

	userID, ok := claims["user_id"].(float64)
	if !ok || userID <= 0 {
		return nil, ErrInvalidCredential
	}

	identity := &Identity{UserID: int64(userID)}
	if username, ok := claims["username"].(string); ok {
		identity.Username = username
	}
	if raw, ok := claims["roles"].([]interface{}); ok {
		for _, r := range raw {
			if role, ok := r.(string); ok {
				identity.Roles = append(identity.Roles, role)
			}
		}
	}
	return identity, nil
}

type contextKey struct{}

func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, identity)
}

func FromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(contextKey{}).(*Identity)
	return identity, ok
}
