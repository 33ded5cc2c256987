package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	appErr "codeduel/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

const tokenTypeAccess = "access"

// Identity is the authenticated user behind a connection.
type Identity struct {
	UserID string
	Role   string
}

// TokenVerifier authenticates access tokens.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (Identity, error)
}

type tokenClaims struct {
	Role      string `json:"role"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// JWTVerifier checks HS256 access tokens whose subject is the user id.
type JWTVerifier struct {
	secret []byte
	issuer string
}

func NewJWTVerifier(secret, issuer string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), issuer: issuer}
}

func (v *JWTVerifier) Verify(ctx context.Context, raw string) (Identity, error) {
	if raw == "" || len(v.secret) == 0 {
		return Identity{}, appErr.New(appErr.TokenInvalid)
	}
	parsed, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, appErr.New(appErr.TokenExpired)
		}
		return Identity{}, appErr.New(appErr.TokenInvalid)
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return Identity{}, appErr.New(appErr.TokenInvalid)
	}
	if v.issuer != "" && claims.Issuer != v.issuer {
		return Identity{}, appErr.New(appErr.TokenInvalid)
	}
	if claims.TokenType != tokenTypeAccess || claims.Subject == "" {
		return Identity{}, appErr.New(appErr.TokenInvalid)
	}
	return Identity{UserID: claims.Subject, Role: claims.Role}, nil
}

// Authenticate returns the user id behind raw, for HTTP auth middleware.
func (v *JWTVerifier) Authenticate(ctx context.Context, raw string) (string, error) {
	ident, err := v.Verify(ctx, raw)
	if err != nil {
		return "", err
	}
	return ident.UserID, nil
}

// Issue signs an access token for userID. Used by tooling and tests.
func (v *JWTVerifier) Issue(userID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", appErr.ValidationError("user_id", "required")
	}
	now := time.Now()
	claims := tokenClaims{
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.InternalServerError, "sign token failed")
	}
	return token, nil
}
