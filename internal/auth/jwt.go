// Package auth verifies the bearer tokens presented on connect.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/Vasu1712/scenyx-rooms/internal/models"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims are the access token claims issued by the account service.
type Claims struct {
	UserID     string `json:"user_id"`
	Name       string `json:"name,omitempty"`
	ProfilePic string `json:"profile_pic,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier checks HS256 access tokens.
type JWTVerifier struct {
	secret []byte
	now    func() time.Time
}

// NewJWTVerifier verifies and issues HS256 tokens signed with secret.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), now: time.Now}
}

// Verify resolves token to a user. Every failure wraps ErrInvalidToken.
func (v *JWTVerifier) Verify(ctx context.Context, token string) (models.User, error) {
	if token == "" {
		return models.User{}, ErrMissingToken
	}

	claims := &Claims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return models.User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return models.User{}, ErrInvalidToken
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return models.User{}, fmt.Errorf("%w: no user id claim", ErrInvalidToken)
	}
	return models.User{ID: userID, Name: claims.Name, ProfilePic: claims.ProfilePic}, nil
}

// Issue signs a token for user valid for ttl. Used by tests and local tooling.
func (v *JWTVerifier) Issue(user models.User, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		UserID:     user.ID,
		Name:       user.Name,
		ProfilePic: user.ProfilePic,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// TokenFromRequest reads the token from the "token" query parameter, falling
// back to an "Authorization: Bearer" header.
func TokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
