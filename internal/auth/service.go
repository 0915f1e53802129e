package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"chatrelay/internal/config"
	"chatrelay/internal/errs"
)

// Claims identify the caller. Tokens are issued elsewhere; this service
// only verifies them.
type Claims struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	jwt.RegisteredClaims
}

type Service struct {
	secret []byte
}

func NewService(cfg *config.Config) *Service {
	return &Service{secret: cfg.JWT.Secret}
}

func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, errs.ErrUnauthorized.Wrap(err)
	}
	if !token.Valid {
		return nil, errs.ErrUnauthorized.WithMessage("invalid token")
	}

	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return nil, errs.ErrUnauthorized.WithMessage("token has no user id")
	}
	return claims, nil
}

// FromRequest reads the token from the Authorization header, falling back
// to the token query parameter used by browser websocket clients.
func (s *Service) FromRequest(r *http.Request) (*Claims, error) {
	tokenStr := r.URL.Query().Get("token")
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		tokenStr = strings.TrimPrefix(header, "Bearer ")
	}
	if tokenStr == "" {
		return nil, errs.ErrUnauthorized.WithMessage("missing token")
	}
	return s.ValidateToken(tokenStr)
}

// Sign mints an HS256 token for userID. Used by development clients that
// share the server secret.
func Sign(secret []byte, userID, displayName string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:      userID,
		DisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
