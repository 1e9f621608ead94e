// Package auth resolves the identity behind a connection from a signed token.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

// Roles carried in tokens.
const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
	RoleGuest   = "guest"
)

// Identity is what the game core trusts for every authorization decision.
type Identity struct {
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	Role        string `json:"role"`
	AvatarEmoji string `json:"avatarEmoji,omitempty"`
}

// IsTeacher reports whether the identity may create and control games.
func (i Identity) IsTeacher() bool {
	return i.Role == RoleTeacher
}

// Claims holds JWT claims including user ID and role.
type Claims struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	Role        string `json:"role"`
	AvatarEmoji string `json:"avatar_emoji,omitempty"`
	jwt.RegisteredClaims
}

// Identity converts validated claims.
func (c *Claims) Identity() Identity {
	return Identity{UserID: c.UserID, Username: c.Username, Role: c.Role, AvatarEmoji: c.AvatarEmoji}
}

// JWTService handles token generation and validation.
type JWTService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewJWTService(secret string, ttl time.Duration) *JWTService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JWTService{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Generate creates a signed token for id.
func (s *JWTService) Generate(id Identity) (string, error) {
	if id.Role == "" {
		id.Role = RoleStudent
	}
	now := s.now()
	claims := Claims{
		UserID:      id.UserID,
		Username:    id.Username,
		Role:        id.Role,
		AvatarEmoji: id.AvatarEmoji,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate parses and validates a JWT, returning claims or error.
func (s *JWTService) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Authenticate resolves an identity from a raw token or "Bearer <token>" header value.
func (s *JWTService) Authenticate(raw string) (Identity, error) {
	raw = strings.TrimSpace(raw)
	if after, ok := strings.CutPrefix(raw, "Bearer "); ok {
		raw = strings.TrimSpace(after)
	}
	if raw == "" {
		return Identity{}, ErrInvalidToken
	}
	claims, err := s.Validate(raw)
	if err != nil {
		return Identity{}, err
	}
	return claims.Identity(), nil
}
