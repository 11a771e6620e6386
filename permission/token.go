package permission

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "floorman"

type Role string

const (
	RolePlayer  Role = "player"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RolePlayer, RoleManager, RoleAdmin:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Claims is who the bearer is.  Managers manage the clubs listed; admins
// manage everything.
type Claims struct {
	jwt.RegisteredClaims
	UserID  uuid.UUID   `json:"uid"`
	Role    Role        `json:"role"`
	ClubIDs []uuid.UUID `json:"clubs,omitempty"`
}

// ManagesClub reports whether the holder may run tournaments for the club.
func (c *Claims) ManagesClub(clubID uuid.UUID) bool {
	switch c.Role {
	case RoleAdmin:
		return true
	case RoleManager:
		for _, id := range c.ClubIDs {
			if id == clubID {
				return true
			}
		}
	}
	return false
}

type Clock interface {
	Now() time.Time
}

// Tokens mints and checks HS256 bearer tokens.
type Tokens struct {
	secret []byte
	clock  Clock
}

func NewTokens(secret []byte, clock Clock) (*Tokens, error) {
	if len(secret) < 16 {
		return nil, errors.New("jwt secret must be at least 16 bytes")
	}
	return &Tokens{secret: secret, clock: clock}, nil
}

func (t *Tokens) Mint(userID uuid.UUID, role Role, clubs []uuid.UUID, ttl time.Duration) (string, error) {
	now := t.clock.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID:  userID,
		Role:    role,
		ClubIDs: clubs,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

func (t *Tokens) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(tok *jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if _, err := ParseRole(string(claims.Role)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: token has no user", ErrUnauthenticated)
	}
	return claims, nil
}
