package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ehr/hospital/internal/domain/model"
	"github.com/ehr/hospital/internal/platform/apperr"
)

type Claims struct {
	jwt.RegisteredClaims
	Role       string `json:"role"`
	HospitalID string `json:"hospital_id,omitempty"`
}

// TokenIssuer signs and verifies HS256 access tokens.
type TokenIssuer struct {
	key    []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

func NewTokenIssuer(key []byte, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{key: key, ttl: ttl, issuer: "hospital-server", now: time.Now}
}

// Issue returns a signed token for u.
func (t *TokenIssuer) Issue(u *model.User) (string, error) {
	now := t.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID.String(),
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
		Role: string(u.Role),
	}
	if u.HospitalID != nil {
		claims.HospitalID = u.HospitalID.String()
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies tokenStr and returns the identity it carries.
func (t *TokenIssuer) Parse(tokenStr string) (Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return t.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !token.Valid {
		return Identity{}, apperr.Unauthenticated("invalid token")
	}
	return claims.identity()
}

func (c *Claims) identity() (Identity, error) {
	uid, err := uuid.Parse(c.Subject)
	if err != nil {
		return Identity{}, apperr.Unauthenticated("invalid token subject")
	}
	role, err := model.ParseRole(c.Role)
	if err != nil {
		return Identity{}, apperr.Unauthenticated("invalid token role")
	}
	id := Identity{UserID: uid, Role: role}
	if c.IssuedAt != nil {
		id.IssuedAt = c.IssuedAt.Time
	}
	if c.HospitalID != "" {
		hid, err := uuid.Parse(c.HospitalID)
		if err != nil {
			return Identity{}, apperr.Unauthenticated("invalid token hospital")
		}
		id.HospitalID = &hid
	}
	if id.HospitalID == nil && role != model.RoleSuperAdmin {
		return Identity{}, apperr.Unauthenticated("token is missing hospital")
	}
	return id, nil
}
