package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in access tokens. Facilitators run sessions; participants
// play them.
const (
	RoleFacilitator = "facilitator"
	RoleParticipant = "participant"
)

var errTokenInvalid = errors.New("access token is invalid")
var errTokenExpired = errors.New("access token is expired")

// TokenConfig defines how access tokens are signed and verified.
type TokenConfig struct {
	Issuer   string
	Audience string
	Secret   []byte
	Now      func() time.Time
}

func (c TokenConfig) enabled() bool {
	return len(c.Secret) > 0
}

// Identity is the validated caller identity extracted from an access token.
type Identity struct {
	UserID string
	Name   string
	Role   string
}

// accessClaims is the internal claims type used for JWT parsing.
type accessClaims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
	Role string `json:"role"`
}

// IssueToken mints a signed access token for an identity.
func IssueToken(identity Identity, ttl time.Duration, cfg TokenConfig) (string, error) {
	if !cfg.enabled() {
		return "", errors.New("token signing is not configured")
	}
	userID := strings.TrimSpace(identity.UserID)
	if userID == "" {
		return "", errors.New("user id is required")
	}
	role := strings.TrimSpace(identity.Role)
	if role != RoleFacilitator && role != RoleParticipant {
		return "", fmt.Errorf("unknown role %q", role)
	}
	if ttl <= 0 {
		return "", errors.New("token ttl must be positive")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	issuedAt := now().UTC()
	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Audience:  jwt.ClaimStrings{cfg.Audience},
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
		Name: strings.TrimSpace(identity.Name),
		Role: role,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return token, nil
}

// ValidateToken verifies an access token and extracts the caller identity.
func ValidateToken(token string, cfg TokenConfig) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, errTokenInvalid
	}
	if !cfg.enabled() {
		return Identity{}, errors.New("token verification is not configured")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	var parsed accessClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(token *jwt.Token) (any, error) {
		return cfg.Secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Identity{}, errTokenInvalid
	}

	if cfg.Issuer != "" && parsed.Issuer != cfg.Issuer {
		return Identity{}, errTokenInvalid
	}
	if cfg.Audience != "" && !audienceContains(parsed.Audience, cfg.Audience) {
		return Identity{}, errTokenInvalid
	}
	if parsed.ExpiresAt == nil {
		return Identity{}, errTokenInvalid
	}
	if !parsed.ExpiresAt.Time.UTC().After(now().UTC()) {
		return Identity{}, errTokenExpired
	}

	userID := strings.TrimSpace(parsed.Subject)
	if userID == "" {
		return Identity{}, errTokenInvalid
	}
	role := strings.TrimSpace(parsed.Role)
	if role != RoleFacilitator && role != RoleParticipant {
		return Identity{}, errTokenInvalid
	}

	return Identity{
		UserID: userID,
		Name:   strings.TrimSpace(parsed.Name),
		Role:   role,
	}, nil
}

// audienceContains reports whether the audience list contains the given value.
func audienceContains(aud jwt.ClaimStrings, value string) bool {
	for _, item := range aud {
		if item == value {
			return true
		}
	}
	return false
}
