package jwtauth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"custodian/pkg/requestcontext"
)

// Issuer mints HS256 access tokens for development tooling and tests.
type Issuer struct {
	secret   []byte
	issuer   string
	audience string
	clientID string
	ttl      time.Duration
}

func NewIssuer(secret []byte, issuer, audience, clientID string, ttl time.Duration) *Issuer {
	return &Issuer{
		secret:   secret,
		issuer:   issuer,
		audience: audience,
		clientID: clientID,
		ttl:      ttl,
	}
}

// TokenRequest describes the identity to encode. Roles are emitted under
// resource_access.<client>.roles.
type TokenRequest struct {
	Subject string
	BPN     string
	Roles   []string
	TTL     time.Duration
}

// Issue signs a token valid from the request time for the requested or
// default TTL.
func (i *Issuer) Issue(ctx context.Context, req TokenRequest) (string, error) {
	if req.Subject == "" {
		return "", fmt.Errorf("subject is required")
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = i.ttl
	}
	now := requestcontext.Now(ctx)

	claims := Claims{
		BPN:             req.BPN,
		AuthorizedParty: i.clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   req.Subject,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	if i.audience != "" {
		claims.Audience = jwt.ClaimStrings{i.audience}
	}
	if len(req.Roles) > 0 {
		claims.ResourceAccess = map[string]ResourceAccess{i.clientID: {Roles: req.Roles}}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
