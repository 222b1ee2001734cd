// Package jwtauth implements the auth-jwt bearer scheme: it validates access
// tokens and maps their claims onto the request identity.
package jwtauth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"custodian/internal/platform/config"
	dErrors "custodian/pkg/domain-errors"
	"custodian/pkg/requestcontext"
)

// SchemeName is the configuration name this validator registers under.
const SchemeName = "auth-jwt"

// Claims are the access token claims understood by the gateway. Roles may
// come from the top-level roles claim or from resource_access.<client>.roles.
type Claims struct {
	BPN             string                    `json:"bpn,omitempty"`
	AuthorizedParty string                    `json:"azp,omitempty"`
	Roles           []string                  `json:"roles,omitempty"`
	ResourceAccess  map[string]ResourceAccess `json:"resource_access,omitempty"`
	jwt.RegisteredClaims
}

type ResourceAccess struct {
	Roles []string `json:"roles"`
}

// Options configures a Validator. Exactly one of HMACSecret and PublicKey is
// used, selected by Algorithm.
type Options struct {
	Algorithm  string
	HMACSecret []byte
	PublicKey  *rsa.PublicKey
	Issuer     string
	Audience   string
	ClientID   string
	Leeway     time.Duration
	Now        func() time.Time
}

type Validator struct {
	key      any
	parser   *jwt.Parser
	clientID string
}

func NewValidator(opts Options) (*Validator, error) {
	var key any
	switch opts.Algorithm {
	case jwt.SigningMethodHS256.Alg():
		if len(opts.HMACSecret) == 0 {
			return nil, fmt.Errorf("hmac secret required for %s", opts.Algorithm)
		}
		key = opts.HMACSecret
	case jwt.SigningMethodRS256.Alg():
		if opts.PublicKey == nil {
			return nil, fmt.Errorf("public key required for %s", opts.Algorithm)
		}
		key = opts.PublicKey
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", opts.Algorithm)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{opts.Algorithm}),
		jwt.WithLeeway(opts.Leeway),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}
	if opts.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(opts.Audience))
	}
	if opts.Now != nil {
		parserOpts = append(parserOpts, jwt.WithTimeFunc(opts.Now))
	}

	return &Validator{
		key:      key,
		parser:   jwt.NewParser(parserOpts...),
		clientID: opts.ClientID,
	}, nil
}

// FromConfig builds a Validator from the auth section, reading the RS256
// public key from disk when configured.
func FromConfig(cfg config.Auth) (*Validator, error) {
	opts := Options{
		Algorithm:  cfg.Algorithm,
		HMACSecret: []byte(cfg.HMACSecret),
		Issuer:     cfg.Issuer,
		Audience:   cfg.Audience,
		ClientID:   cfg.ClientID,
		Leeway:     cfg.Leeway,
	}
	if cfg.Algorithm == jwt.SigningMethodRS256.Alg() {
		pem, err := os.ReadFile(cfg.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read public key: %w", err)
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM(pem)
		if err != nil {
			return nil, fmt.Errorf("parse public key: %w", err)
		}
		opts.PublicKey = key
	}
	return NewValidator(opts)
}

// Authenticate validates token and returns the caller identity. A cancelled
// ctx yields ctx.Err() so callers can tell cancellation from rejection.
func (v *Validator) Authenticate(ctx context.Context, token string) (*requestcontext.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	claims := new(Claims)
	_, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		return nil, classify(err)
	}
	if claims.Subject == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token missing subject")
	}

	identity := &requestcontext.Identity{
		Subject:  claims.Subject,
		BPN:      claims.BPN,
		ClientID: claims.AuthorizedParty,
		Roles:    v.roles(claims),
		TokenID:  claims.ID,
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	return identity, nil
}

func (v *Validator) roles(claims *Claims) []string {
	roles := slices.Clone(claims.Roles)
	if access, ok := claims.ResourceAccess[v.clientID]; ok && v.clientID != "" {
		roles = append(roles, access.Roles...)
	}
	slices.Sort(roles)
	return slices.Compact(roles)
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return dErrors.Wrap(err, dErrors.CodeUnauthorized, "token expired")
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return dErrors.Wrap(err, dErrors.CodeUnauthorized, "token not valid yet")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid token signature")
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid token issuer")
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid token audience")
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return dErrors.Wrap(err, dErrors.CodeUnauthorized, "token missing required claim")
	default:
		return dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid token")
	}
}
