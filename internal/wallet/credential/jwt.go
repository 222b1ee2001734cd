package credential

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"custodian/internal/wallet/models"
	dErrors "custodian/pkg/domain-errors"
)

// KeyResolver returns the verification key of a locally managed DID.
type KeyResolver interface {
	ResolveKey(ctx context.Context, did string) (ed25519.PublicKey, error)
}

// KeyResolverFunc adapts a function to KeyResolver.
type KeyResolverFunc func(ctx context.Context, did string) (ed25519.PublicKey, error)

func (f KeyResolverFunc) ResolveKey(ctx context.Context, did string) (ed25519.PublicKey, error) {
	return f(ctx, did)
}

type vcClaims struct {
	VC models.Credential `json:"vc"`
	jwt.RegisteredClaims
}

type vpClaims struct {
	VP vpBody `json:"vp"`
	jwt.RegisteredClaims
}

type vpBody struct {
	Context              []string `json:"@context"`
	ID                   string   `json:"id"`
	Type                 []string `json:"type"`
	Holder               string   `json:"holder"`
	VerifiableCredential []string `json:"verifiableCredential"`
}

var eddsa = []string{jwt.SigningMethodEdDSA.Alg()}

// SignCredential returns the vc-jwt of cred signed with the issuer key. The
// proof of cred is not part of the signed body.
func SignCredential(cred models.Credential, key ed25519.PrivateKey) (string, error) {
	body := cred
	body.Proof = nil
	claims := vcClaims{
		VC: body,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cred.Issuer,
			Subject:   cred.SubjectID(),
			ID:        cred.ID,
			NotBefore: jwt.NewNumericDate(cred.IssuanceDate),
		},
	}
	if cred.ExpirationDate != nil {
		claims.ExpiresAt = jwt.NewNumericDate(*cred.ExpirationDate)
	}
	return sign(claims, cred.Issuer, key)
}

// ParseCredential verifies the signature of a vc-jwt against the issuer key
// and returns the embedded credential with its proof attached. Temporal
// claims are not checked here.
func ParseCredential(ctx context.Context, token string, keys KeyResolver) (*models.Credential, error) {
	claims := &vcClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods(eddsa), jwt.WithoutClaimsValidation())
	if _, err := parser.ParseWithClaims(token, claims, keyFunc(ctx, keys)); err != nil {
		return nil, classify(err, "credential")
	}

	vc := claims.VC
	switch {
	case claims.Issuer != vc.Issuer:
		return nil, dErrors.New(dErrors.CodeInvalidSignature, "credential issuer does not match jwt issuer")
	case claims.Subject != "" && claims.Subject != vc.SubjectID():
		return nil, dErrors.New(dErrors.CodeInvalidSignature, "credential subject does not match jwt subject")
	case claims.ID != "" && claims.ID != vc.ID:
		return nil, dErrors.New(dErrors.CodeInvalidSignature, "credential id does not match jwt id")
	}
	vc.Proof = &models.Proof{Type: models.ProofTypeJWT, JWT: token}
	return &vc, nil
}

// MatchesProof reports whether submitted carries exactly the claims of the
// credential signed in its proof. Proofs are ignored, timestamps compare as
// instants and the issuer DID may be percent-encoded differently.
func MatchesProof(signed, submitted models.Credential) bool {
	if !SameDID(signed.Issuer, submitted.Issuer) {
		return false
	}
	a, errA := json.Marshal(unsigned(signed, signed.Issuer))
	b, errB := json.Marshal(unsigned(submitted, signed.Issuer))
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

func unsigned(c models.Credential, issuer string) models.Credential {
	c.Proof = nil
	c.Issuer = issuer
	c.IssuanceDate = c.IssuanceDate.UTC()
	if c.ExpirationDate != nil {
		exp := c.ExpirationDate.UTC()
		c.ExpirationDate = &exp
	}
	return c
}

// SignPresentation returns the vp-jwt of p signed with the holder key.
func SignPresentation(p models.Presentation, key ed25519.PrivateKey) (string, error) {
	claims := vpClaims{
		VP: vpBody{
			Context:              []string{models.ContextCredentialsV1},
			ID:                   p.ID,
			Type:                 []string{models.TypeVerifiablePresentation},
			Holder:               p.Holder,
			VerifiableCredential: p.VerifiableCredential,
		},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.Holder,
			ID:        p.ID,
			IssuedAt:  jwt.NewNumericDate(p.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(p.ExpiresAt),
		},
	}
	if p.Audience != "" {
		claims.Audience = jwt.ClaimStrings{p.Audience}
	}
	return sign(claims, p.Holder, key)
}

// ParsePresentation verifies a vp-jwt signed by its holder and valid at now.
func ParsePresentation(ctx context.Context, token string, keys KeyResolver, now time.Time) (*models.Presentation, error) {
	claims := &vpClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods(eddsa),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if _, err := parser.ParseWithClaims(token, claims, keyFunc(ctx, keys)); err != nil {
		return nil, classify(err, "presentation")
	}
	if claims.VP.Holder != claims.Issuer {
		return nil, dErrors.New(dErrors.CodeInvalidSignature, "presentation holder does not match jwt issuer")
	}

	p := &models.Presentation{
		ID:                   claims.VP.ID,
		Holder:               claims.VP.Holder,
		VerifiableCredential: claims.VP.VerifiableCredential,
		JWT:                  token,
	}
	if len(claims.Audience) > 0 {
		p.Audience = claims.Audience[0]
	}
	if claims.IssuedAt != nil {
		p.IssuedAt = claims.IssuedAt.Time
	}
	p.ExpiresAt = claims.ExpiresAt.Time
	return p, nil
}

// HasAudience reports whether p was issued for audience. An empty audience
// matches every presentation.
func HasAudience(p *models.Presentation, audience string) bool {
	return audience == "" || p.Audience == audience
}

func sign(claims jwt.Claims, did string, key ed25519.PrivateKey) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = KeyID(did)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return signed, nil
}

func keyFunc(ctx context.Context, keys KeyResolver) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		issuer, err := t.Claims.GetIssuer()
		if err != nil || issuer == "" {
			return nil, dErrors.New(dErrors.CodeInvalidSignature, "jwt issuer is missing")
		}
		if kid, ok := t.Header["kid"].(string); ok && kid != "" && !SameDID(kid, KeyID(issuer)) {
			return nil, dErrors.New(dErrors.CodeInvalidSignature, "jwt key id does not belong to issuer")
		}
		key, err := keys.ResolveKey(ctx, issuer)
		if err != nil {
			return nil, dErrors.New(dErrors.CodeInvalidSignature, "unknown issuer "+issuer)
		}
		return key, nil
	}
}

func classify(err error, kind string) error {
	var domainErr *dErrors.Error
	switch {
	case errors.As(err, &domainErr):
		return domainErr
	case errors.Is(err, jwt.ErrTokenMalformed):
		return dErrors.New(dErrors.CodeBadRequest, "malformed "+kind+" jwt")
	case errors.Is(err, jwt.ErrTokenExpired):
		return dErrors.New(dErrors.CodeExpired, kind+" expired")
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return dErrors.New(dErrors.CodeInvalidSignature, kind+" jwt is missing a required claim")
	default:
		return dErrors.Wrap(err, dErrors.CodeInvalidSignature, "invalid "+kind+" signature")
	}
}
