// Package credential signs and verifies vc-jwt and vp-jwt tokens with wallet
// Ed25519 keys and renders did:web documents.
package credential

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-jose/go-jose/v4"

	"custodian/internal/wallet/models"
	"custodian/pkg/validation"
)

const (
	verificationKeyFragment = "#key-1"
	keyTypeJWK2020          = "JsonWebKey2020"
)

// DID builds the did:web identifier of a wallet. Port separators in host are
// percent-encoded so the BPN stays the last colon-separated segment.
func DID(host, bpn string) string {
	return "did:web:" + strings.ReplaceAll(host, ":", "%3A") + ":" + bpn
}

func KeyID(did string) string {
	return did + verificationKeyFragment
}

// BPNFromDID returns the trailing BPN segment of a wallet DID.
func BPNFromDID(did string) (string, bool) {
	if !strings.HasPrefix(did, "did:web:") {
		return "", false
	}
	bpn := did[strings.LastIndex(did, ":")+1:]
	return bpn, validation.IsBPN(bpn)
}

// SameDID compares DIDs ignoring percent-encoding of colons.
func SameDID(a, b string) bool {
	return strings.HasPrefix(a, "did:") && decodeColons(a) == decodeColons(b)
}

func decodeColons(did string) string {
	return strings.ReplaceAll(strings.ReplaceAll(did, "%3A", ":"), "%3a", ":")
}

func GenerateKey() (ed25519.PrivateKey, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate wallet key: %w", err)
	}
	return key, nil
}

// Document renders the DID document of w with a single JsonWebKey2020
// verification method.
func Document(w *models.Wallet) (*models.DIDDocument, error) {
	jwk, err := publicJWK(w.PublicKey())
	if err != nil {
		return nil, err
	}
	kid := KeyID(w.DID)
	services := w.Services
	if services == nil {
		services = []models.Service{}
	}
	return &models.DIDDocument{
		Context:    []string{models.ContextDIDV1, models.ContextJWS2020},
		ID:         w.DID,
		Controller: w.DID,
		VerificationMethod: []models.VerificationMethod{{
			ID:           kid,
			Type:         keyTypeJWK2020,
			Controller:   w.DID,
			PublicKeyJwk: jwk,
		}},
		Authentication:  []string{kid},
		AssertionMethod: []string{kid},
		Service:         services,
	}, nil
}

func publicJWK(key ed25519.PublicKey) (map[string]any, error) {
	raw, err := json.Marshal(jose.JSONWebKey{Key: key})
	if err != nil {
		return nil, fmt.Errorf("marshal public jwk: %w", err)
	}
	var jwk map[string]any
	if err := json.Unmarshal(raw, &jwk); err != nil {
		return nil, fmt.Errorf("decode public jwk: %w", err)
	}
	return jwk, nil
}

// PublicKeyFromJWK reverses the publicKeyJwk rendering of Document.
func PublicKeyFromJWK(jwk map[string]any) (ed25519.PublicKey, error) {
	raw, err := json.Marshal(jwk)
	if err != nil {
		return nil, fmt.Errorf("encode jwk: %w", err)
	}
	var key jose.JSONWebKey
	if err := key.UnmarshalJSON(raw); err != nil {
		return nil, fmt.Errorf("parse jwk: %w", err)
	}
	pub, ok := key.Key.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("jwk is not an Ed25519 public key")
	}
	return pub, nil
}
