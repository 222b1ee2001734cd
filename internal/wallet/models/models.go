package models

import (
	"crypto/ed25519"
	"slices"
	"time"

	"github.com/google/uuid"
)

const (
	ContextCredentialsV1 = "https://www.w3.org/2018/credentials/v1"
	ContextDIDV1         = "https://www.w3.org/ns/did/v1"
	ContextJWS2020       = "https://w3id.org/security/suites/jws-2020/v1"

	TypeVerifiableCredential   = "VerifiableCredential"
	TypeVerifiablePresentation = "VerifiablePresentation"

	// Credential types issued from business partner data.
	TypeBpnCredential     = "BpnCredential"
	TypeNameCredential    = "NameCredential"
	TypeAddressCredential = "AddressCredential"

	ProofTypeJWT = "JwtProof2020"

	credentialIDPrefix   = "urn:uuid:"
	presentationIDPrefix = "urn:uuid:"
)

// Wallet is a managed identity wallet for one business partner.
// PrivateKey never leaves the service layer.
type Wallet struct {
	ID         uuid.UUID
	BPN        string
	Name       string
	DID        string
	Authority  bool
	PrivateKey ed25519.PrivateKey
	Services   []Service
	CreatedAt  time.Time
}

func (w *Wallet) PublicKey() ed25519.PublicKey {
	return w.PrivateKey.Public().(ed25519.PublicKey)
}

// ServiceIndex returns the position of the service with id, or -1.
func (w *Wallet) ServiceIndex(id string) int {
	return slices.IndexFunc(w.Services, func(s Service) bool { return s.ID == id })
}

// Service is a DID document service endpoint.
type Service struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

// Credential is the subset of the W3C verifiable credential data model
// that wallets issue and store.
type Credential struct {
	Context           []string       `json:"@context"`
	ID                string         `json:"id"`
	Type              []string       `json:"type"`
	Issuer            string         `json:"issuer"`
	IssuanceDate      time.Time      `json:"issuanceDate"`
	ExpirationDate    *time.Time     `json:"expirationDate,omitempty"`
	CredentialSubject map[string]any `json:"credentialSubject"`
	Proof             *Proof         `json:"proof,omitempty"`
}

type Proof struct {
	Type string `json:"type"`
	JWT  string `json:"jwt"`
}

func NewCredentialID() string {
	return credentialIDPrefix + uuid.NewString()
}

func NewPresentationID() string {
	return presentationIDPrefix + uuid.NewString()
}

// SubjectID returns credentialSubject.id or "".
func (c *Credential) SubjectID() string {
	id, _ := c.CredentialSubject["id"].(string)
	return id
}

func (c *Credential) HasType(t string) bool {
	return slices.Contains(c.Type, t)
}

// ExpiredAt reports whether the credential carries an expiration date before now.
func (c *Credential) ExpiredAt(now time.Time) bool {
	return c.ExpirationDate != nil && c.ExpirationDate.Before(now)
}

// CredentialRecord is a credential held by a wallet.
type CredentialRecord struct {
	HolderDID  string
	Credential Credential
}

type CredentialFilter struct {
	HolderDID string
	IssuerDID string
	Type      string
}

type DIDDocument struct {
	Context            []string             `json:"@context"`
	ID                 string               `json:"id"`
	Controller         string               `json:"controller"`
	VerificationMethod []VerificationMethod `json:"verificationMethod"`
	Authentication     []string             `json:"authentication"`
	AssertionMethod    []string             `json:"assertionMethod"`
	Service            []Service            `json:"service"`
}

type VerificationMethod struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Controller   string         `json:"controller"`
	PublicKeyJwk map[string]any `json:"publicKeyJwk"`
}

// Presentation is a signed vp-jwt together with its decoded envelope.
type Presentation struct {
	ID                   string    `json:"id"`
	Holder               string    `json:"holder"`
	Audience             string    `json:"audience,omitempty"`
	VerifiableCredential []string  `json:"verifiableCredential"`
	IssuedAt             time.Time `json:"issuedAt"`
	ExpiresAt            time.Time `json:"expiresAt"`
	JWT                  string    `json:"vp"`
}

// VerifyResult reports a credential verification outcome. ValidateExpiryDate
// is set only when the expiry check was requested.
type VerifyResult struct {
	Valid              bool        `json:"valid"`
	ValidateExpiryDate *bool       `json:"validateExpiryDate,omitempty"`
	Reason             string      `json:"reason,omitempty"`
	Credential         *Credential `json:"vc,omitempty"`
}

type PresentationVerifyResult struct {
	Valid              bool           `json:"valid"`
	ValidateExpiryDate *bool          `json:"validateExpiryDate,omitempty"`
	Reason             string         `json:"reason,omitempty"`
	Holder             string         `json:"holder,omitempty"`
	Credentials        []VerifyResult `json:"credentials,omitempty"`
}
