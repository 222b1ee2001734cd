package models

import "time"

type CreateWalletRequest struct {
	BPN  string
	Name string
}

// IssueCredentialRequest issues a credential from IssuerIdentifier (the
// authority wallet when empty) to HolderIdentifier. Identifiers are BPNs or DIDs.
type IssueCredentialRequest struct {
	IssuerIdentifier string
	HolderIdentifier string
	Types            []string
	Subject          map[string]any
	ExpirationDate   *time.Time
}

type CredentialQuery struct {
	HolderIdentifier string
	IssuerIdentifier string
	Type             string
}

// CreatePresentationRequest presents CredentialIDs held by HolderIdentifier,
// or every held credential when CredentialIDs is empty.
type CreatePresentationRequest struct {
	HolderIdentifier string
	CredentialIDs    []string
	Audience         string
}
