package handler

import (
	"time"

	"custodian/internal/wallet/models"
)

// WalletSummary never carries key material.
type WalletSummary struct {
	BPN       string    `json:"bpn"`
	Name      string    `json:"name"`
	DID       string    `json:"did"`
	Authority bool      `json:"authority"`
	CreatedAt time.Time `json:"createdAt"`
}

type WalletResponse struct {
	WalletSummary
	DIDDocument *models.DIDDocument `json:"didDocument"`
	Credentials []models.Credential `json:"verifiableCredentials,omitempty"`
}

type WalletListResponse struct {
	Wallets []WalletSummary `json:"wallets"`
	Total   int             `json:"total"`
}

func toWalletSummary(w *models.Wallet) WalletSummary {
	return WalletSummary{
		BPN:       w.BPN,
		Name:      w.Name,
		DID:       w.DID,
		Authority: w.Authority,
		CreatedAt: w.CreatedAt,
	}
}
