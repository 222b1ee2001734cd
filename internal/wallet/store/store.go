package store

import (
	"context"

	"custodian/internal/wallet/models"
	dErrors "custodian/pkg/domain-errors"
)

var (
	// ErrNotFound keeps storage-specific 404s consistent across implementations.
	ErrNotFound = dErrors.New(dErrors.CodeNotFound, "record not found")
	ErrConflict = dErrors.New(dErrors.CodeConflict, "record already exists")
)

// Store persists wallets and the credentials they hold. Deleting a wallet
// deletes its credentials.
type Store interface {
	CreateWallet(ctx context.Context, wallet models.Wallet) error
	WalletByBPN(ctx context.Context, bpn string) (*models.Wallet, error)
	ListWallets(ctx context.Context) ([]models.Wallet, error)
	DeleteWallet(ctx context.Context, bpn string) error
	UpdateServices(ctx context.Context, bpn string, services []models.Service) error

	SaveCredential(ctx context.Context, record models.CredentialRecord) error
	ListCredentials(ctx context.Context, filter models.CredentialFilter) ([]models.CredentialRecord, error)
}
