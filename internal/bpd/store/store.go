package store

import (
	"context"

	"custodian/internal/bpd/models"
	dErrors "custodian/pkg/domain-errors"
)

var ErrNotFound = dErrors.New(dErrors.CodeNotFound, "business partner not found")

// Store keeps the latest business partner data per BPN.
type Store interface {
	// Save inserts or replaces the data held for bp.BPN.
	Save(ctx context.Context, bp models.BusinessPartner) error
	FindByBPN(ctx context.Context, bpn string) (*models.BusinessPartner, error)
}
