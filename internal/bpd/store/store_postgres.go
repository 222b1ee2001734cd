package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"custodian/internal/bpd/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, bp models.BusinessPartner) error {
	addresses := bp.Addresses
	if addresses == nil {
		addresses = []models.Address{}
	}
	raw, err := json.Marshal(addresses)
	if err != nil {
		return fmt.Errorf("encode addresses: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO business_partners (bpn, legal_name, legal_form, addresses, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (bpn) DO UPDATE
		SET legal_name = EXCLUDED.legal_name,
		    legal_form = EXCLUDED.legal_form,
		    addresses = EXCLUDED.addresses,
		    updated_at = EXCLUDED.updated_at
	`, bp.BPN, bp.LegalName, bp.LegalForm, raw, bp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save business partner: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByBPN(ctx context.Context, bpn string) (*models.BusinessPartner, error) {
	var (
		bp  models.BusinessPartner
		raw []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT bpn, legal_name, legal_form, addresses, updated_at
		FROM business_partners
		WHERE bpn = $1
	`, bpn).Scan(&bp.BPN, &bp.LegalName, &bp.LegalForm, &raw, &bp.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find business partner: %w", err)
	}
	if err := json.Unmarshal(raw, &bp.Addresses); err != nil {
		return nil, fmt.Errorf("decode addresses: %w", err)
	}
	bp.UpdatedAt = bp.UpdatedAt.UTC()
	return &bp, nil
}
