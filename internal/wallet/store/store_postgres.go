package store

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"custodian/internal/wallet/models"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgresStore persists wallets and credentials in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateWallet(ctx context.Context, wallet models.Wallet) error {
	services, err := marshalServices(wallet.Services)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO wallets (id, bpn, did, name, private_key, services, authority, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, wallet.ID, wallet.BPN, wallet.DID, wallet.Name, []byte(wallet.PrivateKey), services, wallet.Authority, wallet.CreatedAt)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return ErrConflict
		}
		return fmt.Errorf("create wallet: %w", err)
	}
	return nil
}

func (s *PostgresStore) WalletByBPN(ctx context.Context, bpn string) (*models.Wallet, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, bpn, did, name, private_key, services, authority, created_at
		FROM wallets
		WHERE bpn = $1
	`, bpn)
	wallet, err := scanWallet(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find wallet by bpn: %w", err)
	}
	return &wallet, nil
}

func (s *PostgresStore) ListWallets(ctx context.Context) ([]models.Wallet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, bpn, did, name, private_key, services, authority, created_at
		FROM wallets
		ORDER BY created_at, bpn
	`)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	defer rows.Close()

	wallets := make([]models.Wallet, 0)
	for rows.Next() {
		wallet, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		wallets = append(wallets, wallet)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	return wallets, nil
}

// DeleteWallet relies on ON DELETE CASCADE for held credentials.
func (s *PostgresStore) DeleteWallet(ctx context.Context, bpn string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM wallets WHERE bpn = $1`, bpn)
	if err != nil {
		return fmt.Errorf("delete wallet: %w", err)
	}
	return requireAffected(res)
}

func (s *PostgresStore) UpdateServices(ctx context.Context, bpn string, services []models.Service) error {
	raw, err := marshalServices(services)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE wallets SET services = $2 WHERE bpn = $1`, bpn, raw)
	if err != nil {
		return fmt.Errorf("update wallet services: %w", err)
	}
	return requireAffected(res)
}

func (s *PostgresStore) SaveCredential(ctx context.Context, record models.CredentialRecord) error {
	data, err := json.Marshal(record.Credential)
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credentials (id, holder_did, issuer_did, data, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, record.Credential.ID, record.HolderDID, record.Credential.Issuer, data,
		record.Credential.IssuanceDate, record.Credential.ExpirationDate)
	if err != nil {
		switch pgCode(err) {
		case pgUniqueViolation:
			return ErrConflict
		case pgForeignKeyViolation:
			return ErrNotFound
		}
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListCredentials(ctx context.Context, filter models.CredentialFilter) ([]models.CredentialRecord, error) {
	var (
		conditions []string
		args       []any
	)
	add := func(expr string, value any) {
		args = append(args, value)
		conditions = append(conditions, strings.ReplaceAll(expr, "?", "$"+strconv.Itoa(len(args))))
	}
	if filter.HolderDID != "" {
		add("holder_did = ?", filter.HolderDID)
	}
	if filter.IssuerDID != "" {
		add("issuer_did = ?", filter.IssuerDID)
	}
	if filter.Type != "" {
		add("data->'type' @> to_jsonb(?::text)", filter.Type)
	}

	query := `SELECT holder_did, data FROM credentials`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY issued_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	records := make([]models.CredentialRecord, 0)
	for rows.Next() {
		var (
			record models.CredentialRecord
			data   []byte
		)
		if err := rows.Scan(&record.HolderDID, &data); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		if err := json.Unmarshal(data, &record.Credential); err != nil {
			return nil, fmt.Errorf("unmarshal credential: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return records, nil
}

type walletRow interface {
	Scan(dest ...any) error
}

func scanWallet(row walletRow) (models.Wallet, error) {
	var (
		wallet   models.Wallet
		key      []byte
		services []byte
	)
	if err := row.Scan(&wallet.ID, &wallet.BPN, &wallet.DID, &wallet.Name, &key, &services, &wallet.Authority, &wallet.CreatedAt); err != nil {
		return models.Wallet{}, err
	}
	if len(key) != ed25519.PrivateKeySize {
		return models.Wallet{}, fmt.Errorf("wallet %s: invalid private key length %d", wallet.BPN, len(key))
	}
	wallet.PrivateKey = ed25519.PrivateKey(key)
	if err := json.Unmarshal(services, &wallet.Services); err != nil {
		return models.Wallet{}, fmt.Errorf("unmarshal wallet services: %w", err)
	}
	return wallet, nil
}

func marshalServices(services []models.Service) ([]byte, error) {
	if services == nil {
		services = []models.Service{}
	}
	raw, err := json.Marshal(services)
	if err != nil {
		return nil, fmt.Errorf("marshal wallet services: %w", err)
	}
	return raw, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

var _ Store = (*PostgresStore)(nil)
