package service

import (
	"context"
	"crypto/ed25519"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"custodian/internal/authz"
	"custodian/internal/wallet/credential"
	"custodian/internal/wallet/models"
	"custodian/internal/wallet/store"
	dErrors "custodian/pkg/domain-errors"
	"custodian/pkg/platform/audit"
	xsync "custodian/pkg/platform/sync"
	"custodian/pkg/requestcontext"
	"custodian/pkg/validation"
)

const defaultPresentationTTL = time.Hour

// AuditRecorder is satisfied by audit.Recorder.
type AuditRecorder interface {
	Record(ctx context.Context, event audit.Event)
}

type Config struct {
	AuthorityBPN  string
	AuthorityName string
	DIDHost       string
	// CredentialTTL sets the expiration of issued credentials; zero issues
	// credentials without an expiration date.
	CredentialTTL   time.Duration
	PresentationTTL time.Duration
}

// Option configures the wallet service.
type Option func(*Service)

// Service manages wallets, their DID documents and the credentials they
// issue, hold and present.
type Service struct {
	store   store.Store
	cfg     Config
	auditor AuditRecorder
	logger  *slog.Logger

	serviceLocks *xsync.ShardedMutex
}

func New(store store.Store, cfg Config, opts ...Option) *Service {
	if cfg.PresentationTTL <= 0 {
		cfg.PresentationTTL = defaultPresentationTTL
	}
	svc := &Service{
		store:        store,
		cfg:          cfg,
		logger:       slog.New(slog.DiscardHandler),
		serviceLocks: xsync.NewShardedMutex(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// WithAuditor configures an audit recorder for wallet and credential actions.
func WithAuditor(auditor AuditRecorder) Option {
	return func(s *Service) {
		s.auditor = auditor
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// EnsureAuthorityWallet returns the operator's base wallet, creating it on
// first start.
func (s *Service) EnsureAuthorityWallet(ctx context.Context) (*models.Wallet, error) {
	w, err := s.store.WalletByBPN(ctx, s.cfg.AuthorityBPN)
	if err == nil {
		return w, nil
	}
	if !dErrors.HasCode(err, dErrors.CodeNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load authority wallet")
	}

	w, err = s.newWallet(ctx, s.cfg.AuthorityBPN, s.cfg.AuthorityName, true)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateWallet(ctx, *w); err != nil {
		if dErrors.HasCode(err, dErrors.CodeConflict) {
			return s.store.WalletByBPN(ctx, s.cfg.AuthorityBPN)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create authority wallet")
	}
	s.logger.InfoContext(ctx, "authority wallet created", "bpn", w.BPN, "did", w.DID)
	return w, nil
}

func (s *Service) Create(ctx context.Context, req models.CreateWalletRequest) (*models.Wallet, error) {
	if err := authz.RequireRole(ctx, authz.RoleAddWallets); err != nil {
		return nil, err
	}
	bpn := strings.TrimSpace(req.BPN)
	name := strings.TrimSpace(req.Name)
	if !validation.IsBPN(bpn) {
		return nil, dErrors.New(dErrors.CodeValidation, "bpn must be a valid business partner number")
	}
	if name == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "name is required")
	}

	w, err := s.newWallet(ctx, bpn, name, false)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateWallet(ctx, *w); err != nil {
		if dErrors.HasCode(err, dErrors.CodeConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "wallet already exists for bpn "+bpn)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create wallet")
	}

	s.logger.InfoContext(ctx, "wallet created",
		"bpn", w.BPN,
		"request_id", requestcontext.RequestID(ctx),
	)
	s.record(ctx, audit.ActionWalletCreated, w.BPN, audit.DecisionGranted, "")
	return w, nil
}

// Get returns the wallet identified by a BPN or DID.
func (s *Service) Get(ctx context.Context, identifier string) (*models.Wallet, error) {
	if err := authz.RequireView(ctx, identifierBPN(identifier)); err != nil {
		return nil, err
	}
	return s.lookup(ctx, identifier)
}

func (s *Service) List(ctx context.Context) ([]models.Wallet, error) {
	if err := authz.RequireRole(ctx, authz.RoleViewWallets); err != nil {
		return nil, err
	}
	wallets, err := s.store.ListWallets(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list wallets")
	}
	return wallets, nil
}

// Delete removes a wallet and every credential it holds. The authority
// wallet cannot be deleted.
func (s *Service) Delete(ctx context.Context, identifier string) error {
	if err := authz.RequireRole(ctx, authz.RoleDeleteWallets); err != nil {
		return err
	}
	w, err := s.lookup(ctx, identifier)
	if err != nil {
		return err
	}
	if w.Authority {
		return dErrors.New(dErrors.CodeForbidden, "authority wallet cannot be deleted")
	}
	if err := s.store.DeleteWallet(ctx, w.BPN); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "delete wallet")
	}
	s.record(ctx, audit.ActionWalletDeleted, w.BPN, audit.DecisionGranted, "")
	return nil
}

// ResolveKey resolves the verification key of a locally managed DID.
func (s *Service) ResolveKey(ctx context.Context, did string) (ed25519.PublicKey, error) {
	if !strings.HasPrefix(did, "did:") {
		return nil, dErrors.New(dErrors.CodeNotFound, "not a did: "+did)
	}
	w, err := s.lookup(ctx, did)
	if err != nil {
		return nil, err
	}
	return w.PublicKey(), nil
}

func (s *Service) newWallet(ctx context.Context, bpn, name string, authority bool) (*models.Wallet, error) {
	key, err := credential.GenerateKey()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "generate wallet key")
	}
	return &models.Wallet{
		ID:         uuid.New(),
		BPN:        bpn,
		Name:       name,
		DID:        credential.DID(s.cfg.DIDHost, bpn),
		Authority:  authority,
		PrivateKey: key,
		Services:   []models.Service{},
		CreatedAt:  s.now(ctx),
	}, nil
}

// lookup finds a wallet by BPN or by DID. Every wallet DID ends with its BPN,
// so DIDs resolve through the BPN and are then compared.
func (s *Service) lookup(ctx context.Context, identifier string) (*models.Wallet, error) {
	identifier = strings.TrimSpace(identifier)
	bpn := identifierBPN(identifier)
	if bpn == "" {
		return nil, walletNotFound(identifier)
	}

	w, err := s.store.WalletByBPN(ctx, bpn)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, walletNotFound(identifier)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load wallet")
	}
	if bpn != identifier && !credential.SameDID(w.DID, identifier) {
		return nil, walletNotFound(identifier)
	}
	return w, nil
}

// identifierBPN returns the BPN named by a BPN or wallet DID without touching
// the store, or "" for anything else. Authorization checks use it so callers
// cannot probe which wallets exist.
func identifierBPN(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if validation.IsBPN(identifier) {
		return identifier
	}
	bpn, _ := credential.BPNFromDID(identifier)
	return bpn
}

func walletNotFound(identifier string) error {
	return dErrors.New(dErrors.CodeNotFound, "wallet not found for identifier "+identifier)
}

func (s *Service) now(ctx context.Context) time.Time {
	return requestcontext.Now(ctx).UTC().Truncate(time.Second)
}

func (s *Service) record(ctx context.Context, action audit.Action, target, decision, reason string) {
	if s.auditor == nil {
		return
	}
	s.auditor.Record(ctx, audit.Event{
		Action:   action,
		Target:   target,
		Decision: decision,
		Reason:   reason,
	})
}

var _ credential.KeyResolver = (*Service)(nil)
