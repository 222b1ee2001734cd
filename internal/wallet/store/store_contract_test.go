package store_test

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"custodian/internal/wallet/credential"
	"custodian/internal/wallet/models"
	"custodian/internal/wallet/store"
	dErrors "custodian/pkg/domain-errors"
	"custodian/pkg/testutil"
)

var createdAt = time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)

// storeContract holds behavior every Store implementation must share.
type storeContract struct {
	suite.Suite
	store store.Store
	ctx   context.Context
}

func (s *storeContract) newWallet(bpn string, offset time.Duration) models.Wallet {
	key, err := credential.GenerateKey()
	s.Require().NoError(err)
	return models.Wallet{
		ID:         uuid.New(),
		BPN:        bpn,
		Name:       "Partner " + bpn,
		DID:        credential.DID("localhost:8080", bpn),
		PrivateKey: key,
		CreatedAt:  createdAt.Add(offset),
	}
}

func (s *storeContract) newCredential(issuer, holder models.Wallet, typ string, offset time.Duration) models.CredentialRecord {
	return models.CredentialRecord{
		HolderDID: holder.DID,
		Credential: models.Credential{
			Context:           []string{models.ContextCredentialsV1},
			ID:                models.NewCredentialID(),
			Type:              []string{models.TypeVerifiableCredential, typ},
			Issuer:            issuer.DID,
			IssuanceDate:      createdAt.Add(offset),
			CredentialSubject: map[string]any{"id": holder.DID},
		},
	}
}

func (s *storeContract) TestCreateAndFindWallet() {
	w := s.newWallet("BPNL000000000001", 0)
	w.Authority = true
	w.Services = []models.Service{{ID: w.DID + "#edc", Type: "DataService", ServiceEndpoint: "https://edc.example.com"}}
	s.Require().NoError(s.store.CreateWallet(s.ctx, w))

	found, err := s.store.WalletByBPN(s.ctx, w.BPN)
	s.Require().NoError(err)
	s.Equal(w.ID, found.ID)
	s.Equal(w.DID, found.DID)
	s.Equal(w.Name, found.Name)
	s.True(found.Authority)
	s.True(found.PrivateKey.Equal(w.PrivateKey))
	s.Equal(w.Services, found.Services)
	s.True(found.CreatedAt.Equal(w.CreatedAt))
}

func (s *storeContract) TestCreateWalletConflicts() {
	w := s.newWallet("BPNL000000000001", 0)
	s.Require().NoError(s.store.CreateWallet(s.ctx, w))

	again := s.newWallet("BPNL000000000001", time.Second)
	s.True(dErrors.HasCode(s.store.CreateWallet(s.ctx, again), dErrors.CodeConflict))

	sameDID := s.newWallet("BPNL000000000002", time.Second)
	sameDID.DID = w.DID
	s.True(dErrors.HasCode(s.store.CreateWallet(s.ctx, sameDID), dErrors.CodeConflict))
}

func (s *storeContract) TestMissingWallet() {
	_, err := s.store.WalletByBPN(s.ctx, "BPNL00000000000X")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	s.True(dErrors.HasCode(s.store.DeleteWallet(s.ctx, "BPNL00000000000X"), dErrors.CodeNotFound))
	s.True(dErrors.HasCode(s.store.UpdateServices(s.ctx, "BPNL00000000000X", nil), dErrors.CodeNotFound))
}

func (s *storeContract) TestListWalletsInCreationOrder() {
	second := s.newWallet("BPNL000000000002", time.Minute)
	first := s.newWallet("BPNL000000000001", 0)
	s.Require().NoError(s.store.CreateWallet(s.ctx, second))
	s.Require().NoError(s.store.CreateWallet(s.ctx, first))

	wallets, err := s.store.ListWallets(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(wallets, 2)
	s.Equal(first.BPN, wallets[0].BPN)
	s.Equal(second.BPN, wallets[1].BPN)
}

func (s *storeContract) TestUpdateServices() {
	w := s.newWallet("BPNL000000000001", 0)
	s.Require().NoError(s.store.CreateWallet(s.ctx, w))

	services := []models.Service{{ID: w.DID + "#portal", Type: "LinkedDomains", ServiceEndpoint: "https://portal.example.com"}}
	s.Require().NoError(s.store.UpdateServices(s.ctx, w.BPN, services))

	found, err := s.store.WalletByBPN(s.ctx, w.BPN)
	s.Require().NoError(err)
	s.Equal(services, found.Services)

	s.Require().NoError(s.store.UpdateServices(s.ctx, w.BPN, nil))
	found, err = s.store.WalletByBPN(s.ctx, w.BPN)
	s.Require().NoError(err)
	s.Empty(found.Services)
}

func (s *storeContract) TestCredentialsFilter() {
	authority := s.newWallet("BPNL000000000000", 0)
	holder := s.newWallet("BPNL000000000001", time.Second)
	other := s.newWallet("BPNL000000000002", 2*time.Second)
	for _, w := range []models.Wallet{authority, holder, other} {
		s.Require().NoError(s.store.CreateWallet(s.ctx, w))
	}

	bpnCred := s.newCredential(authority, holder, models.TypeBpnCredential, time.Minute)
	nameCred := s.newCredential(authority, holder, models.TypeNameCredential, 2*time.Minute)
	selfIssued := s.newCredential(other, other, models.TypeBpnCredential, 3*time.Minute)
	for _, r := range []models.CredentialRecord{bpnCred, nameCred, selfIssued} {
		s.Require().NoError(s.store.SaveCredential(s.ctx, r))
	}

	ids := func(filter models.CredentialFilter) []string {
		records, err := s.store.ListCredentials(s.ctx, filter)
		s.Require().NoError(err)
		out := make([]string, 0, len(records))
		for _, r := range records {
			out = append(out, r.Credential.ID)
		}
		return out
	}

	s.Equal([]string{bpnCred.Credential.ID, nameCred.Credential.ID, selfIssued.Credential.ID}, ids(models.CredentialFilter{}))
	s.Equal([]string{bpnCred.Credential.ID, nameCred.Credential.ID}, ids(models.CredentialFilter{HolderDID: holder.DID}))
	s.Equal([]string{bpnCred.Credential.ID, selfIssued.Credential.ID}, ids(models.CredentialFilter{Type: models.TypeBpnCredential}))
	s.Equal([]string{selfIssued.Credential.ID}, ids(models.CredentialFilter{IssuerDID: other.DID}))
	s.Equal([]string{nameCred.Credential.ID}, ids(models.CredentialFilter{HolderDID: holder.DID, Type: models.TypeNameCredential}))
	s.Empty(ids(models.CredentialFilter{Type: "MembershipCredential"}))

	records, err := s.store.ListCredentials(s.ctx, models.CredentialFilter{HolderDID: holder.DID, Type: models.TypeBpnCredential})
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal(holder.DID, records[0].HolderDID)
	s.Equal(holder.DID, records[0].Credential.SubjectID())
	s.True(records[0].Credential.IssuanceDate.Equal(bpnCred.Credential.IssuanceDate))
}

func (s *storeContract) TestSaveCredentialConflictsAndUnknownHolder() {
	authority := s.newWallet("BPNL000000000000", 0)
	s.Require().NoError(s.store.CreateWallet(s.ctx, authority))

	record := s.newCredential(authority, authority, models.TypeBpnCredential, 0)
	s.Require().NoError(s.store.SaveCredential(s.ctx, record))
	s.True(dErrors.HasCode(s.store.SaveCredential(s.ctx, record), dErrors.CodeConflict))

	orphan := s.newCredential(authority, s.newWallet("BPNL000000000009", 0), models.TypeBpnCredential, 0)
	s.True(dErrors.HasCode(s.store.SaveCredential(s.ctx, orphan), dErrors.CodeNotFound))
}

func (s *storeContract) TestDeleteWalletRemovesHeldCredentials() {
	authority := s.newWallet("BPNL000000000000", 0)
	holder := s.newWallet("BPNL000000000001", time.Second)
	s.Require().NoError(s.store.CreateWallet(s.ctx, authority))
	s.Require().NoError(s.store.CreateWallet(s.ctx, holder))

	held := s.newCredential(authority, holder, models.TypeBpnCredential, 0)
	kept := s.newCredential(authority, authority, models.TypeBpnCredential, time.Second)
	s.Require().NoError(s.store.SaveCredential(s.ctx, held))
	s.Require().NoError(s.store.SaveCredential(s.ctx, kept))

	s.Require().NoError(s.store.DeleteWallet(s.ctx, holder.BPN))

	_, err := s.store.WalletByBPN(s.ctx, holder.BPN)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	records, err := s.store.ListCredentials(s.ctx, models.CredentialFilter{})
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal(kept.Credential.ID, records[0].Credential.ID)
}

// TestConcurrentCreateSameBPN verifies that exactly one of many concurrent
// creates for a BPN wins.
func (s *storeContract) TestConcurrentCreateSameBPN() {
	const goroutines = 10
	wallets := make([]models.Wallet, goroutines)
	for i := range wallets {
		wallets[i] = s.newWallet("BPNL000000000001", 0)
	}

	result := testutil.RunConcurrent(goroutines, func(idx int) error {
		return s.store.CreateWallet(s.ctx, wallets[idx])
	})

	s.Equal(int32(1), result.Successes)
	s.Equal(int32(goroutines-1), result.Conflicts)
}
