package store_test

import (
	"context"
	"time"

	"github.com/stretchr/testify/suite"

	"custodian/internal/bpd/models"
	"custodian/internal/bpd/store"
	dErrors "custodian/pkg/domain-errors"
)

var updatedAt = time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)

type storeContract struct {
	suite.Suite
	store store.Store
	ctx   context.Context
}

func partner(bpn, name string) models.BusinessPartner {
	return models.BusinessPartner{
		BPN:       bpn,
		LegalName: name,
		LegalForm: "GmbH",
		Addresses: []models.Address{{Country: "DE", City: "Berlin", PostalCode: "10115", Street: "Invalidenstrasse 117"}},
		UpdatedAt: updatedAt,
	}
}

func (s *storeContract) TestSaveAndFind() {
	bp := partner("BPNL000000000001", "Acme GmbH")
	s.Require().NoError(s.store.Save(s.ctx, bp))

	got, err := s.store.FindByBPN(s.ctx, bp.BPN)
	s.Require().NoError(err)
	s.Equal(&bp, got)
}

func (s *storeContract) TestSaveReplaces() {
	s.Require().NoError(s.store.Save(s.ctx, partner("BPNL000000000001", "Acme GmbH")))

	renamed := partner("BPNL000000000001", "Acme AG")
	renamed.Addresses = []models.Address{}
	renamed.UpdatedAt = updatedAt.Add(time.Hour)
	s.Require().NoError(s.store.Save(s.ctx, renamed))

	got, err := s.store.FindByBPN(s.ctx, "BPNL000000000001")
	s.Require().NoError(err)
	s.Equal("Acme AG", got.LegalName)
	s.Empty(got.Addresses)
	s.True(got.UpdatedAt.Equal(updatedAt.Add(time.Hour)))
}

func (s *storeContract) TestFindMissing() {
	_, err := s.store.FindByBPN(s.ctx, "BPNL000000000009")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}
