package handler

import (
	"time"

	"custodian/internal/wallet/models"
	limits "custodian/pkg/platform/validation"
	"custodian/pkg/validation"
)

type IssueCredentialRequest struct {
	IssuerIdentifier  string         `json:"issuerIdentifier"`
	HolderIdentifier  string         `json:"holderIdentifier" validate:"notblank"`
	Types             []string       `json:"type" validate:"required,min=1"`
	CredentialSubject map[string]any `json:"credentialSubject"`
	ExpirationDate    *time.Time     `json:"expirationDate"`
}

func (r *IssueCredentialRequest) Normalize() {
	validation.TrimFields(&r.IssuerIdentifier, &r.HolderIdentifier)
	validation.TrimEach(r.Types)
}

func (r *IssueCredentialRequest) Validate() error {
	if err := limits.CheckStringLength("holderIdentifier", r.HolderIdentifier, limits.MaxIdentifierLength); err != nil {
		return err
	}
	if err := limits.CheckSliceCount("type", len(r.Types), limits.MaxCredentialTypes); err != nil {
		return err
	}
	return limits.CheckEachStringLength("type", r.Types, limits.MaxCredentialTypeLength)
}

func (r *IssueCredentialRequest) toModel() models.IssueCredentialRequest {
	return models.IssueCredentialRequest{
		IssuerIdentifier: r.IssuerIdentifier,
		HolderIdentifier: r.HolderIdentifier,
		Types:            r.Types,
		Subject:          r.CredentialSubject,
		ExpirationDate:   r.ExpirationDate,
	}
}
