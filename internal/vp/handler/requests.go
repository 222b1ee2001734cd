package handler

import (
	"custodian/internal/wallet/models"
	limits "custodian/pkg/platform/validation"
	"custodian/pkg/validation"
)

type CreatePresentationRequest struct {
	HolderIdentifier string   `json:"holderIdentifier" validate:"notblank"`
	CredentialIDs    []string `json:"credentialIds"`
	Audience         string   `json:"audience"`
}

func (r *CreatePresentationRequest) Normalize() {
	validation.TrimFields(&r.HolderIdentifier, &r.Audience)
	validation.TrimEach(r.CredentialIDs)
}

func (r *CreatePresentationRequest) Validate() error {
	if err := limits.CheckStringLength("holderIdentifier", r.HolderIdentifier, limits.MaxIdentifierLength); err != nil {
		return err
	}
	if err := limits.CheckSliceCount("credentialIds", len(r.CredentialIDs), limits.MaxPresentedCredentials); err != nil {
		return err
	}
	return limits.CheckStringLength("audience", r.Audience, limits.MaxAudienceLength)
}

func (r *CreatePresentationRequest) toModel() models.CreatePresentationRequest {
	return models.CreatePresentationRequest{
		HolderIdentifier: r.HolderIdentifier,
		CredentialIDs:    r.CredentialIDs,
		Audience:         r.Audience,
	}
}

// ValidatePresentationRequest carries a vp-jwt and the audience the verifier expects.
type ValidatePresentationRequest struct {
	VP       string `json:"vp" validate:"notblank"`
	Audience string `json:"audience"`
}

func (r *ValidatePresentationRequest) Normalize() {
	validation.TrimFields(&r.VP, &r.Audience)
}
