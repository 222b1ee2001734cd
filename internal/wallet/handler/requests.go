package handler

import (
	"strings"

	"custodian/internal/wallet/models"
)

type CreateWalletRequest struct {
	BPN  string `json:"bpn" validate:"required,bpn"`
	Name string `json:"name" validate:"notblank,max=255"`
}

func (r *CreateWalletRequest) Normalize() {
	if r == nil {
		return
	}
	r.BPN = strings.ToUpper(strings.TrimSpace(r.BPN))
	r.Name = strings.TrimSpace(r.Name)
}

func (r *CreateWalletRequest) toModel() models.CreateWalletRequest {
	return models.CreateWalletRequest{BPN: r.BPN, Name: r.Name}
}
