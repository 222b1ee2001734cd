package handler

import "custodian/internal/wallet/models"

type CredentialListResponse struct {
	Credentials []models.Credential `json:"credentials"`
	Total       int                 `json:"total"`
}
