package service

import (
	"context"
	"strings"

	"custodian/internal/authz"
	"custodian/internal/wallet/credential"
	"custodian/internal/wallet/models"
	dErrors "custodian/pkg/domain-errors"
	"custodian/pkg/platform/audit"
	"custodian/pkg/requestcontext"
)

// CreatePresentation wraps credentials held by the holder into a vp-jwt
// signed with the holder key.
func (s *Service) CreatePresentation(ctx context.Context, req models.CreatePresentationRequest) (*models.Presentation, error) {
	if err := authz.RequireUpdate(ctx, identifierBPN(req.HolderIdentifier)); err != nil {
		return nil, err
	}
	holder, err := s.lookup(ctx, req.HolderIdentifier)
	if err != nil {
		return nil, err
	}

	held, err := s.store.ListCredentials(ctx, models.CredentialFilter{HolderDID: holder.DID})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list held credentials")
	}
	selected, err := selectCredentials(held, req.CredentialIDs)
	if err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "holder has no credentials to present")
	}

	tokens := make([]string, 0, len(selected))
	for _, vc := range selected {
		if vc.Proof == nil || vc.Proof.JWT == "" {
			return nil, dErrors.New(dErrors.CodeValidation, "credential "+vc.ID+" has no jwt proof")
		}
		tokens = append(tokens, vc.Proof.JWT)
	}

	now := s.now(ctx)
	p := models.Presentation{
		ID:                   models.NewPresentationID(),
		Holder:               holder.DID,
		Audience:             strings.TrimSpace(req.Audience),
		VerifiableCredential: tokens,
		IssuedAt:             now,
		ExpiresAt:            now.Add(s.cfg.PresentationTTL),
	}
	p.JWT, err = credential.SignPresentation(p, holder.PrivateKey)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "sign presentation")
	}
	s.record(ctx, audit.ActionPresentationCreated, p.ID, audit.DecisionGranted, "")
	return &p, nil
}

// VerifyPresentation checks the vp-jwt signature, lifetime and audience and
// verifies every embedded credential. With withExpiry, expired credentials
// make the presentation invalid.
func (s *Service) VerifyPresentation(ctx context.Context, token, audience string, withExpiry bool) (*models.PresentationVerifyResult, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "vp is required")
	}

	p, err := credential.ParsePresentation(ctx, token, s, requestcontext.Now(ctx))
	if err != nil {
		return s.presentationVerified(ctx, "", &models.PresentationVerifyResult{Reason: err.Error()}), nil
	}
	if !credential.HasAudience(p, audience) {
		return s.presentationVerified(ctx, p.ID, &models.PresentationVerifyResult{
			Holder: p.Holder,
			Reason: "presentation audience mismatch",
		}), nil
	}

	result := &models.PresentationVerifyResult{
		Valid:       true,
		Holder:      p.Holder,
		Credentials: make([]models.VerifyResult, 0, len(p.VerifiableCredential)),
	}
	fresh := true
	for _, vcJWT := range p.VerifiableCredential {
		r := s.verifyJWT(ctx, vcJWT, withExpiry)
		if r.Valid && !credential.SameDID(r.Credential.SubjectID(), p.Holder) {
			r.Valid = false
			r.Reason = "credential subject is not the presentation holder"
		}
		if r.ValidateExpiryDate != nil && !*r.ValidateExpiryDate {
			fresh = false
		}
		if !r.Valid {
			result.Valid = false
			result.Reason = "presentation contains invalid credentials"
		}
		result.Credentials = append(result.Credentials, r)
	}
	if withExpiry {
		result.ValidateExpiryDate = &fresh
	}
	return s.presentationVerified(ctx, p.ID, result), nil
}

func (s *Service) presentationVerified(ctx context.Context, id string, result *models.PresentationVerifyResult) *models.PresentationVerifyResult {
	s.record(ctx, audit.ActionPresentationVerified, id, decision(result.Valid), result.Reason)
	return result
}

func selectCredentials(held []models.CredentialRecord, ids []string) ([]models.Credential, error) {
	if len(ids) == 0 {
		out := make([]models.Credential, 0, len(held))
		for _, r := range held {
			out = append(out, r.Credential)
		}
		return out, nil
	}
	byID := make(map[string]models.Credential, len(held))
	for _, r := range held {
		byID[r.Credential.ID] = r.Credential
	}
	out := make([]models.Credential, 0, len(ids))
	for _, id := range ids {
		vc, ok := byID[id]
		if !ok {
			return nil, dErrors.New(dErrors.CodeNotFound, "credential "+id+" is not held by the holder")
		}
		out = append(out, vc)
	}
	return out, nil
}
