package service

import (
	"bytes"
	"context"
	"encoding/json"
	"maps"
	"slices"
	"strings"
	"time"

	"custodian/internal/authz"
	"custodian/internal/wallet/credential"
	"custodian/internal/wallet/models"
	dErrors "custodian/pkg/domain-errors"
	"custodian/pkg/platform/audit"
	"custodian/pkg/requestcontext"
)

// StoreCredential stores an externally issued credential in the wallet of
// its subject.
func (s *Service) StoreCredential(ctx context.Context, identifier string, raw []byte) (*models.CredentialRecord, error) {
	if err := authz.RequireUpdate(ctx, identifierBPN(identifier)); err != nil {
		return nil, err
	}
	w, err := s.lookup(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if err := credential.ValidateSchema(raw); err != nil {
		return nil, err
	}
	var vc models.Credential
	if err := json.Unmarshal(raw, &vc); err != nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "invalid credential: "+err.Error())
	}
	if !credential.SameDID(vc.SubjectID(), w.DID) {
		return nil, dErrors.New(dErrors.CodeValidation, "credentialSubject.id must be the holder did "+w.DID)
	}

	record := models.CredentialRecord{HolderDID: w.DID, Credential: vc}
	if err := s.saveCredential(ctx, record); err != nil {
		return nil, err
	}
	s.record(ctx, audit.ActionCredentialStored, vc.ID, audit.DecisionGranted, "")
	return &record, nil
}

func (s *Service) IssueCredential(ctx context.Context, req models.IssueCredentialRequest) (*models.CredentialRecord, error) {
	if err := authz.RequireRole(ctx, authz.RoleUpdateWallets); err != nil {
		return nil, err
	}
	issuerID := req.IssuerIdentifier
	if strings.TrimSpace(issuerID) == "" {
		issuerID = s.cfg.AuthorityBPN
	}
	issuer, err := s.lookup(ctx, issuerID)
	if err != nil {
		return nil, err
	}
	holder, err := s.lookup(ctx, req.HolderIdentifier)
	if err != nil {
		return nil, err
	}
	types := credentialTypes(req.Types)
	if len(types) < 2 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one credential type besides VerifiableCredential is required")
	}
	if req.ExpirationDate != nil && !req.ExpirationDate.After(s.now(ctx)) {
		return nil, dErrors.New(dErrors.CodeValidation, "expirationDate must be in the future")
	}
	return s.issue(ctx, issuer, holder, types, req.Subject, req.ExpirationDate)
}

// IssueFromAuthority issues an authority credential of typ to the wallet of
// holderBPN on behalf of internal workflows, without caller authorization.
// When the holder already has an identical authority credential it is
// returned instead and issued is false.
func (s *Service) IssueFromAuthority(ctx context.Context, holderBPN, typ string, subject map[string]any) (record *models.CredentialRecord, issued bool, err error) {
	issuer, err := s.lookup(ctx, s.cfg.AuthorityBPN)
	if err != nil {
		return nil, false, err
	}
	holder, err := s.lookup(ctx, holderBPN)
	if err != nil {
		return nil, false, err
	}

	existing, err := s.store.ListCredentials(ctx, models.CredentialFilter{
		HolderDID: holder.DID,
		IssuerDID: issuer.DID,
		Type:      typ,
	})
	if err != nil {
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "list credentials")
	}
	want := withSubjectID(subject, holder.DID)
	for i := range existing {
		if sameSubject(existing[i].Credential.CredentialSubject, want) && !existing[i].Credential.ExpiredAt(s.now(ctx)) {
			return &existing[i], false, nil
		}
	}

	record, err = s.issue(ctx, issuer, holder, credentialTypes([]string{typ}), subject, nil)
	if err != nil {
		return nil, false, err
	}
	return record, true, nil
}

func (s *Service) issue(ctx context.Context, issuer, holder *models.Wallet, types []string, subject map[string]any, expiration *time.Time) (*models.CredentialRecord, error) {
	now := s.now(ctx)
	if expiration == nil && s.cfg.CredentialTTL > 0 {
		exp := now.Add(s.cfg.CredentialTTL)
		expiration = &exp
	}
	vc := models.Credential{
		Context:           []string{models.ContextCredentialsV1},
		ID:                models.NewCredentialID(),
		Type:              types,
		Issuer:            issuer.DID,
		IssuanceDate:      now,
		ExpirationDate:    expiration,
		CredentialSubject: withSubjectID(subject, holder.DID),
	}
	token, err := credential.SignCredential(vc, issuer.PrivateKey)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "sign credential")
	}
	vc.Proof = &models.Proof{Type: models.ProofTypeJWT, JWT: token}

	record := models.CredentialRecord{HolderDID: holder.DID, Credential: vc}
	if err := s.saveCredential(ctx, record); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "credential issued",
		"credential_id", vc.ID,
		"types", types,
		"holder", holder.BPN,
		"request_id", requestcontext.RequestID(ctx),
	)
	s.record(ctx, audit.ActionCredentialIssued, vc.ID, audit.DecisionGranted, strings.Join(types[1:], ","))
	return &record, nil
}

// ListCredentials filters credentials by holder, issuer and type. Callers
// limited to their own wallet only see credentials they hold.
func (s *Service) ListCredentials(ctx context.Context, q models.CredentialQuery) ([]models.CredentialRecord, error) {
	ownBPN, err := credentialScope(ctx)
	if err != nil {
		return nil, err
	}
	if ownBPN != "" && q.HolderIdentifier != "" && identifierBPN(q.HolderIdentifier) != ownBPN {
		return nil, dErrors.New(dErrors.CodeForbidden, "credentials of other holders are not visible to caller")
	}

	filter := models.CredentialFilter{Type: strings.TrimSpace(q.Type)}
	holderID := q.HolderIdentifier
	if holderID == "" {
		holderID = ownBPN
	}
	if holderID != "" {
		holder, err := s.lookup(ctx, holderID)
		if err != nil {
			return nil, err
		}
		filter.HolderDID = holder.DID
	}
	if q.IssuerIdentifier != "" {
		did, err := s.resolveDID(ctx, q.IssuerIdentifier)
		if err != nil {
			return nil, err
		}
		filter.IssuerDID = did
	}

	records, err := s.store.ListCredentials(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list credentials")
	}
	return records, nil
}

// credentialScope returns "" for callers that may list every holder and the
// caller's own BPN for callers limited to their wallet.
func credentialScope(ctx context.Context) (string, error) {
	err := authz.RequireRole(ctx, authz.RoleViewWallets)
	if err == nil || !dErrors.HasCode(err, dErrors.CodeForbidden) {
		return "", err
	}
	identity := requestcontext.IdentityFrom(ctx)
	if !identity.HasRole(authz.RoleViewWallet) || identity.BPN == "" {
		return "", err
	}
	return identity.BPN, nil
}

// VerifyCredential checks the jwt proof of vc against the issuer wallet key
// and that vc claims nothing beyond what the proof signs. With withExpiry, a
// credential expired at request time is invalid.
func (s *Service) VerifyCredential(ctx context.Context, vc models.Credential, withExpiry bool) (*models.VerifyResult, error) {
	if vc.Proof == nil || vc.Proof.JWT == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "credential proof.jwt is required")
	}
	result := s.verifyJWT(ctx, vc.Proof.JWT, withExpiry)
	if result.Credential != nil && !credential.MatchesProof(*result.Credential, vc) {
		result.Valid = false
		result.Reason = "credential does not match its proof"
	}
	s.record(ctx, audit.ActionCredentialVerified, vc.ID, decision(result.Valid), result.Reason)
	return &result, nil
}

func (s *Service) verifyJWT(ctx context.Context, token string, withExpiry bool) models.VerifyResult {
	vc, err := credential.ParseCredential(ctx, token, s)
	if err != nil {
		return models.VerifyResult{Valid: false, Reason: err.Error()}
	}
	result := models.VerifyResult{Valid: true, Credential: vc}
	if withExpiry {
		fresh := !vc.ExpiredAt(requestcontext.Now(ctx))
		result.ValidateExpiryDate = &fresh
		if !fresh {
			result.Valid = false
			result.Reason = "credential expired"
		}
	}
	return result
}

func (s *Service) saveCredential(ctx context.Context, record models.CredentialRecord) error {
	if err := s.store.SaveCredential(ctx, record); err != nil {
		switch {
		case dErrors.HasCode(err, dErrors.CodeConflict):
			return dErrors.New(dErrors.CodeConflict, "credential "+record.Credential.ID+" already exists")
		case dErrors.HasCode(err, dErrors.CodeNotFound):
			return walletNotFound(record.HolderDID)
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "save credential")
	}
	return nil
}

// resolveDID maps a BPN to its wallet DID; DIDs of unmanaged parties pass through.
func (s *Service) resolveDID(ctx context.Context, identifier string) (string, error) {
	w, err := s.lookup(ctx, identifier)
	if err == nil {
		return w.DID, nil
	}
	if dErrors.HasCode(err, dErrors.CodeNotFound) && strings.HasPrefix(identifier, "did:") {
		return identifier, nil
	}
	return "", err
}

// credentialTypes puts VerifiableCredential first and drops blanks and duplicates.
func credentialTypes(types []string) []string {
	out := []string{models.TypeVerifiableCredential}
	for _, t := range types {
		t = strings.TrimSpace(t)
		if t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

func withSubjectID(subject map[string]any, holderDID string) map[string]any {
	out := maps.Clone(subject)
	if out == nil {
		out = make(map[string]any, 1)
	}
	out["id"] = holderDID
	return out
}

// sameSubject compares subjects by their canonical JSON encoding so decoded
// and freshly built values compare equal.
func sameSubject(a, b map[string]any) bool {
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ra, rb)
}

func decision(valid bool) string {
	if valid {
		return audit.DecisionValid
	}
	return audit.DecisionInvalid
}
