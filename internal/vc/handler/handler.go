package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"custodian/internal/wallet/models"
	dErrors "custodian/pkg/domain-errors"
	"custodian/pkg/platform/httputil"
	"custodian/pkg/requestcontext"
)

// Service issues, lists and verifies verifiable credentials.
type Service interface {
	IssueCredential(ctx context.Context, req models.IssueCredentialRequest) (*models.CredentialRecord, error)
	ListCredentials(ctx context.Context, q models.CredentialQuery) ([]models.CredentialRecord, error)
	VerifyCredential(ctx context.Context, vc models.Credential, withExpiry bool) (*models.VerifyResult, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/credentials", h.HandleList)
	r.Post("/credentials", h.HandleIssue)
	r.Post("/credentials/validation", h.HandleValidate)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	records, err := h.service.ListCredentials(ctx, models.CredentialQuery{
		HolderIdentifier: q.Get("holderIdentifier"),
		IssuerIdentifier: q.Get("issuerIdentifier"),
		Type:             q.Get("type"),
	})
	if err != nil {
		h.logger.WarnContext(ctx, "list credentials failed", "error", err, "request_id", requestcontext.RequestID(ctx))
		httputil.WriteError(w, err)
		return
	}

	resp := CredentialListResponse{Credentials: make([]models.Credential, 0, len(records)), Total: len(records)}
	for _, rec := range records {
		resp.Credentials = append(resp.Credentials, rec.Credential)
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[IssueCredentialRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	record, err := h.service.IssueCredential(ctx, req.toModel())
	if err != nil {
		h.logger.WarnContext(ctx, "issue credential failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, record.Credential)
}

func (h *Handler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	withExpiry, ok := expiryFlag(w, r)
	if !ok {
		return
	}
	vc, ok := httputil.DecodeJSON[models.Credential](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.service.VerifyCredential(ctx, *vc, withExpiry)
	if err != nil {
		h.logger.WarnContext(ctx, "validate credential failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func expiryFlag(w http.ResponseWriter, r *http.Request) (bool, bool) {
	raw := r.URL.Query().Get("withCredentialExpiryDate")
	if raw == "" {
		return false, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "withCredentialExpiryDate must be true or false"))
		return false, false
	}
	return v, true
}
