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

// Service creates and verifies verifiable presentations.
type Service interface {
	CreatePresentation(ctx context.Context, req models.CreatePresentationRequest) (*models.Presentation, error)
	VerifyPresentation(ctx context.Context, token, audience string, withExpiry bool) (*models.PresentationVerifyResult, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/presentations", h.HandleCreate)
	r.Post("/presentations/validation", h.HandleValidate)
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[CreatePresentationRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	p, err := h.service.CreatePresentation(ctx, req.toModel())
	if err != nil {
		h.logger.WarnContext(ctx, "create presentation failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "presentation created",
		"presentation_id", p.ID,
		"credentials", len(p.VerifiableCredential),
		"request_id", requestID,
	)
	httputil.WriteJSON(w, http.StatusCreated, p)
}

func (h *Handler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	withExpiry := false
	if raw := r.URL.Query().Get("withCredentialExpiryDate"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "withCredentialExpiryDate must be true or false"))
			return
		}
		withExpiry = v
	}
	req, ok := httputil.DecodeAndPrepare[ValidatePresentationRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.service.VerifyPresentation(ctx, req.VP, req.Audience, withExpiry)
	if err != nil {
		h.logger.WarnContext(ctx, "validate presentation failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}
