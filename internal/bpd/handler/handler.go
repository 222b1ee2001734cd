package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"custodian/internal/bpd/models"
	dErrors "custodian/pkg/domain-errors"
	"custodian/pkg/platform/httputil"
	limits "custodian/pkg/platform/validation"
	"custodian/pkg/requestcontext"
	"custodian/pkg/validation"
)

type Service interface {
	Refresh(ctx context.Context, bpns []string) (*models.RefreshResult, error)
	Get(ctx context.Context, bpn string) (*models.BusinessPartner, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/businessPartnerDataRefresh", h.HandleRefresh)
	r.Get("/businessPartners/{bpn}", h.HandleGet)
}

type RefreshRequest struct {
	BPNs []string `json:"bpns"`
}

func (r *RefreshRequest) Normalize() {
	if r == nil {
		return
	}
	for i, bpn := range r.BPNs {
		r.BPNs[i] = strings.ToUpper(strings.TrimSpace(bpn))
	}
}

func (r *RefreshRequest) Validate() error {
	if err := limits.CheckSliceCount("bpns", len(r.BPNs), limits.MaxRefreshBPNs); err != nil {
		return err
	}
	for _, bpn := range r.BPNs {
		if !validation.IsBPN(bpn) {
			return dErrors.New(dErrors.CodeValidation, "invalid business partner number "+bpn)
		}
	}
	return nil
}

// HandleRefresh refreshes the listed BPNs, or all partner wallets when the
// body is empty or lists none. The refresh completes before responding.
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req := &RefreshRequest{}
	if r.ContentLength != 0 {
		var ok bool
		if req, ok = httputil.DecodeAndPrepare[RefreshRequest](w, r, h.logger, ctx, requestID); !ok {
			return
		}
	}

	result, err := h.service.Refresh(ctx, req.BPNs)
	if err != nil {
		h.logger.WarnContext(ctx, "business partner refresh failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	bp, err := h.service.Get(ctx, chi.URLParam(r, "bpn"))
	if err != nil {
		h.logger.WarnContext(ctx, "get business partner failed", "error", err, "request_id", requestcontext.RequestID(ctx))
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, bp)
}
