package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"custodian/internal/wallet/models"
	dErrors "custodian/pkg/domain-errors"
	"custodian/pkg/platform/httputil"
	"custodian/pkg/requestcontext"
)

// Service renders DID documents and edits their service endpoints.
type Service interface {
	DIDDocument(ctx context.Context, identifier string) (*models.DIDDocument, error)
	AddService(ctx context.Context, identifier string, svc models.Service) (*models.DIDDocument, error)
	UpdateService(ctx context.Context, identifier, serviceID string, svc models.Service) (*models.DIDDocument, error)
	DeleteService(ctx context.Context, identifier, serviceID string) (*models.DIDDocument, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/didDocuments/{identifier}", h.HandleGet)
	r.Post("/didDocuments/{identifier}/services", h.HandleAddService)
	r.Put("/didDocuments/{identifier}/services/{serviceId}", h.HandleUpdateService)
	r.Delete("/didDocuments/{identifier}/services/{serviceId}", h.HandleDeleteService)
}

type ServiceRequest struct {
	ID              string `json:"id"`
	Type            string `json:"type" validate:"notblank"`
	ServiceEndpoint string `json:"serviceEndpoint" validate:"required,url"`
}

func (r *ServiceRequest) Normalize() {
	r.ID = strings.TrimSpace(r.ID)
	r.Type = strings.TrimSpace(r.Type)
	r.ServiceEndpoint = strings.TrimSpace(r.ServiceEndpoint)
}

func (r *ServiceRequest) toModel() models.Service {
	return models.Service{ID: r.ID, Type: r.Type, ServiceEndpoint: r.ServiceEndpoint}
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identifier, ok := pathParam(w, r, "identifier")
	if !ok {
		return
	}

	doc, err := h.service.DIDDocument(ctx, identifier)
	if err != nil {
		h.logger.WarnContext(ctx, "get did document failed", "error", err,
			"request_id", requestcontext.RequestID(ctx), "identifier", identifier)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, doc)
}

func (h *Handler) HandleAddService(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	identifier, ok := pathParam(w, r, "identifier")
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[ServiceRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	doc, err := h.service.AddService(ctx, identifier, req.toModel())
	if err != nil {
		h.logger.WarnContext(ctx, "add did service failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, doc)
}

func (h *Handler) HandleUpdateService(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	identifier, ok := pathParam(w, r, "identifier")
	if !ok {
		return
	}
	serviceID, ok := pathParam(w, r, "serviceId")
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[ServiceRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	doc, err := h.service.UpdateService(ctx, identifier, serviceID, req.toModel())
	if err != nil {
		h.logger.WarnContext(ctx, "update did service failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, doc)
}

func (h *Handler) HandleDeleteService(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identifier, ok := pathParam(w, r, "identifier")
	if !ok {
		return
	}
	serviceID, ok := pathParam(w, r, "serviceId")
	if !ok {
		return
	}

	doc, err := h.service.DeleteService(ctx, identifier, serviceID)
	if err != nil {
		h.logger.WarnContext(ctx, "delete did service failed", "error", err, "request_id", requestcontext.RequestID(ctx))
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, doc)
}

// pathParam returns a decoded path segment; DIDs and service ids arrive
// percent-encoded.
func pathParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v, err := url.PathUnescape(chi.URLParam(r, name))
	if err != nil || v == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid "+name))
		return "", false
	}
	return v, true
}
