package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"custodian/internal/wallet/credential"
	"custodian/internal/wallet/models"
	dErrors "custodian/pkg/domain-errors"
	"custodian/pkg/platform/httputil"
	"custodian/pkg/requestcontext"
)

// Service defines the wallet operations the handler needs.
type Service interface {
	Create(ctx context.Context, req models.CreateWalletRequest) (*models.Wallet, error)
	List(ctx context.Context) ([]models.Wallet, error)
	Get(ctx context.Context, identifier string) (*models.Wallet, error)
	Delete(ctx context.Context, identifier string) error
	StoreCredential(ctx context.Context, identifier string, raw []byte) (*models.CredentialRecord, error)
	ListCredentials(ctx context.Context, q models.CredentialQuery) ([]models.CredentialRecord, error)
}

// PartnerDataPuller schedules a business partner data pull for a new wallet.
type PartnerDataPuller interface {
	PullAsync(ctx context.Context, bpn string)
}

type Handler struct {
	service Service
	puller  PartnerDataPuller
	logger  *slog.Logger
}

func New(service Service, puller PartnerDataPuller, logger *slog.Logger) *Handler {
	return &Handler{service: service, puller: puller, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/wallets", h.HandleCreate)
	r.Get("/wallets", h.HandleList)
	r.Get("/wallets/{identifier}", h.HandleGet)
	r.Delete("/wallets/{identifier}", h.HandleDelete)
	r.Post("/wallets/{identifier}/credentials", h.HandleStoreCredential)
}

// HandleCreate creates a wallet and schedules the pull of its business
// partner data.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[CreateWalletRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	wallet, err := h.service.Create(ctx, req.toModel())
	if err != nil {
		h.logger.ErrorContext(ctx, "create wallet failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}
	if h.puller != nil {
		h.puller.PullAsync(ctx, wallet.BPN)
	}

	res, err := toWalletResponse(wallet, nil)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, res)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	wallets, err := h.service.List(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "list wallets failed", "error", err, "request_id", requestcontext.RequestID(ctx))
		httputil.WriteError(w, err)
		return
	}

	res := make([]WalletSummary, 0, len(wallets))
	for i := range wallets {
		res = append(res, toWalletSummary(&wallets[i]))
	}
	httputil.WriteJSON(w, http.StatusOK, &WalletListResponse{Wallets: res, Total: len(res)})
}

// HandleGet returns a wallet by BPN or DID. withCredentials=true embeds the
// credentials it holds.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	identifier, ok := pathIdentifier(w, r)
	if !ok {
		return
	}
	withCredentials, err := boolQuery(r, "withCredentials")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	wallet, err := h.service.Get(ctx, identifier)
	if err != nil {
		h.logger.WarnContext(ctx, "get wallet failed", "error", err, "request_id", requestID, "identifier", identifier)
		httputil.WriteError(w, err)
		return
	}

	var credentials []models.CredentialRecord
	if withCredentials {
		credentials, err = h.service.ListCredentials(ctx, models.CredentialQuery{HolderIdentifier: wallet.DID})
		if err != nil {
			h.logger.ErrorContext(ctx, "list wallet credentials failed", "error", err, "request_id", requestID)
			httputil.WriteError(w, err)
			return
		}
		if credentials == nil {
			credentials = []models.CredentialRecord{}
		}
	}

	res, err := toWalletResponse(wallet, credentials)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identifier, ok := pathIdentifier(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(ctx, identifier); err != nil {
		h.logger.WarnContext(ctx, "delete wallet failed", "error", err,
			"request_id", requestcontext.RequestID(ctx), "identifier", identifier)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleStoreCredential stores an externally issued credential. The raw body
// is kept so the credential is validated exactly as it was sent.
func (h *Handler) HandleStoreCredential(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	identifier, ok := pathIdentifier(w, r)
	if !ok {
		return
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, httputil.MaxBodyBytes))
	if err != nil {
		h.logger.WarnContext(ctx, "failed to read request body", "error", err, "request_id", requestID)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	record, err := h.service.StoreCredential(ctx, identifier, raw)
	if err != nil {
		h.logger.WarnContext(ctx, "store credential failed", "error", err, "request_id", requestID, "identifier", identifier)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, record.Credential)
}

// pathIdentifier reads the {identifier} segment. DIDs arrive percent-encoded.
func pathIdentifier(w http.ResponseWriter, r *http.Request) (string, bool) {
	identifier, err := url.PathUnescape(chi.URLParam(r, "identifier"))
	if err != nil || identifier == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid wallet identifier"))
		return "", false
	}
	return identifier, true
}

func boolQuery(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, dErrors.New(dErrors.CodeBadRequest, name+" must be true or false")
	}
	return v, nil
}

func toWalletResponse(w *models.Wallet, credentials []models.CredentialRecord) (*WalletResponse, error) {
	doc, err := credential.Document(w)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "render did document")
	}
	res := &WalletResponse{
		WalletSummary: toWalletSummary(w),
		DIDDocument:   doc,
	}
	if credentials != nil {
		res.Credentials = make([]models.Credential, 0, len(credentials))
		for _, c := range credentials {
			res.Credentials = append(res.Credentials, c.Credential)
		}
	}
	return res, nil
}
