package service

import (
	"context"
	"net/url"
	"slices"
	"strings"

	"custodian/internal/authz"
	"custodian/internal/wallet/credential"
	"custodian/internal/wallet/models"
	dErrors "custodian/pkg/domain-errors"
	"custodian/pkg/platform/audit"
)

// DIDDocument renders the DID document of the wallet identified by a BPN or DID.
func (s *Service) DIDDocument(ctx context.Context, identifier string) (*models.DIDDocument, error) {
	w, err := s.lookup(ctx, identifier)
	if err != nil {
		return nil, err
	}
	return s.document(w)
}

func (s *Service) AddService(ctx context.Context, identifier string, svc models.Service) (*models.DIDDocument, error) {
	return s.editServices(ctx, identifier, func(w *models.Wallet) ([]models.Service, string, error) {
		if err := validateService(svc); err != nil {
			return nil, "", err
		}
		if w.ServiceIndex(svc.ID) >= 0 {
			return nil, "", dErrors.New(dErrors.CodeConflict, "service "+svc.ID+" already exists")
		}
		return append(slices.Clone(w.Services), svc), "added " + svc.ID, nil
	})
}

// UpdateService replaces the service serviceID. An id in svc must match serviceID.
func (s *Service) UpdateService(ctx context.Context, identifier, serviceID string, svc models.Service) (*models.DIDDocument, error) {
	return s.editServices(ctx, identifier, func(w *models.Wallet) ([]models.Service, string, error) {
		if svc.ID != "" && svc.ID != serviceID {
			return nil, "", dErrors.New(dErrors.CodeBadRequest, "service id cannot be changed")
		}
		svc.ID = serviceID
		if err := validateService(svc); err != nil {
			return nil, "", err
		}
		idx := w.ServiceIndex(serviceID)
		if idx < 0 {
			return nil, "", serviceNotFound(serviceID)
		}
		services := slices.Clone(w.Services)
		services[idx] = svc
		return services, "updated " + serviceID, nil
	})
}

func (s *Service) DeleteService(ctx context.Context, identifier, serviceID string) (*models.DIDDocument, error) {
	return s.editServices(ctx, identifier, func(w *models.Wallet) ([]models.Service, string, error) {
		idx := w.ServiceIndex(serviceID)
		if idx < 0 {
			return nil, "", serviceNotFound(serviceID)
		}
		return slices.Delete(slices.Clone(w.Services), idx, idx+1), "removed " + serviceID, nil
	})
}

// editServices applies edit to the current services of the wallet while
// holding that wallet's lock, so concurrent edits within this process do not
// overwrite each other.
func (s *Service) editServices(ctx context.Context, identifier string, edit func(w *models.Wallet) ([]models.Service, string, error)) (*models.DIDDocument, error) {
	w, err := s.serviceOwner(ctx, identifier)
	if err != nil {
		return nil, err
	}
	s.serviceLocks.Lock(w.BPN)
	defer s.serviceLocks.Unlock(w.BPN)

	w, err = s.lookup(ctx, w.BPN)
	if err != nil {
		return nil, err
	}
	services, change, err := edit(w)
	if err != nil {
		return nil, err
	}
	return s.saveServices(ctx, w, services, change)
}

func (s *Service) serviceOwner(ctx context.Context, identifier string) (*models.Wallet, error) {
	if err := authz.RequireUpdate(ctx, identifierBPN(identifier)); err != nil {
		return nil, err
	}
	return s.lookup(ctx, identifier)
}

func (s *Service) saveServices(ctx context.Context, w *models.Wallet, services []models.Service, change string) (*models.DIDDocument, error) {
	if err := s.store.UpdateServices(ctx, w.BPN, services); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "update did services")
	}
	w.Services = services
	s.record(ctx, audit.ActionDIDServiceChanged, w.BPN, audit.DecisionGranted, change)
	return s.document(w)
}

func (s *Service) document(w *models.Wallet) (*models.DIDDocument, error) {
	doc, err := credential.Document(w)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "render did document")
	}
	return doc, nil
}

func validateService(svc models.Service) error {
	switch {
	case strings.TrimSpace(svc.ID) == "":
		return dErrors.New(dErrors.CodeValidation, "service id is required")
	case strings.TrimSpace(svc.Type) == "":
		return dErrors.New(dErrors.CodeValidation, "service type is required")
	}
	u, err := url.ParseRequestURI(svc.ServiceEndpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return dErrors.New(dErrors.CodeValidation, "serviceEndpoint must be an absolute url")
	}
	return nil
}

func serviceNotFound(id string) error {
	return dErrors.New(dErrors.CodeNotFound, "service "+id+" not found")
}
