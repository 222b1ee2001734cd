package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"custodian/pkg/requestcontext"
)

// Authenticator validates a bearer token and returns the caller identity.
// Implementations must honor ctx cancellation.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*requestcontext.Identity, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, token string) (*requestcontext.Identity, error)

func (f AuthenticatorFunc) Authenticate(ctx context.Context, token string) (*requestcontext.Identity, error) {
	return f(ctx, token)
}

var ErrUnknownScheme = errors.New("unknown authentication scheme")

// Schemes maps configured scheme names to authenticators. It is populated and
// resolved once at startup; the resolved authenticator is then handed to New.
type Schemes struct {
	mu      sync.RWMutex
	schemes map[string]Authenticator
}

func NewSchemes() *Schemes {
	return &Schemes{schemes: make(map[string]Authenticator)}
}

func (s *Schemes) Register(name string, a Authenticator) error {
	if name == "" {
		return errors.New("scheme name is required")
	}
	if a == nil {
		return fmt.Errorf("scheme %q: authenticator is required", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.schemes[name]; exists {
		return fmt.Errorf("scheme %q already registered", name)
	}
	s.schemes[name] = a
	return nil
}

func (s *Schemes) Resolve(name string) (Authenticator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.schemes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, name)
	}
	return a, nil
}

// Names lists the registered schemes in sorted order.
func (s *Schemes) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.schemes))
	for name := range s.schemes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
