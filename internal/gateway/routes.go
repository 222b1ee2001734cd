package gateway

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	dErrors "custodian/pkg/domain-errors"
	"custodian/pkg/platform/httputil"
	"custodian/pkg/platform/middleware/request"
)

// Handler group names.
const (
	GroupWallet              = "wallet"
	GroupBusinessPartnerData = "business-partner-data"
	GroupDIDDocument         = "did-document"
	GroupVC                  = "vc"
	GroupVP                  = "vp"
)

// Group is a handler group: a set of routes mounted on its own router.
// Paths seen by the group have the gateway root stripped.
type Group interface {
	Register(r chi.Router)
}

// Binding routes every path equal to Prefix or below Prefix+"/" to Handler.
type Binding struct {
	Group   string
	Prefix  string
	Handler Group
}

// RouteTable is evaluated in order; the first matching binding wins.
type RouteTable []Binding

// Route is the inspectable view of a binding.
type Route struct {
	Group  string
	Prefix string
}

// Groups carries the handler group implementations for DefaultRoutes.
type Groups struct {
	Wallet              Group
	BusinessPartnerData Group
	DIDDocument         Group
	VC                  Group
	VP                  Group
}

// DefaultRoutes binds the five handler groups to their prefixes.
func DefaultRoutes(g Groups) RouteTable {
	return RouteTable{
		{Group: GroupWallet, Prefix: "/wallets", Handler: g.Wallet},
		{Group: GroupBusinessPartnerData, Prefix: "/businessPartnerDataRefresh", Handler: g.BusinessPartnerData},
		{Group: GroupBusinessPartnerData, Prefix: "/businessPartners", Handler: g.BusinessPartnerData},
		{Group: GroupDIDDocument, Prefix: "/didDocuments", Handler: g.DIDDocument},
		{Group: GroupVC, Prefix: "/credentials", Handler: g.VC},
		{Group: GroupVP, Prefix: "/presentations", Handler: g.VP},
	}
}

func (t RouteTable) validate() error {
	seen := make(map[string]bool, len(t))
	for i, b := range t {
		switch {
		case b.Group == "":
			return fmt.Errorf("route %d: group name is required", i)
		case b.Handler == nil:
			return fmt.Errorf("route %d (%s): handler is required", i, b.Group)
		case !strings.HasPrefix(b.Prefix, "/") || b.Prefix == "/" || strings.HasSuffix(b.Prefix, "/"):
			return fmt.Errorf("route %d (%s): invalid prefix %q", i, b.Group, b.Prefix)
		case seen[b.Prefix]:
			return fmt.Errorf("route %d (%s): duplicate prefix %q", i, b.Group, b.Prefix)
		}
		seen[b.Prefix] = true
	}
	return nil
}

type compiledRoute struct {
	group   string
	prefix  string
	handler http.Handler
}

func (c compiledRoute) matches(path string) bool {
	return path == c.prefix || strings.HasPrefix(path, c.prefix+"/")
}

func compile(t RouteTable) []compiledRoute {
	routes := make([]compiledRoute, 0, len(t))
	for _, b := range t {
		routes = append(routes, compiledRoute{
			group:   b.Group,
			prefix:  b.Prefix,
			handler: groupRouter(b.Handler),
		})
	}
	return routes
}

// groupRouter mounts g behind the body checks that only apply to
// authenticated requests.
func groupRouter(g Group) http.Handler {
	r := chi.NewRouter()
	r.Use(request.ContentTypeJSON)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteErrorCode(w, dErrors.CodeNotFound, "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusMethodNotAllowed, httputil.ErrorResponse{Error: "method_not_allowed"})
	})
	g.Register(r)
	return r
}

func match(routes []compiledRoute, path string) (compiledRoute, bool) {
	for _, route := range routes {
		if route.matches(path) {
			return route, true
		}
	}
	return compiledRoute{}, false
}
