// Package authz checks the wallet roles carried by the authenticated identity.
// Roles ending in "_wallets" apply to every wallet; the singular variants only
// to the wallet whose BPN equals the token's bpn claim.
package authz

import (
	"context"

	dErrors "custodian/pkg/domain-errors"
	"custodian/pkg/requestcontext"
)

const (
	RoleViewWallets   = "view_wallets"
	RoleAddWallets    = "add_wallets"
	RoleUpdateWallets = "update_wallets"
	RoleDeleteWallets = "delete_wallets"
	RoleViewWallet    = "view_wallet"
	RoleUpdateWallet  = "update_wallet"
)

// AllRoles lists every role in a stable order.
func AllRoles() []string {
	return []string{
		RoleViewWallets, RoleAddWallets, RoleUpdateWallets, RoleDeleteWallets,
		RoleViewWallet, RoleUpdateWallet,
	}
}

var errNoIdentity = dErrors.New(dErrors.CodeUnauthorized, "authentication required")

// RequireRole fails with forbidden unless the caller holds role.
func RequireRole(ctx context.Context, role string) error {
	identity := requestcontext.IdentityFrom(ctx)
	if identity == nil {
		return errNoIdentity
	}
	if !identity.HasRole(role) {
		return dErrors.New(dErrors.CodeForbidden, "missing role "+role)
	}
	return nil
}

// CanView reports whether the caller may read the wallet of walletBPN.
func CanView(ctx context.Context, walletBPN string) bool {
	return allows(requestcontext.IdentityFrom(ctx), RoleViewWallets, RoleViewWallet, walletBPN)
}

// CanUpdate reports whether the caller may modify the wallet of walletBPN.
func CanUpdate(ctx context.Context, walletBPN string) bool {
	return allows(requestcontext.IdentityFrom(ctx), RoleUpdateWallets, RoleUpdateWallet, walletBPN)
}

func RequireView(ctx context.Context, walletBPN string) error {
	return require(ctx, CanView(ctx, walletBPN), "wallet not viewable by caller")
}

func RequireUpdate(ctx context.Context, walletBPN string) error {
	return require(ctx, CanUpdate(ctx, walletBPN), "wallet not updatable by caller")
}

func allows(identity *requestcontext.Identity, allRole, ownRole, walletBPN string) bool {
	if identity == nil {
		return false
	}
	if identity.HasRole(allRole) {
		return true
	}
	return identity.HasRole(ownRole) && identity.BPN != "" && identity.BPN == walletBPN
}

func require(ctx context.Context, ok bool, msg string) error {
	if requestcontext.IdentityFrom(ctx) == nil {
		return errNoIdentity
	}
	if !ok {
		return dErrors.New(dErrors.CodeForbidden, msg)
	}
	return nil
}
