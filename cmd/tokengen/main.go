// Package main generates access tokens for local development. Tokens are
// signed with the HS256 secret from the service configuration and are only
// accepted by deployments sharing that secret.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"custodian/internal/auth/jwtauth"
	"custodian/internal/authz"
	"custodian/internal/platform/config"
)

type tokenOutput struct {
	Token     string            `json:"token"`
	Type      string            `json:"type"`
	ExpiresIn string            `json:"expires_in"`
	Subject   string            `json:"subject"`
	BPN       string            `json:"bpn,omitempty"`
	Roles     []string          `json:"roles,omitempty"`
	Usage     map[string]string `json:"usage"`
}

// rolePresets name common role sets for the -preset flag.
var rolePresets = map[string][]string{
	"operator": {authz.RoleViewWallets, authz.RoleAddWallets, authz.RoleUpdateWallets, authz.RoleDeleteWallets},
	"partner":  {authz.RoleViewWallet, authz.RoleUpdateWallet},
	"viewer":   {authz.RoleViewWallets},
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "tokengen:", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "tokengen",
		Short:         "Generate development access tokens for the custodian API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newAccessCmd(out), newRolesCmd(out))
	return root
}

func newAccessCmd(out io.Writer) *cobra.Command {
	var (
		configPath string
		subject    string
		bpn        string
		roles      []string
		preset     string
		ttl        time.Duration
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "access",
		Short: "Generate an auth-jwt bearer token",
		Example: `  tokengen access --preset operator
  tokengen access --bpn BPNL000000000001 --preset partner --ttl 1h
  tokengen access --roles view_wallets,update_wallets --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.Auth.Algorithm != "HS256" {
				return fmt.Errorf("tokengen only signs HS256 tokens, configured algorithm is %s", cfg.Auth.Algorithm)
			}
			if preset != "" {
				extra, ok := rolePresets[preset]
				if !ok {
					return fmt.Errorf("unknown preset %q", preset)
				}
				roles = append(roles, extra...)
			}
			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL
			}

			issuer := jwtauth.NewIssuer([]byte(cfg.Auth.HMACSecret), cfg.Auth.Issuer, cfg.Auth.Audience, cfg.Auth.ClientID, ttl)
			token, err := issuer.Issue(context.Background(), jwtauth.TokenRequest{
				Subject: subject,
				BPN:     strings.ToUpper(strings.TrimSpace(bpn)),
				Roles:   roles,
			})
			if err != nil {
				return err
			}
			return writeToken(out, tokenOutput{
				Token:     token,
				Type:      "Bearer",
				ExpiresIn: ttl.String(),
				Subject:   subject,
				BPN:       bpn,
				Roles:     roles,
				Usage: map[string]string{
					"header": "Authorization: Bearer " + token,
					"curl":   fmt.Sprintf("curl -H 'Authorization: Bearer %s' http://localhost%s%s/wallets", token, cfg.Server.Addr, cfg.Gateway.Root),
				},
			}, asJSON)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", os.Getenv("CUSTODIAN_CONFIG"), "path to the YAML configuration file")
	cmd.Flags().StringVar(&subject, "subject", "dev-user", "token subject")
	cmd.Flags().StringVar(&bpn, "bpn", "", "business partner number of the caller")
	cmd.Flags().StringSliceVar(&roles, "roles", nil, "comma separated roles")
	cmd.Flags().StringVar(&preset, "preset", "", "role preset: operator, partner or viewer")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to auth.token_ttl)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of the bare token")
	return cmd
}

func newRolesCmd(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "roles",
		Short: "List the roles understood by the API and the presets",
		RunE: func(*cobra.Command, []string) error {
			for _, role := range authz.AllRoles() {
				fmt.Fprintln(out, role)
			}
			for _, name := range []string{"operator", "partner", "viewer"} {
				fmt.Fprintf(out, "preset %s: %s\n", name, strings.Join(rolePresets[name], ","))
			}
			return nil
		},
	}
}

func writeToken(out io.Writer, t tokenOutput, asJSON bool) error {
	if !asJSON {
		_, err := fmt.Fprintln(out, t.Token)
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(t)
}
