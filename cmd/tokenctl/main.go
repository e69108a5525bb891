// tokenctl provisions registry API tokens directly against the store.
// Issuance is an operator action on purpose: it never rides the HTTP
// surface, so holding a token can never mint another one.
package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/atoll-registry/atoll/internal/common"
	"github.com/atoll-registry/atoll/internal/identity"
	"github.com/atoll-registry/atoll/pkg/config"
	"github.com/atoll-registry/atoll/pkg/types"
)

var rootCmd = &cobra.Command{
	Use:           "tokenctl",
	Short:         "Manage atoll registry API tokens",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	createName      string
	createPrincipal string
	createScopes    string
	createTTL       time.Duration
)

var createCmd = &cobra.Command{
	Use:   "create --principal NAME [flags]",
	Short: "Mint a new API token; the secret is printed exactly once",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newIdentityService()
		if err != nil {
			return err
		}

		var scopes []string
		for _, s := range strings.Split(createScopes, ",") {
			if s = strings.TrimSpace(s); s != "" {
				scopes = append(scopes, s)
			}
		}

		token, secret, err := svc.CreateToken(cmd.Context(), createName, createPrincipal, scopes, createTTL)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Created token %s\n", token.ID)
		fmt.Fprintf(out, "  principal: %s\n", token.Principal)
		fmt.Fprintf(out, "  scopes:    %s\n", strings.Join(token.Scopes, ", "))
		fmt.Fprintf(out, "  expires:   %s\n", formatExpiry(token.ExpiresAt))
		fmt.Fprintf(out, "\n  %s\n\n", secret)
		fmt.Fprintln(out, "The secret is not stored and cannot be shown again.")
		return nil
	},
}

var (
	listPrincipal string
	listAll       bool
)

var listCmd = &cobra.Command{
	Use:   "list [flags]",
	Short: "List stored tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newIdentityService()
		if err != nil {
			return err
		}

		tokens, err := svc.ListTokens(cmd.Context(), listPrincipal, listAll)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPRINCIPAL\tNAME\tSCOPES\tCREATED\tEXPIRES\tSTATUS")
		for _, t := range tokens {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				t.ID,
				t.Principal,
				t.Name,
				strings.Join(t.Scopes, ","),
				t.CreatedAt.UTC().Format("2006-01-02"),
				formatExpiry(t.ExpiresAt),
				tokenStatus(&t),
			)
		}
		return w.Flush()
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke TOKEN_ID",
	Short: "Revoke a token, keeping its row for audit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("token id must be a UUID: %w", err)
		}

		svc, err := newIdentityService()
		if err != nil {
			return err
		}

		token, err := svc.RevokeToken(cmd.Context(), id)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Token %s (%s) is revoked.\n", token.ID, token.Principal)
		return nil
	},
}

// newIdentityService connects to the configured store. The cache is wired
// when Redis is configured so a revoke here invalidates gateway lookups
// immediately.
func newIdentityService() (*identity.Service, error) {
	cfg := config.LoadFromEnv()

	db, err := common.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	var cache *common.Cache
	if cfg.Redis.Host != "" {
		cache, err = common.NewCache(&cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connecting to cache: %w", err)
		}
	}

	return identity.NewService(db, cache, nil, &cfg.Auth, zerolog.Nop()), nil
}

func formatExpiry(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}

func tokenStatus(t *types.APIToken) string {
	switch {
	case t.Revoked:
		return "revoked"
	case t.ExpiresAt != nil && time.Now().After(*t.ExpiresAt):
		return "expired"
	default:
		return "active"
	}
}

func init() {
	createCmd.Flags().StringVar(&createPrincipal, "principal", "", "principal the token authenticates as (required)")
	createCmd.Flags().StringVar(&createName, "name", "", "label for the token, e.g. the machine it lives on")
	createCmd.Flags().StringVar(&createScopes, "scopes", strings.Join([]string{types.ScopePublish, types.ScopeYank}, ","), "comma-separated scopes")
	createCmd.Flags().DurationVar(&createTTL, "ttl", 0, "lifetime, e.g. 8760h; zero means no expiry")
	_ = createCmd.MarkFlagRequired("principal")

	listCmd.Flags().StringVar(&listPrincipal, "principal", "", "only this principal's tokens")
	listCmd.Flags().BoolVar(&listAll, "all", false, "include revoked tokens")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(revokeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
