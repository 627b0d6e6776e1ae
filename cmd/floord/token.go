package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"floorlend/core"
	"floorlend/crypto"
	"floorlend/gateway/middleware"
)

func tokenCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "token <address>",
		Short: "Issue an API token for an account",
		Args:  cobra.ExactArgs(1),
		RunE:  runToken,
	}
	c.Flags().StringSlice("scopes", []string{"pool", "ledger", "vault", "transfer"}, "scopes granted to the token")
	c.Flags().Duration("ttl", 0, "token lifetime (default auth.token_ttl_minutes)")
	return c
}

func runToken(c *cobra.Command, args []string) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	subject, err := crypto.ParseAddress(args[0])
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", args[0], err)
	}
	scopes, _ := c.Flags().GetStringSlice("scopes")
	for i := range scopes {
		scopes[i] = strings.TrimSpace(scopes[i])
	}
	ttl, _ := c.Flags().GetDuration("ttl")
	if ttl <= 0 {
		ttl = time.Duration(cfg.Auth.TokenTTLMinute) * time.Minute
	}

	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:    true,
		HMACSecret: cfg.Auth.HMACSecret,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		Reserved:   core.IsReservedAccount,
	}, nil)
	token, err := auth.IssueToken(subject, scopes, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.OutOrStdout(), token)
	return nil
}
