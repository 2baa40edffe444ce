package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/radio-control/siggen/internal/auth"
	"github.com/radio-control/siggen/internal/config"
)

var (
	tokenScopes []string
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Issue an API bearer token signed with auth.secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cfg.Auth.Secret == "" {
			return errors.New("auth.secret is not set")
		}

		v, err := auth.NewVerifier(cfg.Auth.Secret)
		if err != nil {
			return err
		}
		token, err := v.Sign(args[0], tokenScopes, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringSliceVar(&tokenScopes, "scope",
		[]string{auth.ScopeRead, auth.ScopeControl, auth.ScopeTelemetry}, "granted scopes")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}
