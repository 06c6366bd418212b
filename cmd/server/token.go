package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"wa-gateway-lite/internal/auth"
)

func tokenCmd() *cobra.Command {
	var (
		subject  string
		sessions []string
		expiry   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if subject == "" {
				return errors.New("--subject is required")
			}
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			secret, err := resolveMasterSecret(ctx, cfg, &awsLazy{})
			if err != nil {
				return err
			}

			tokenCfg := auth.TokenConfig{Secret: secret, Expiry: cfg.TokenExpiry, Issuer: "wa-gateway-lite"}
			if expiry > 0 {
				tokenCfg.Expiry = expiry
			}
			tok, err := auth.CreateToken(subject, tokenCfg, sessions...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "token subject")
	cmd.Flags().StringSliceVar(&sessions, "session", nil, "restrict the token to these session ids (repeatable)")
	cmd.Flags().DurationVar(&expiry, "expiry", 0, "token lifetime (default TOKEN_EXPIRY_SECONDS)")
	return cmd
}
