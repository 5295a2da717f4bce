package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ivan-cavero/Ignis/internal/domain"
	"github.com/ivan-cavero/Ignis/internal/service/resolve"
	"github.com/ivan-cavero/Ignis/internal/service/webhook"
	"github.com/ivan-cavero/Ignis/pkg/config"
	"github.com/ivan-cavero/Ignis/pkg/jwt"
)

func newPlanCmd() *cobra.Command {
	var (
		rulesFile string
		halting   []string
	)
	cmd := &cobra.Command{
		Use:   "plan [paths...]",
		Short: "Show the deployment plan for a set of changed paths",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, paths []string) error {
			rules := resolve.DefaultRules()
			if strings.TrimSpace(rulesFile) != "" {
				loaded, err := resolve.LoadRules(rulesFile)
				if err != nil {
					return err
				}
				rules = loaded
			}
			plan := resolve.New(rules, halting...).Resolve(domain.NewChangeSet(paths...))
			if plan.Empty() {
				fmt.Fprintln(cmd.OutOrStdout(), "no deployment needed")
				return nil
			}
			return printJSON(cmd.OutOrStdout(), plan)
		},
	}
	cmd.Flags().StringVar(&rulesFile, "rules", config.GetString("RULES_FILE", ""), "YAML rule table (built-in table when empty)")
	cmd.Flags().StringSliceVar(&halting, "halting", config.GetList("HALTING_COMPONENTS", []string{"infrastructure"}), "Components whose failure halts a run")
	return cmd
}

func newSignCmd() *cobra.Command {
	var secret string
	cmd := &cobra.Command{
		Use:   "sign [file]",
		Short: "Print the X-Signature-256 header for a payload file (- for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := readSecret(secret, "webhook secret")
			if err != nil {
				return err
			}
			var body []byte
			if args[0] == "-" {
				body, err = io.ReadAll(cmd.InOrStdin())
			} else {
				body, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("read payload: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), webhook.Sign(body, []byte(key)))
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", config.GetString("WEBHOOK_SECRET", ""), "Webhook secret (prompted when empty)")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		secret  string
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the audit stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := readSecret(secret, "audit stream secret")
			if err != nil {
				return err
			}
			token, err := jwt.GenerateToken(subject, jwt.ScopeAuditStream, key, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", config.GetString("AUDIT_STREAM_SECRET", ""), "Audit stream signing secret (prompted when empty)")
	cmd.Flags().StringVar(&subject, "subject", config.GetString("USER", "operator"), "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}
