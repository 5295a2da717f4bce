package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ivan-cavero/Ignis/internal/service/webhook"
	apiclient "github.com/ivan-cavero/Ignis/pkg/api/client"
	"github.com/ivan-cavero/Ignis/pkg/config"
)

func newHealthCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check dispatcher liveness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := apiclient.New(g.url)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			health, err := client.Health(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), health)
		},
	}
}

var errRunFailed = errors.New("deployment run failed")

func newTriggerCmd(g *globals) *cobra.Command {
	var (
		branch     string
		secret     string
		repository string
		pusher     string
		delivery   string
	)
	cmd := &cobra.Command{
		Use:   "trigger [paths...]",
		Short: "Send a signed push event listing the given paths",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, paths []string) error {
			key, err := readSecret(secret, "webhook secret")
			if err != nil {
				return err
			}
			body, err := apiclient.BuildPush(branch, repository, pusher, paths)
			if err != nil {
				return err
			}
			if delivery == "" {
				delivery = uuid.NewString()
			}
			client, err := apiclient.New(g.url)
			if err != nil {
				return err
			}
			result, err := client.Trigger(cmd.Context(), body, webhook.Sign(body, []byte(key)), apiclient.TriggerOptions{
				Event:      "push",
				DeliveryID: delivery,
			})
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if !result.Succeeded() {
				return fmt.Errorf("%w: %d of %d components failed", errRunFailed, countFailed(result.Results), len(result.Results))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&branch, "branch", "b", "main", "Branch name or full ref")
	cmd.Flags().StringVar(&secret, "secret", config.GetString("WEBHOOK_SECRET", ""), "Webhook secret (prompted when empty)")
	cmd.Flags().StringVar(&repository, "repository", "", "Repository name to report")
	cmd.Flags().StringVar(&pusher, "pusher", config.GetString("USER", ""), "Pusher name to report")
	cmd.Flags().StringVar(&delivery, "delivery", "", "Delivery id (random when empty)")
	return cmd
}

func countFailed(results []apiclient.ComponentResult) int {
	n := 0
	for _, r := range results {
		if !r.Success {
			n++
		}
	}
	return n
}
