package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"duck-flight/pkg/client"
)

func newQueueCmd(c *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show executor load and job counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stats, err := c.Queue(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if isJSON(cmd) {
				return printJSON(out, stats)
			}
			return printDetail(out, []detailField{
				{"Queue depth", fmt.Sprintf("%d", stats.QueueDepth)},
				{"Active workers", fmt.Sprintf("%d/%d", stats.ActiveWorkers, stats.MaxWorkers)},
				{"Pending jobs", fmt.Sprintf("%d", stats.Jobs.Pending)},
				{"Ready jobs", fmt.Sprintf("%d", stats.Jobs.Ready)},
				{"Failed jobs", fmt.Sprintf("%d", stats.Jobs.Error)},
			})
		},
	}
}

func newHealthCmd(c *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the server is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.Health(cmd.Context()); err != nil {
				return err
			}
			if isJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), map[string]string{"status": "ok", "host": c.BaseURL})
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s is healthy\n", c.BaseURL)
			return nil
		},
	}
}
