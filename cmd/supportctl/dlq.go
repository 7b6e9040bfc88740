package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"supportdesk.app/relay/internal/queue"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect timer jobs that exhausted their attempts",
}

var dlqCount int64

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered timer jobs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		cfg := configFrom(cmd)

		client, err := connectRedis(ctx, cfg)
		if err != nil {
			return err
		}
		defer client.Close()

		consumer, err := queue.NewRedisConsumer(client, delayedQueue(client, cfg), queue.ConsumerConfig{
			Stream:    cfg.Redis.JobStream,
			Group:     cfg.Redis.JobGroup,
			Consumer:  "supportctl",
			DLQStream: cfg.Redis.DLQStream,
		})
		if err != nil {
			return err
		}

		letters, err := consumer.ListDLQ(ctx, dlqCount)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKEY\tATTEMPT\tERROR")
		for _, l := range letters {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", l.ID, l.Key, l.Job.Attempt, l.Error)
		}
		return w.Flush()
	},
}

func init() {
	dlqListCmd.Flags().Int64Var(&dlqCount, "count", 20, "maximum entries to show")
	dlqCmd.AddCommand(dlqListCmd)
}
