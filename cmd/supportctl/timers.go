package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"supportdesk.app/relay/internal/queue"
)

var timersCmd = &cobra.Command{
	Use:   "timers",
	Short: "Inspect and cancel scheduled ticket timers",
}

var (
	timersLimit int64
	timersKind  string
)

var timersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled timers by due time",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		cfg := configFrom(cmd)

		keep, err := kindFilter(timersKind)
		if err != nil {
			return err
		}

		client, err := connectRedis(ctx, cfg)
		if err != nil {
			return err
		}
		defer client.Close()

		jobs, err := delayedQueue(client, cfg).List(ctx, timersLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tTICKET\tDUE\tIN\tATTEMPT")
		now := time.Now()
		for _, j := range jobs {
			if !keep(j.Kind) {
				continue
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%d\n",
				j.Key(), j.TicketID, j.DueAt.UTC().Format(time.RFC3339),
				j.DueAt.Sub(now).Round(time.Second), j.Attempt)
		}
		return w.Flush()
	},
}

var timersCancelCmd = &cobra.Command{
	Use:   "cancel <key>",
	Short: "Cancel a scheduled timer, e.g. autoclose:42",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := configFrom(cmd)

		if _, _, err := queue.ParseJobKey(args[0]); err != nil {
			return err
		}

		client, err := connectRedis(ctx, cfg)
		if err != nil {
			return err
		}
		defer client.Close()

		if err := delayedQueue(client, cfg).Cancel(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cancelled %s\n", args[0])
		return nil
	},
}

func init() {
	timersListCmd.Flags().Int64Var(&timersLimit, "limit", 50, "maximum timers to show")
	timersListCmd.Flags().StringVar(&timersKind, "kind", "all", "all, escalation or autoclose")
	timersCmd.AddCommand(timersListCmd)
	timersCmd.AddCommand(timersCancelCmd)
}

func kindFilter(kind string) (func(queue.JobKind) bool, error) {
	switch kind {
	case "", "all":
		return func(queue.JobKind) bool { return true }, nil
	case "escalation":
		return queue.JobKind.IsEscalation, nil
	case "autoclose":
		return func(k queue.JobKind) bool { return !k.IsEscalation() }, nil
	}
	return nil, fmt.Errorf("unknown timer kind %q", kind)
}
