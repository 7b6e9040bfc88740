package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"supportdesk.app/relay/core/db"
	"supportdesk.app/relay/internal/model"
	"supportdesk.app/relay/internal/store"
)

var ticketsCmd = &cobra.Command{
	Use:   "tickets",
	Short: "Inspect tickets and their audit trail",
}

var (
	ticketsStatus string
	ticketsLimit  int32
)

var ticketsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tickets in a status, most recently changed first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		status := model.TicketStatus(strings.ToUpper(ticketsStatus))
		if !status.Valid() {
			return fmt.Errorf("unknown status %q", ticketsStatus)
		}
		return withStores(cmd, func(stores store.Provider) error {
			return printTickets(cmd.Context(), cmd.OutOrStdout(), stores.Tickets(), status, ticketsLimit)
		})
	},
}

var ticketsEventsCmd = &cobra.Command{
	Use:   "events <ticket-id>",
	Short: "Show the audit trail of a ticket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ticketID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid ticket id %q", args[0])
		}
		return withStores(cmd, func(stores store.Provider) error {
			return printEvents(cmd.Context(), cmd.OutOrStdout(), stores.TicketEvents(), ticketID)
		})
	},
}

func init() {
	ticketsListCmd.Flags().StringVar(&ticketsStatus, "status", string(model.TicketStatusWaitingClient), "ticket status to list")
	ticketsListCmd.Flags().Int32Var(&ticketsLimit, "limit", 50, "maximum tickets to show")
	ticketsCmd.AddCommand(ticketsListCmd)
	ticketsCmd.AddCommand(ticketsEventsCmd)
}

func withStores(cmd *cobra.Command, fn func(stores store.Provider) error) error {
	database, err := db.New(cmd.Context(), configFrom(cmd).DB)
	if err != nil {
		return err
	}
	defer database.Close()
	return fn(store.NewStores(database.Queries()))
}

func printTickets(ctx context.Context, out io.Writer, tickets store.TicketStore, status model.TicketStatus, limit int32) error {
	list, err := tickets.ListByStatus(ctx, status, limit)
	if err != nil {
		return fmt.Errorf("listing tickets: %w", err)
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCUSTOMER\tCHANNELS\tTHREAD\tSINCE")
	for _, t := range list {
		thread := "-"
		if t.HasThread() {
			thread = strconv.FormatInt(*t.ThreadID, 10)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			t.ID, t.DisplayName(), channels(&t), thread, t.StatusChangedAt.UTC().Format(time.RFC3339))
	}
	return w.Flush()
}

func channels(t *model.Ticket) string {
	var out []string
	if t.HasPlatformUser() {
		out = append(out, string(model.ChannelPlatform))
	}
	if t.HasSession() {
		out = append(out, string(model.ChannelWeb))
	}
	return strings.Join(out, ",")
}

func printEvents(ctx context.Context, out io.Writer, events store.TicketEventStore, ticketID int64) error {
	list, err := events.ListByTicket(ctx, ticketID)
	if err != nil {
		return fmt.Errorf("listing events: %w", err)
	}
	if len(list) == 0 {
		return fmt.Errorf("no events for ticket %d", ticketID)
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AT\tTYPE\tACTOR\tFROM\tTO\tNOTE")
	for _, e := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.UTC().Format(time.RFC3339), e.Type, e.Actor,
			deref(e.OldValue), deref(e.NewValue), deref(e.Question))
	}
	return w.Flush()
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
