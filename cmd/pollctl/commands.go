package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"text/tabwriter"
	"time"

	"agora/contexts/governance/poll-registry/application/queries"
	"agora/contexts/governance/poll-registry/domain/entities"
	"agora/internal/app/bootstrap"
	"agora/internal/platform/config"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "pollctl",
		Short:        "Inspect and maintain the poll ledger",
		SilenceUsage: true,
	}
	root.AddCommand(newMigrateCmd(), newPollsCmd(), newEventsCmd())
	return root
}

// withLedger opens the configured ledger for the duration of fn.
func withLedger(ctx context.Context, fn func(stack *bootstrap.LedgerStack) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	stack, err := bootstrap.OpenLedger(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer func() { _ = stack.Close() }()
	return fn(stack)
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the ledger schema for the configured driver",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withLedger(cmd.Context(), func(stack *bootstrap.LedgerStack) error {
				if err := stack.Migrate(cmd.Context()); err != nil {
					return fmt.Errorf("migrate %s ledger: %w", stack.Driver, err)
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s ledger schema is up to date\n", stack.Driver)
				return err
			})
		},
	}
}

func newPollsCmd() *cobra.Command {
	polls := &cobra.Command{
		Use:   "polls",
		Short: "Read polls from the ledger",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List every poll in creation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withLedger(cmd.Context(), func(stack *bootstrap.LedgerStack) error {
				index, err := queries.PollQueries{Ledger: stack.Ledger}.GetPolls(cmd.Context())
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tKIND\tOWNER\tTOPIC")
				for i, id := range index.IDs {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", id, index.Kinds[i], index.Owners[i], index.Topics[i])
				}
				return w.Flush()
			})
		},
	}

	show := &cobra.Command{
		Use:   "show <poll-id>",
		Short: "Print one poll with its choices and tallies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pollID, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil || pollID == 0 {
				return fmt.Errorf("invalid poll id %q", args[0])
			}
			return withLedger(cmd.Context(), func(stack *bootstrap.LedgerStack) error {
				poll, err := queries.PollQueries{Ledger: stack.Ledger}.GetPoll(cmd.Context(), pollID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "poll %d (%s) owned by %s\n", poll.PollID, poll.Kind, poll.Owner)
				fmt.Fprintf(out, "topic:  %s\n", poll.Topic)
				fmt.Fprintf(out, "window: %s .. %s\n", poll.StartTime.Format(time.RFC3339), poll.EndTime.Format(time.RFC3339))
				if poll.WeightAsset != "" {
					fmt.Fprintf(out, "weight: %s on %s (escrowed %d)\n", poll.WeightMode, poll.WeightAsset, poll.Escrowed)
				}
				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "CHOICE\tNAME\tTALLY")
				for _, choice := range poll.Choices {
					fmt.Fprintf(w, "%d\t%s\t%d\n", choice.ChoiceID, choice.Name, choice.Tally)
				}
				return w.Flush()
			})
		},
	}

	polls.AddCommand(list, show)
	return polls
}

func newEventsCmd() *cobra.Command {
	var (
		afterSeq uint64
		limit    int
	)
	events := &cobra.Command{
		Use:   "events",
		Short: "Dump the ledger event journal as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withLedger(cmd.Context(), func(stack *bootstrap.LedgerStack) error {
				items, err := queries.PollQueries{Ledger: stack.Ledger}.ListEvents(cmd.Context(), afterSeq, limit)
				if err != nil {
					return err
				}
				return writeEvents(cmd.OutOrStdout(), items)
			})
		},
	}
	events.Flags().Uint64Var(&afterSeq, "after-seq", 0, "Only print events with a sequence number greater than this.")
	events.Flags().IntVar(&limit, "limit", 100, "Maximum number of events to print.")
	return events
}

type eventLine struct {
	Seq        uint64          `json:"seq"`
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	PollID     uint64          `json:"poll_id"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
}

func writeEvents(out io.Writer, items []entities.Event) error {
	enc := json.NewEncoder(out)
	for _, item := range items {
		if err := enc.Encode(eventLine{
			Seq:        item.Seq,
			EventID:    item.EventID,
			EventType:  string(item.EventType),
			PollID:     item.PollID,
			Payload:    item.Payload,
			OccurredAt: item.OccurredAt,
		}); err != nil {
			return err
		}
	}
	return nil
}
