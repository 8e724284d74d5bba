package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmerrifield20/civicstreak/pkg/client"
)

// ── init ──────────────────────────────────────────────────────────────────────

func newInitCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the caller's streak record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			res, err := c.Initialize(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printLine(out, "record created for %s", res.Record.Owner)
			printResult(out, res)
			return nil
		},
	}
}

// ── engage ────────────────────────────────────────────────────────────────────

func newEngageCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "engage",
		Short: "Record a civic engagement for the caller",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			res, err := c.RecordEngagement(cmd.Context())
			var apiErr *client.APIError
			if errors.Is(err, client.ErrTooSoon) && errors.As(err, &apiErr) {
				return fmt.Errorf("too soon: come back in %s", apiErr.RetryAfter.Round(time.Minute))
			}
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
}

func printResult(out io.Writer, res *client.Result) {
	printLine(out, "streak:        %d", res.Record.StreakCount)
	printLine(out, "address:       %s", res.Address)
	if res.NextEligibleAt > 0 {
		printLine(out, "next eligible: %s", time.Unix(res.NextEligibleAt, 0).UTC().Format(time.RFC3339))
		printLine(out, "expires:       %s", time.Unix(res.ExpiresAt, 0).UTC().Format(time.RFC3339))
	}
	for _, ev := range res.Events {
		if ev.Kind == "milestone_reached" {
			printLine(out, "milestone:     %s (%s, +%d points)", ev.Label, ev.BadgeID, ev.RewardPoints)
			continue
		}
		printLine(out, "event:         %s", ev.Kind)
	}
}

// ── show ──────────────────────────────────────────────────────────────────────

func newShowCmd(g *globals) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show [owner]",
		Short: "Show a streak record (defaults to --owner)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner := g.owner
			if len(args) == 1 {
				owner = args[0]
			}
			if owner == "" {
				return errors.New("owner required: pass it as an argument or with --owner")
			}
			c, err := g.client()
			if err != nil {
				return err
			}
			view, err := c.Get(cmd.Context(), owner)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if format == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(view)
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "OWNER\t%s\n", view.Record.Owner)
			fmt.Fprintf(w, "ADDRESS\t%s\n", view.Address)
			fmt.Fprintf(w, "STREAK\t%d\n", view.Record.StreakCount)
			fmt.Fprintf(w, "LAST\t%s\n", time.Unix(view.Record.LastInteractionTS, 0).UTC().Format(time.RFC3339))
			fmt.Fprintf(w, "NEXT ELIGIBLE\t%s\n", time.Unix(view.NextEligibleAt, 0).UTC().Format(time.RFC3339))
			fmt.Fprintf(w, "EXPIRES\t%s\n", time.Unix(view.ExpiresAt, 0).UTC().Format(time.RFC3339))
			for _, m := range view.Milestones {
				fmt.Fprintf(w, "BADGE\t%s (%d)\n", m.Label, m.Threshold)
			}
			if view.NextMilestone != nil {
				fmt.Fprintf(w, "NEXT BADGE\t%s at %d\n", view.NextMilestone.Label, view.NextMilestone.Threshold)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text or json")
	return cmd
}
