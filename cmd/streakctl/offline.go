package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmerrifield20/civicstreak/internal/config"
	"github.com/jmerrifield20/civicstreak/internal/identity"
	"github.com/jmerrifield20/civicstreak/internal/streak"
)

// ── address ───────────────────────────────────────────────────────────────────

func newAddressCmd() *cobra.Command {
	var ns string
	cmd := &cobra.Command{
		Use:   "address <owner>",
		Short: "Derive the record address of an owner",
		Long:  "Derives the deterministic record address locally; no server or store is contacted.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := streak.ParseIdentity(args[0])
			if err != nil {
				return err
			}
			namespace := streak.Namespace(ns)
			if err := namespace.Validate(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), streak.DeriveAddress(namespace, owner))
			return nil
		},
	}
	cmd.Flags().StringVar(&ns, "namespace", string(streak.DefaultNamespace), "Record namespace")
	return cmd
}

// ── token ─────────────────────────────────────────────────────────────────────

func newTokenCmd(g *globals) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <owner>",
		Short: "Issue an owner bearer token signed with auth.token_secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := streak.ParseIdentity(args[0])
			if err != nil {
				return err
			}
			cfg, err := config.Load(g.cfgFile)
			if err != nil {
				return err
			}
			if cfg.Auth.TokenSecret == "" {
				return errors.New("auth.token_secret is not configured (set CIVICSTREAK_AUTH_TOKEN_SECRET)")
			}
			if ttl == 0 {
				ttl = cfg.Auth.TokenTTL
			}
			issuer, err := identity.NewTokenIssuer(cfg.Auth.TokenSecret, cfg.Auth.TokenIssuer, ttl)
			if err != nil {
				return err
			}
			tok, err := issuer.Issue(owner)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default auth.token_ttl)")
	return cmd
}

// ── admin-hash ────────────────────────────────────────────────────────────────

func newAdminHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "admin-hash [secret]",
		Short: "Print the bcrypt hash to configure as admin.secret_hash",
		Long:  "Hashes the admin secret given as an argument, or read from the first line of stdin.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := ""
			if len(args) == 1 {
				secret = args[0]
			} else {
				line, err := readLine(cmd.InOrStdin())
				if err != nil {
					return err
				}
				secret = line
			}
			if secret == "" {
				return errors.New("admin secret must not be empty")
			}
			hash, err := identity.HashAdminSecret(secret)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// ── milestones ────────────────────────────────────────────────────────────────

func newMilestonesCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "milestones",
		Short: "Inspect milestone tables",
	}

	validate := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a TOML milestone table and print it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := streak.LoadMilestoneTable(args[0])
			if err != nil {
				return err
			}
			return printMilestones(cmd.OutOrStdout(), table.All())
		},
	}

	defaults := &cobra.Command{
		Use:   "defaults",
		Short: "Print the built-in milestone ladder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printMilestones(cmd.OutOrStdout(), streak.DefaultMilestoneTable().All())
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Print the milestone table served by --server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			table, err := c.Milestones(cmd.Context())
			if err != nil {
				return err
			}
			ms := make([]streak.Milestone, 0, len(table.Milestones))
			for _, m := range table.Milestones {
				ms = append(ms, streak.Milestone{
					Threshold:    m.Threshold,
					Label:        m.Label,
					RewardPoints: m.RewardPoints,
					BadgeID:      m.BadgeID,
				})
			}
			return printMilestones(cmd.OutOrStdout(), ms)
		},
	}

	cmd.AddCommand(validate, defaults, list)
	return cmd
}

func printMilestones(out io.Writer, ms []streak.Milestone) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SLOT\tTHRESHOLD\tLABEL\tBADGE\tPOINTS")
	for i, m := range ms {
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%d\n", i, m.Threshold, m.Label, m.BadgeID, m.RewardPoints)
	}
	return w.Flush()
}
