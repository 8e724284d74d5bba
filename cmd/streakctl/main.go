// cmd/streakctl is the operator and client CLI of the civic streak ledger.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmerrifield20/civicstreak/pkg/client"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

const defaultServer = "http://localhost:8080"

// globals holds the persistent flags shared by every command.
type globals struct {
	server  string
	token   string
	owner   string
	cfgFile string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "streakctl",
		Short: "Civic streak ledger CLI",
		Long: `streakctl talks to a streakd server (init, engage, show, milestones list,
snapshot trigger) and performs offline operator tasks against the configured
record store (address, token, admin-hash, milestones validate,
migrate-namespace, snapshot export/restore).

Flags fall back to CIVICSTREAK_SERVER_URL, CIVICSTREAK_TOKEN and
CIVICSTREAK_OWNER.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			v := viper.New()
			v.SetEnvPrefix("CIVICSTREAK")
			v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
			v.AutomaticEnv()
			if g.server == "" {
				g.server = v.GetString("server_url")
			}
			if g.server == "" {
				g.server = defaultServer
			}
			if g.token == "" {
				g.token = v.GetString("token")
			}
			if g.owner == "" {
				g.owner = v.GetString("owner")
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.server, "server", "", "streakd base URL (default "+defaultServer+")")
	pf.StringVar(&g.token, "token", "", "owner bearer token")
	pf.StringVar(&g.owner, "owner", "", "owner identity sent in the development header")
	pf.StringVar(&g.cfgFile, "config", "", "streakd.yaml used by offline commands (default configs/streakd.yaml if present)")

	root.AddCommand(
		newInitCmd(g),
		newEngageCmd(g),
		newShowCmd(g),
		newAddressCmd(),
		newTokenCmd(g),
		newAdminHashCmd(),
		newMilestonesCmd(g),
		newMigrateNamespaceCmd(g),
		newSnapshotCmd(g),
		newVersionCmd(),
	)
	return root
}

// client builds an SDK client from the persistent flags.
func (g *globals) client() (*client.Client, error) {
	var opts []client.Option
	if g.token != "" {
		opts = append(opts, client.WithBearerToken(g.token))
	}
	if g.owner != "" {
		opts = append(opts, client.WithDevOwner(g.owner))
	}
	return client.New(g.server, opts...)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the streakctl version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "streakctl %s (civic streak ledger)\n", version)
		},
	}
}

func printLine(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, format+"\n", args...)
}
