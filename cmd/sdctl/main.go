// Command sdctl is the datastore engine's admin CLI, mirroring
// cmd/warren/main.go's shape (teacher): a cobra root command with
// persistent logging flags, one subcommand tree per concern, each
// subcommand opening its own short-lived conn.Manager against the
// configured SHM/repo paths and closing it before returning.
//
// Module install/upgrade/feature-toggle scheduling is explicitly out of
// scope (spec.md §1); sdctl only ever reads or nudges state an already-
// running engine process has put in Main/Ext SHM and the repo directory.
package main

import (
	"fmt"
	"os"

	"github.com/cuemby/sysrepod/internal/config"
	"github.com/cuemby/sysrepod/internal/logging"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sdctl",
	Short: "Admin CLI for the sysrepod datastore engine",
	Long: `sdctl inspects and administers a running sysrepod datastore engine
process: its module registry, dependency closure, shared-memory state, and
live connections.

It is not a NETCONF/RESTCONF client — session management and the public
management-plane API are out of this engine's scope (spec.md §1).`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to sysrepod.yaml (defaults built in if absent)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(modulesCmd)
	rootCmd.AddCommand(modinfoCmd)
	rootCmd.AddCommand(shmCmd)
	rootCmd.AddCommand(locksCmd)
	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	logging.Init(logging.Config{Level: logging.Level(level), JSONOutput: jsonOut})
}

// loadConfig resolves the engine config the same way conn.Open's caller
// would: sdctl and the engine process must agree on repo/SHM paths to see
// the same state.
func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}
