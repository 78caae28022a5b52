package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/cuemby/sysrepod/internal/conn"
	"github.com/spf13/cobra"
)

var locksCmd = &cobra.Command{
	Use:   "locks",
	Short: "List module locks currently held by live connections",
	Long: `Renders the same per-connection lock state the sysrepo-monitoring
internal module composes into operational data (spec.md §4.9.C), read
directly from the process's live connection table instead of through a
datastore Get.`,
	RunE: runLocks,
}

func runLocks(cmd *cobra.Command, args []string) error {
	return withManager(func(m *conn.Manager) error {
		conns := m.ConnectionSnapshots()
		sort.Slice(conns, func(i, j int) bool { return conns[i].CID < conns[j].CID })

		for _, c := range conns {
			fmt.Fprintf(os.Stdout, "connection %d:\n", c.CID)
			if len(c.Modules) == 0 {
				fmt.Fprintln(os.Stdout, "  (no module locks held)")
				continue
			}
			for module, dsLocks := range c.Modules {
				for ds, mode := range dsLocks {
					fmt.Fprintf(os.Stdout, "  %-30s %-12s %s\n", module, ds, mode)
				}
			}
		}
		return nil
	})
}
