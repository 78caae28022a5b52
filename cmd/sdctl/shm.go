package main

import (
	"fmt"
	"os"

	"github.com/cuemby/sysrepod/internal/conn"
	"github.com/spf13/cobra"
)

var shmCmd = &cobra.Command{
	Use:   "shm",
	Short: "Inspect shared-memory arena state",
}

var shmStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print Ext SHM wasted-byte ratio and Main SHM module slot usage",
	RunE:  runShmStats,
}

var shmCompactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Force an Ext SHM defragmentation pass outside the normal WRITE-unlock trigger",
	RunE:  runShmCompact,
}

func init() {
	shmCmd.AddCommand(shmStatsCmd)
	shmCmd.AddCommand(shmCompactCmd)
}

func runShmStats(cmd *cobra.Command, args []string) error {
	return withManager(func(m *conn.Manager) error {
		ratio, count, capacity := m.ShmStats()
		fmt.Fprintf(os.Stdout, "ext wasted ratio: %.4f\n", ratio)
		fmt.Fprintf(os.Stdout, "modules:          %d/%d\n", count, capacity)
		return nil
	})
}

func runShmCompact(cmd *cobra.Command, args []string) error {
	return withManager(func(m *conn.Manager) error {
		before, _, _ := m.ShmStats()
		m.CompactShm()
		after, _, _ := m.ShmStats()
		fmt.Fprintf(os.Stdout, "ext wasted ratio: %.4f -> %.4f\n", before, after)
		return nil
	})
}
