package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/cuemby/sysrepod/internal/conn"
	"github.com/cuemby/sysrepod/internal/modinfo"
	"github.com/cuemby/sysrepod/internal/registry"
	"github.com/spf13/cobra"
)

var modinfoDatastore string

var modinfoCmd = &cobra.Command{
	Use:   "modinfo <module> [module...]",
	Short: "Resolve a module-info working set and print its canonical lock order",
	Long: `Runs the same dependency-closure resolver (spec.md §4.3) an
operation would use to build its modinfo set for the given seed modules,
then prints the resulting canonical-order (ascending SHM slot) entries
with their earned state bits (REQ/DEP/INV_DEP) — without acquiring any
lock or touching stored data.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runModinfo,
}

func init() {
	modinfoCmd.Flags().StringVar(&modinfoDatastore, "datastore", string(registry.Running), "primary datastore (startup, running, candidate, operational)")
}

func runModinfo(cmd *cobra.Command, args []string) error {
	ds := registry.Datastore(modinfoDatastore)

	return withManager(func(m *conn.Manager) error {
		resolver := modinfo.NewResolver(m.Registry())
		set, err := resolver.Close(ds, args, modinfo.WantDep|modinfo.WantInvDep)
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "%-30s %-20s %s\n", "MODULE", "SLOT", "STATE")
		for _, e := range set.Entries {
			fmt.Fprintf(os.Stdout, "%-30s %-20d %s\n", e.Module.Descriptor.Name, e.Module.Slot, stateString(e.State))
		}
		return nil
	})
}

func stateString(s modinfo.StateBits) string {
	var parts []string
	if s.Has(modinfo.BitReq) {
		parts = append(parts, "REQ")
	}
	if s.Has(modinfo.BitDep) {
		parts = append(parts, "DEP")
	}
	if s.Has(modinfo.BitInvDep) {
		parts = append(parts, "INV_DEP")
	}
	if s.Has(modinfo.BitChanged) {
		parts = append(parts, "CHANGED")
	}
	if s.Has(modinfo.BitData) {
		parts = append(parts, "DATA")
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, "|")
}
