package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cuemby/sysrepod/internal/conn"
	"github.com/cuemby/sysrepod/internal/registry"
	"github.com/spf13/cobra"
)

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "Inspect the module registry",
}

var modulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every registered module and its dependency/subscription counts",
	RunE:  runModulesList,
}

var modulesShowCmd = &cobra.Command{
	Use:   "show <module>",
	Short: "Dump one module's full descriptor as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runModulesShow,
}

func init() {
	modulesCmd.AddCommand(modulesListCmd)
	modulesCmd.AddCommand(modulesShowCmd)
}

func withManager(fn func(m *conn.Manager) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	m, err := conn.Open(cfg)
	if err != nil {
		return fmt.Errorf("open engine state: %w", err)
	}
	defer m.Close()
	return fn(m)
}

func runModulesList(cmd *cobra.Command, args []string) error {
	return withManager(func(m *conn.Manager) error {
		mods := m.Registry().All()
		registry.SortBySlot(mods)

		fmt.Fprintf(os.Stdout, "%-30s %-12s %6s %10s %10s %10s\n",
			"NAME", "REVISION", "VER", "DATADEPS", "INVDEPS", "CHGSUBS")
		for _, mod := range mods {
			d := mod.Descriptor
			changeSubs := 0
			for _, subs := range d.ChangeSubs {
				changeSubs += len(subs)
			}
			fmt.Fprintf(os.Stdout, "%-30s %-12s %6d %10d %10d %10d\n",
				d.Name, d.Revision, d.Ver, len(d.DataDeps), len(d.InvDataDeps), changeSubs)
		}
		return nil
	})
}

func runModulesShow(cmd *cobra.Command, args []string) error {
	return withManager(func(m *conn.Manager) error {
		mod, err := m.Registry().FindModule(args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(mod.Descriptor)
	})
}
