// Command entityctl inspects the entity lifecycles, freshness policies and
// canonical cache keys used by entity-sync.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	entitysync "github.com/huykn/entity-sync"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	root := &cobra.Command{
		Use:           "entityctl",
		Short:         "Inspect entity lifecycles, freshness policies and cache keys",
		Version:       entitysync.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to an entity-sync YAML config")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Print resolved settings")

	root.AddCommand(transitionsCmd())
	root.AddCommand(checkCmd())
	root.AddCommand(policiesCmd(&configPath, &debug))
	root.AddCommand(keyCmd())
	root.AddCommand(versionCmd())
	return root
}
