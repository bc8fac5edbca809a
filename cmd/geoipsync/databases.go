package main

import (
	"fmt"
	"strings"

	"github.com/geoipdb/geoipsync/internal/catalog"
	"github.com/spf13/cobra"
)

// newDatabasesCmd lists the catalog. Fully offline: the catalog is compiled
// in, so this works without an API key or network access.
func newDatabasesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "databases",
		Short: "List the available databases and their aliases",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()

			for _, provider := range []catalog.Provider{catalog.ProviderMaxMind, catalog.ProviderIP2Location} {
				fmt.Fprintf(out, "%s:\n", provider)

				for _, spec := range catalog.ByProvider(provider) {
					fmt.Fprintf(out, "  %s (aliases: %s)\n", spec.Name, strings.Join(spec.Aliases, ", "))
				}

				fmt.Fprintf(out, "  %s/all selects all of the above\n\n", provider)
			}

			fmt.Fprintln(out, "'all' selects the full catalog.")
		},
	}
}
