package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "recapvoice", version.GetFullVersion())
	},
}
