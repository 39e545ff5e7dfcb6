package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/capture"
)

var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "List network interfaces available for capture",
	Long:  `List network interfaces a PBX mirror port can be attached to. Requires capture privileges.`,
	RunE:  runInterfaces,
}

func runInterfaces(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	if os.Geteuid() != 0 {
		fmt.Fprintln(out, "Warning: running without root privileges, some interfaces may be missing.")
		fmt.Fprintln(out)
	}

	ifaces, err := capture.ListInterfaces(true)
	if err != nil {
		return fmt.Errorf("unable to list network interfaces: %w", err)
	}

	fmt.Fprintln(out, "Interfaces suitable for call recording:")
	for _, iface := range ifaces {
		line := "  " + iface.Name
		if iface.Description != "" {
			line += " - " + iface.Description
		}
		if len(iface.Addresses) > 0 {
			line += " [" + strings.Join(iface.Addresses, ", ") + "]"
		}
		fmt.Fprintln(out, line)
	}
	return nil
}
