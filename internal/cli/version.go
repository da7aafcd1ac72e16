package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/specforge/specforge/internal/version"
)

var versionCmd = &cobra.Command{
	Use:     "version",
	Short:   "Print the specforge version",
	GroupID: GroupConfiguration,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), version.String())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
