package cli

import (
	"github.com/spf13/cobra"
)

var denylistCmd = &cobra.Command{
	Use:   "denylist",
	Short: "Manage denylisted mints",
}

var denylistListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print denylisted mints",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().DenylistList(cmd.OutOrStdout())
	},
}

var denylistAddCmd = &cobra.Command{
	Use:   "add <mint>...",
	Short: "Add mints to the denylist",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().DenylistAdd(cmd.OutOrStdout(), args)
	},
}

var denylistRemoveCmd = &cobra.Command{
	Use:   "remove <mint>...",
	Short: "Remove mints from the denylist",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().DenylistRemove(cmd.OutOrStdout(), args)
	},
}

func init() {
	denylistCmd.AddCommand(denylistListCmd, denylistAddCmd, denylistRemoveCmd)
}
