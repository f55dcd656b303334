package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"riskgate/internal/app"
)

var (
	configSetJSON string
	configSetFile string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or change the runtime config file",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective runtime config",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ConfigShow(cmd.OutOrStdout())
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Apply a partial patch, e.g. --json '{\"MIN_RISK_SCORE\":\"55\"}'",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var body []byte
		switch {
		case configSetJSON != "" && configSetFile != "":
			return errors.New("use either --json or --file, not both")
		case configSetJSON != "":
			body = []byte(configSetJSON)
		case configSetFile != "":
			raw, err := app.ReadPatch(configSetFile)
			if err != nil {
				return err
			}
			body = raw
		default:
			return errors.New("--json or --file is required")
		}
		return getApp().ConfigSet(cmd.OutOrStdout(), body)
	},
}

func init() {
	configSetCmd.Flags().StringVar(&configSetJSON, "json", "", "Patch as inline JSON")
	configSetCmd.Flags().StringVar(&configSetFile, "file", "", "Read the patch from a file, or - for stdin")
	configCmd.AddCommand(configShowCmd, configSetCmd)
}
