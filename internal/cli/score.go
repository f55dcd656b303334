package cli

import (
	"github.com/spf13/cobra"

	"riskgate/internal/app"
)

var (
	scoreJSON   bool
	scoreDryRun bool
)

var scoreCmd = &cobra.Command{
	Use:   "score <mint>...",
	Short: "Compute risk for one or more mints",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Score(cmd.Context(), app.ScoreOptions{
			Mints:  args,
			JSON:   scoreJSON,
			DryRun: scoreDryRun,
		})
	},
}

func init() {
	scoreCmd.Flags().BoolVar(&scoreJSON, "json", false, "Print results as JSON")
	scoreCmd.Flags().BoolVar(&scoreDryRun, "dry-run", false, "Do not record assessments to the database")
}
