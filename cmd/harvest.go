package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newProfileCmd creates the command that runs one harvest profile to
// completion in the foreground.
func newProfileCmd(profile string, aliases []string, short string) *cobra.Command {
	return &cobra.Command{
		Use:         profile,
		Aliases:     aliases,
		Short:       short,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationNeedsSheet: "true"},
		RunE: withRuntime(func(cmd *cobra.Command, rt *runtime) error {
			logger := rt.logger.Named(profile)
			summary, err := rt.app.RunProfile(cmd.Context(), profile, logger)
			if err != nil {
				return fmt.Errorf("run %s harvest: %w", profile, err)
			}
			logger.Info("Harvest finished",
				zap.String("run_id", summary.RunID),
				zap.Int("total", summary.Total),
				zap.Int("found", summary.Found),
				zap.Int("not_found", summary.NotFound),
				zap.Int("fetch_failed", summary.FetchFailed),
				zap.Int("write_failed", summary.WriteFailed),
				zap.Duration("elapsed", summary.Duration),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d of %d businesses now have an email\n",
				profile, summary.Found, summary.Total)
			return nil
		}),
	}
}

func newFilterCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "filter",
		Short:       `Copy rows with an email into the "Emails Only" sheet`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationNeedsSheet: "true"},
		RunE: withRuntime(func(cmd *cobra.Command, rt *runtime) error {
			summary, err := rt.app.RunFilter(cmd.Context(), rt.logger.Named("filter"))
			if err != nil {
				return fmt.Errorf("run email filter: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "filter: copied %d of %d rows\n", summary.Copied, summary.Scanned)
			return nil
		}),
	}
}
