package cmd

import (
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/moizpgedge/pgbackrest/internal/observability"
)

var repoRmCmd = &cobra.Command{
	Use:   "repo-rm <path>",
	Short: "Remove repository files",
	Long: `Remove a single repository file, or with --recurse every file under
a path.

Removal is idempotent: a file that is already gone is not an error, and
a recursive removal races safely with concurrent expiry.

Examples:
  pgbackrest repo-rm backup/main/backup.info
  pgbackrest repo-rm archive/main --recurse`,
	Args: cobra.ExactArgs(1),
	RunE: runRepoRm,
}

var repoRmRecurse bool

func init() {
	rootCmd.AddCommand(repoRmCmd)

	repoRmCmd.Flags().BoolVar(&repoRmRecurse, "recurse", false, "Remove every file under the path")
}

func runRepoRm(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	path := args[0]

	driver, err := newRepoDriver(cfg)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open repository", err)
	}
	defer func() { _ = driver.Close() }()

	jobID := uuid.New().String()
	observability.CLILogger.Debug("Removing",
		zap.String("job_id", jobID),
		zap.String("path", path),
		zap.Bool("recurse", repoRmRecurse))

	started := time.Now()

	if repoRmRecurse {
		err = driver.PathRemove(ctx, path)
	} else {
		err = driver.Remove(ctx, path)
	}
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to remove from repository", err)
	}

	observability.CLILogger.Info("Removed",
		zap.String("job_id", jobID),
		zap.String("path", path),
		zap.Bool("recurse", repoRmRecurse),
		zap.Duration("elapsed", time.Since(started)))

	return nil
}
