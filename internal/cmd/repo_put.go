package cmd

import (
	"io"
	"os"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/moizpgedge/pgbackrest/internal/observability"
)

var repoPutCmd = &cobra.Command{
	Use:   "repo-put <name>",
	Short: "Store a file in the repository",
	Long: `Store a file under the given repository name, reading from stdin or
the --source path.

Content larger than the configured block size is uploaded in blocks and
committed atomically: the file only becomes visible once the final block
list is written, so readers never observe a partial upload.

Examples:
  pgbackrest repo-put backup/main/backup.info --source backup.info
  tar -cz /var/lib/postgresql | pgbackrest repo-put backup/main/base.tgz`,
	Args: cobra.ExactArgs(1),
	RunE: runRepoPut,
}

var repoPutSource string

func init() {
	rootCmd.AddCommand(repoPutCmd)

	repoPutCmd.Flags().StringVar(&repoPutSource, "source", "", "Read from this path instead of stdin")
}

func runRepoPut(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	name := args[0]

	var source io.Reader = cmd.InOrStdin()
	if repoPutSource != "" {
		f, err := os.Open(repoPutSource)
		if err != nil {
			return exitError(foundry.ExitFileReadError, "Failed to open source", err)
		}
		defer func() { _ = f.Close() }()
		source = f
	}

	driver, err := newRepoDriver(cfg)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open repository", err)
	}
	defer func() { _ = driver.Close() }()

	jobID := uuid.New().String()
	observability.CLILogger.Debug("Storing file",
		zap.String("job_id", jobID),
		zap.String("name", name),
		zap.String("source", repoPutSource))

	started := time.Now()

	writer, err := driver.NewWrite(ctx, name)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to write to repository", err)
	}

	written, err := io.Copy(writer, source)
	if err != nil {
		// The upload is abandoned uncommitted; nothing becomes visible.
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to upload file content", err)
	}

	if err := writer.Close(); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to commit upload", err)
	}

	observability.CLILogger.Info("Stored file",
		zap.String("job_id", jobID),
		zap.String("name", name),
		zap.Int64("bytes", written),
		zap.Duration("elapsed", time.Since(started)))

	return nil
}
