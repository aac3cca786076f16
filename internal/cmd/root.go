// Package cmd implements the pgbackrest CLI commands.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/moizpgedge/pgbackrest/internal/config"
	"github.com/moizpgedge/pgbackrest/internal/observability"
	"github.com/moizpgedge/pgbackrest/pkg/storage"
	"github.com/moizpgedge/pgbackrest/pkg/storage/azure"
)

// versionInfo holds build-time version metadata, injected via
// SetVersionInfo from main.
var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata for the version output.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate)
}

var (
	cfgFile  string
	logLevel string

	// cfg is populated by the root PersistentPreRunE before any
	// subcommand runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "pgbackrest",
	Short: "Backup repository management",
	Long: `Manage a backup repository hosted on cloud object storage.

The repository location and credentials come from pgbackrest.yaml (or the
file given with --config) and PGBACKREST_* environment variables.

Examples:
  pgbackrest repo-ls backup --recurse
  pgbackrest repo-get backup/main/backup.info --destination backup.info
  pgbackrest repo-put backup/main/backup.info --source backup.info
  pgbackrest repo-rm archive/main --recurse`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cmd.Context(), cfgFile)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}

		if logLevel != "" {
			loaded.Logging.Level = logLevel
		}

		if err := observability.InitCLILogger(loaded.Logging.Level, loaded.Logging.Profile); err != nil {
			return err
		}

		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default pgbackrest.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
}

// Execute runs the CLI and returns the resulting error, if any.
func Execute() error {
	defer observability.Sync()
	return rootCmd.Execute()
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return fmt.Errorf("%s: %w (exit code %d)", message, err, code)
}

// newRepoDriver opens the configured repository.
func newRepoDriver(cfg *config.Config) (storage.Driver, error) {
	switch cfg.Repo.Type {
	case "azure":
		a := cfg.Repo.Azure
		return azure.New(azure.Config{
			Account:       a.Account,
			Container:     a.Container,
			Key:           a.Key,
			KeyType:       azure.KeyType(a.KeyType),
			Endpoint:      a.Endpoint,
			URIStyle:      azure.URIStyle(a.URIStyle),
			Port:          a.Port,
			Timeout:       a.Timeout,
			BlockSize:     a.BlockSize,
			Tags:          a.Tags,
			TLSSkipVerify: a.TLSSkipVerify,
			CAFile:        a.CAFile,
			RateLimit:     a.RateLimit,
			Logger:        observability.CLILogger,
		})
	default:
		return nil, fmt.Errorf("unsupported repo type %q", cfg.Repo.Type)
	}
}
