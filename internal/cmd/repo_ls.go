package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/moizpgedge/pgbackrest/internal/observability"
	"github.com/moizpgedge/pgbackrest/pkg/match"
	"github.com/moizpgedge/pgbackrest/pkg/output"
	"github.com/moizpgedge/pgbackrest/pkg/storage"
)

var repoLsCmd = &cobra.Command{
	Use:   "repo-ls [path]",
	Short: "List repository entries",
	Long: `List entries under a repository path.

Without --recurse only the immediate children are listed; directory-like
groupings appear as path entries. With --recurse every file under the
path is listed with its full relative name.

A --filter glob narrows the listing. Its literal head also narrows the
server-side query, so filters with a fixed prefix stay cheap even in
large repositories.

Examples:
  pgbackrest repo-ls
  pgbackrest repo-ls backup --recurse
  pgbackrest repo-ls archive --recurse --filter '**/*.history'
  pgbackrest repo-ls backup --output json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRepoLs,
}

var (
	repoLsRecurse bool
	repoLsFilter  string
	repoLsOutput  string
)

func init() {
	rootCmd.AddCommand(repoLsCmd)

	repoLsCmd.Flags().BoolVar(&repoLsRecurse, "recurse", false, "List files under every sub-path")
	repoLsCmd.Flags().StringVar(&repoLsFilter, "filter", "", "Glob filter applied to entry names")
	repoLsCmd.Flags().StringVar(&repoLsOutput, "output", "text", "Output format: text, json, yaml")
}

func runRepoLs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	path := "/"
	if len(args) > 0 {
		path = args[0]
	}

	switch repoLsOutput {
	case "text", "json", "yaml":
	default:
		return exitError(foundry.ExitInvalidArgument, "Invalid output format",
			fmt.Errorf("output %q is not text, json, or yaml", repoLsOutput))
	}

	driver, err := newRepoDriver(cfg)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open repository", err)
	}
	defer func() { _ = driver.Close() }()

	jobID := uuid.New().String()
	observability.CLILogger.Debug("Listing repository",
		zap.String("job_id", jobID),
		zap.String("path", path),
		zap.Bool("recurse", repoLsRecurse),
		zap.String("filter", repoLsFilter))

	started := time.Now()

	entries, err := collectEntries(ctx, driver, path, repoLsRecurse, repoLsFilter)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to list repository", err)
	}

	switch repoLsOutput {
	case "json":
		err = renderEntriesJSON(ctx, cmd.OutOrStdout(), jobID, cfg.Repo.Type, entries, time.Since(started))
	case "yaml":
		err = renderEntriesYAML(cmd.OutOrStdout(), entries)
	default:
		err = renderEntriesText(cmd.OutOrStdout(), entries)
	}
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write listing", err)
	}

	observability.CLILogger.Debug("Listing complete",
		zap.String("job_id", jobID),
		zap.Int("entries", len(entries)),
		zap.Duration("elapsed", time.Since(started)))

	return nil
}

// collectEntries walks the repository and applies the client-side filter.
// The driver only narrows by the filter's literal prefix; exact glob
// matching happens here.
func collectEntries(
	ctx context.Context, driver storage.Driver, path string, recurse bool, filter string,
) ([]storage.Info, error) {
	var entries []storage.Info

	err := driver.Walk(ctx, path, storage.ListOptions{
		Level:      storage.InfoLevelBasic,
		Expression: filter,
		Recurse:    recurse,
	}, func(info storage.Info) error {
		if filter != "" && !match.Match(filter, info.Name) {
			return nil
		}
		entries = append(entries, info)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

func renderEntriesText(w io.Writer, entries []storage.Info) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	if _, err := fmt.Fprintln(tw, "NAME\tTYPE\tSIZE\tMODIFIED"); err != nil {
		return err
	}

	for _, entry := range entries {
		modified := "-"
		if !entry.ModTime.IsZero() {
			modified = entry.ModTime.UTC().Format(time.RFC3339)
		}

		size := "-"
		if entry.Type == storage.TypeFile {
			size = fmt.Sprintf("%d", entry.Size)
		}

		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", entry.Name, entry.Type, size, modified); err != nil {
			return err
		}
	}

	return tw.Flush()
}

func renderEntriesJSON(
	ctx context.Context, w io.Writer, jobID, repo string, entries []storage.Info, elapsed time.Duration,
) error {
	writer := output.NewJSONLWriter(w, jobID, repo)
	defer func() { _ = writer.Close() }()

	summary := output.SummaryRecord{
		Duration:      elapsed,
		DurationHuman: elapsed.String(),
	}

	for _, entry := range entries {
		if err := writer.WriteEntry(ctx, output.EntryFromInfo(entry)); err != nil {
			return err
		}

		summary.Entries++
		if entry.Type == storage.TypeFile {
			summary.Files++
			summary.BytesTotal += entry.Size
		} else {
			summary.Paths++
		}
	}

	return writer.WriteSummary(ctx, &summary)
}

func renderEntriesYAML(w io.Writer, entries []storage.Info) error {
	records := make([]*output.EntryRecord, 0, len(entries))
	for _, entry := range entries {
		records = append(records, output.EntryFromInfo(entry))
	}

	encoder := yaml.NewEncoder(w)
	defer func() { _ = encoder.Close() }()

	return encoder.Encode(records)
}
