package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/oss-eval/contribrank/internal/checkpoint"
	"github.com/oss-eval/contribrank/internal/config"
	"github.com/oss-eval/contribrank/internal/github"
	"github.com/oss-eval/contribrank/internal/models"
	"github.com/oss-eval/contribrank/internal/report"
	"github.com/oss-eval/contribrank/internal/runner"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Aggregate contribution activity and export a ranked report",
	Long: `Aggregates contribution activity for the configured usernames across
the configured organizations, checkpointing after every user, then
exports a CSV report ranked by composite contribution score.`,
	RunE: runAnalyze,
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyFlagOverrides(cmd, cfg)

	verbose, _ := cmd.InheritedFlags().GetBool("verbose")
	logger := newLogger(cfg.LogLevel, verbose)

	usernames, err := resolveUsernames(cfg, logger)
	if err != nil {
		return err
	}
	if len(usernames) == 0 {
		return errors.New("no usernames provided: set GITHUB_USERNAMES, --users, or a usernames file")
	}
	writeUsernameFile(cfg.UsernameFile, usernames, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := github.NewHTTPClient(cfg.GithubToken, cfg.HTTPTimeout)
	quota := github.NewQuotaTracker(client, cfg.APIBaseURL, logger)
	fetcher, err := github.NewFetcher(client, quota, cfg.CacheSize, logger,
		github.WithRetryConfig(cfg.MaxRetries, time.Second),
		github.WithQuotaRetries(cfg.QuotaRetries),
		github.WithRequestsPerMinute(cfg.RequestsPerMinute),
	)
	if err != nil {
		return err
	}

	aggregator := github.NewAggregator(fetcher, quota, github.AggregatorConfig{
		BaseURL:         cfg.APIBaseURL,
		Organizations:   cfg.Organizations,
		CreatedFilter:   cfg.CreatedFilter(time.Now()),
		CommitBatchSize: cfg.CommitBatchSize,
		FullCommitScan:  cfg.FullCommitScan,
	}, logger)

	store := checkpoint.NewStore(cfg.ProgressFile, cfg.ResultsFile, logger)
	if err := store.CheckWritable(); err != nil {
		return fmt.Errorf("checkpoint file not writable: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"users": len(usernames),
		"orgs":  strings.Join(cfg.Organizations, ","),
	}).Info("Starting contribution analysis")
	preflightQuotaCheck(ctx, quota, len(usernames), len(cfg.Organizations), logger)

	orchestrator := runner.New(aggregator, store, quota, logger)
	records, runErr := orchestrator.Run(ctx, usernames)

	if len(records) > 0 {
		meta := models.RunMeta{
			GeneratedAt:    time.Now(),
			Organizations:  cfg.Organizations,
			LookbackMonths: cfg.TimePeriodMonths,
		}
		if err := report.NewExporter(logger).Export(cfg.OutputFile, records, meta); err != nil {
			logger.WithError(err).Error("Failed to export report")
		}
	} else {
		logger.Warn("No results to export")
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			logger.Info("Interrupted; progress saved, run again to resume")
			return nil
		}
		return runErr
	}
	return nil
}

func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("orgs") {
		orgs, _ := cmd.Flags().GetStringSlice("orgs")
		cfg.Organizations = orgs
	}
	if cmd.Flags().Changed("users") {
		users, _ := cmd.Flags().GetStringSlice("users")
		cfg.Usernames = users
	}
	if cmd.Flags().Changed("users-file") {
		cfg.UsernameFile, _ = cmd.Flags().GetString("users-file")
	}
	if cmd.Flags().Changed("months") {
		cfg.TimePeriodMonths, _ = cmd.Flags().GetInt("months")
	}
	if cmd.Flags().Changed("output") {
		cfg.OutputFile, _ = cmd.Flags().GetString("output")
	}
	if cmd.Flags().Changed("full-commit-scan") {
		cfg.FullCommitScan, _ = cmd.Flags().GetBool("full-commit-scan")
	}
}

func newLogger(level string, verbose bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{TimestampFormat: time.RFC3339, FullTimestamp: true})
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	if verbose {
		parsed = logrus.DebugLevel
	}
	logger.SetLevel(parsed)
	return logger
}

// resolveUsernames takes usernames from the environment or CLI when
// set, otherwise from the usernames file (one per line, # comments and
// blank lines skipped).
func resolveUsernames(cfg *config.Config, logger *logrus.Logger) ([]string, error) {
	if len(cfg.Usernames) > 0 {
		logger.WithField("count", len(cfg.Usernames)).Info("Loaded usernames from configuration")
		return cfg.Usernames, nil
	}

	f, err := os.Open(cfg.UsernameFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading usernames file: %w", err)
	}
	defer f.Close()

	var usernames []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		usernames = append(usernames, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading usernames file: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"count": len(usernames),
		"file":  cfg.UsernameFile,
	}).Info("Loaded usernames from file")
	return usernames, nil
}

// writeUsernameFile persists the resolved username list for later
// runs. Best effort.
func writeUsernameFile(path string, usernames []string, logger *logrus.Logger) {
	var sb strings.Builder
	sb.WriteString("# GitHub usernames for contribution analysis\n")
	for _, username := range usernames {
		sb.WriteString(username)
		sb.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		logger.WithError(err).Warn("Couldn't save usernames file")
	}
}

// preflightQuotaCheck warns when the remaining request quota looks too
// small for the run. The estimate is rough: about five queries per
// user per organization before pagination and commit listings.
func preflightQuotaCheck(ctx context.Context, quota *github.QuotaTracker, users, orgs int, logger *logrus.Logger) {
	quota.Refresh(ctx)
	remaining, _ := quota.Snapshot()
	estimated := users * orgs * 5
	if remaining < 100 || remaining*10 < estimated {
		logger.WithFields(logrus.Fields{
			"remaining": remaining,
			"estimated": estimated,
		}).Warn("Low API quota for the planned run; expect waits at quota resets")
	}
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().StringSliceP("orgs", "o", nil, "Organizations to analyze (overrides GITHUB_ORGANIZATIONS)")
	analyzeCmd.Flags().StringSliceP("users", "u", nil, "Usernames to analyze (overrides GITHUB_USERNAMES)")
	analyzeCmd.Flags().String("users-file", "", "File with one username per line")
	analyzeCmd.Flags().IntP("months", "m", 0, "Lookback window in months (0 = all time)")
	analyzeCmd.Flags().String("output", "", "Output CSV file path")
	analyzeCmd.Flags().Bool("full-commit-scan", false, "Count commits across every organization repository")
}
