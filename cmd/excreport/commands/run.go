// Package commands implements CLI command handlers for excreport.
package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/pattonfu/central-production-meeting/internal/config"
	"github.com/pattonfu/central-production-meeting/internal/dql"
	"github.com/pattonfu/central-production-meeting/internal/export"
	"github.com/pattonfu/central-production-meeting/internal/pipeline"
	"github.com/pattonfu/central-production-meeting/internal/rules"
	"github.com/pattonfu/central-production-meeting/internal/runctx"
	"github.com/pattonfu/central-production-meeting/internal/store"
)

// Environment variables carrying the remote source credentials.
// Credentials never come from the config file.
const (
	EnvCookie    = "EXCREPORT_COOKIE"
	EnvCSRFToken = "EXCREPORT_CSRF_TOKEN"
)

// dateFlagFormat is the layout of the --date override.
const dateFlagFormat = "2006-01-02"

// Sentinel errors for command preflight checks.
var (
	// ErrMissingCredentials indicates the cookie env var is unset.
	ErrMissingCredentials = errors.New("missing credentials: set " + EnvCookie + " (and " + EnvCSRFToken + ")")
	// ErrMissingBaseURL indicates no DQL endpoint is configured.
	ErrMissingBaseURL = errors.New("dql.base_url is not configured")
	// ErrEmptyQuery indicates the query file is empty.
	ErrEmptyQuery = errors.New("query file is empty")
)

// RunCommand holds configuration for the run command.
type RunCommand struct {
	configPath string
	dateStr    string
	outputDir  string
	offline    bool
}

// NewRunCommand creates the run command: fetch missing days, then build
// and export the report.
func NewRunCommand() *cobra.Command {
	rc := &RunCommand{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch missing days and build the report",
		Long: "Plan the unique dates of both rolling windows, fetch every date\n" +
			"not already cached, and build the comparison report.",
		Args: cobra.NoArgs,
		RunE: rc.run,
	}

	rc.registerFlags(cmd)

	return cmd
}

// NewReportCommand creates the report command: re-render the report from
// cached day data without touching the remote source.
func NewReportCommand() *cobra.Command {
	rc := &RunCommand{offline: true}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Re-render the report from cached data only",
		Long: "Rebuild the comparison report from day blobs already in the\n" +
			"output directory. No remote fetches are made; missing days are\n" +
			"treated as empty with a warning.",
		Args: cobra.NoArgs,
		RunE: rc.run,
	}

	rc.registerFlags(cmd)

	return cmd
}

func (rc *RunCommand) registerFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&rc.configPath, "config", "c", "", "Config file path (default: .excreport.yaml in CWD or $HOME)")
	cmd.Flags().StringVar(&rc.dateStr, "date", "", "Run as of this date instead of today (YYYY-MM-DD)")
	cmd.Flags().StringVarP(&rc.outputDir, "output", "o", "", "Output directory (overrides config)")
}

func (rc *RunCommand) run(cmd *cobra.Command, _ []string) error {
	// A missing .env is fine; explicit env vars still apply.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(rc.configPath)
	if err != nil {
		return err
	}

	if rc.outputDir != "" {
		cfg.OutputDir = rc.outputDir
	}

	logger := newLogger(cmd)

	today, err := rc.resolveToday()
	if err != nil {
		return err
	}

	runCtx := runctx.New(today, cfg.WindowDays, cfg.OutputDir, logger)

	fs := afero.NewOsFs()

	ruleSet, err := loadRules(fs, cfg.RulesFile, logger)
	if err != nil {
		return err
	}

	runner := &pipeline.Runner{
		Store: store.New(fs, cfg.OutputDir, store.NewLZ4Codec(), runCtx.BaselineWindow()),
		Rules: ruleSet,
		Sinks: newSinks(fs, cfg, runCtx, cmd),
	}

	if !rc.offline {
		runner.Source, runner.Query, err = newSource(cfg, logger)
		if err != nil {
			return err
		}
	}

	summary, err := runner.Run(cmd.Context(), runCtx)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(),
		"report done: %d categories (%d new) from %d unique dates (%d cached, %d fetched, %d degraded)\n",
		summary.Categories, summary.NewCategories,
		summary.PlannedDates, summary.CachedDates, summary.FetchedDates, summary.DegradedDates,
	)

	return nil
}

func (rc *RunCommand) resolveToday() (time.Time, error) {
	if rc.dateStr == "" {
		return time.Now(), nil
	}

	today, err := time.Parse(dateFlagFormat, rc.dateStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse --date: %w", err)
	}

	return today, nil
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose = false
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// loadRules loads the fuzzy rule list. A missing rules file is not fatal:
// every message then passes through as its own category.
func loadRules(fs afero.Fs, path string, logger *slog.Logger) (*rules.Set, error) {
	exists, err := afero.Exists(fs, path)
	if err == nil && !exists {
		logger.Warn("rules file not found, classification disabled", "path", path)

		return rules.New(nil)
	}

	ruleSet, err := rules.Load(fs, path)
	if err != nil {
		return nil, err
	}

	logger.Info("fuzzy rules loaded", "path", path, "rules", ruleSet.Len())

	return ruleSet, nil
}

func newSource(cfg *config.Config, logger *slog.Logger) (pipeline.RecordSource, string, error) {
	if cfg.DQL.BaseURL == "" {
		return nil, "", ErrMissingBaseURL
	}

	creds := dql.Credentials{
		Cookie:    strings.TrimSpace(os.Getenv(EnvCookie)),
		CSRFToken: strings.TrimSpace(os.Getenv(EnvCSRFToken)),
	}
	if creds.Cookie == "" {
		return nil, "", ErrMissingCredentials
	}

	query, err := readQuery(cfg.QueryFile)
	if err != nil {
		return nil, "", err
	}

	client, err := dql.NewClient(dql.Config{
		BaseURL:        cfg.DQL.BaseURL,
		PollInterval:   cfg.DQL.PollInterval,
		PollTimeout:    cfg.DQL.PollTimeout,
		MaxResultBytes: cfg.DQL.MaxResultBytes,
		Timezone:       cfg.DQL.Timezone,
		DayStartHour:   cfg.DQL.DayStartHour,
	}, creds, logger)
	if err != nil {
		return nil, "", err
	}

	return client, query, nil
}

func readQuery(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read query file: %w", err)
	}

	query := strings.TrimSpace(string(raw))
	if query == "" {
		return "", fmt.Errorf("%s: %w", path, ErrEmptyQuery)
	}

	return query, nil
}

func newSinks(fs afero.Fs, cfg *config.Config, runCtx runctx.Context, cmd *cobra.Command) []pipeline.Sink {
	sinks := []pipeline.Sink{
		&export.TableSink{Writer: cmd.OutOrStdout(), Top: cfg.Report.Top},
	}

	if cfg.Report.XLSX {
		sinks = append(sinks, &export.XLSXSink{
			Fs:   fs,
			Path: filepath.Join(runCtx.RunDir(), "summary.xlsx"),
		})
	}

	if cfg.Report.Chart {
		sinks = append(sinks, &export.ChartSink{
			Fs:    fs,
			Path:  filepath.Join(runCtx.RunDir(), "summary.html"),
			Top:   cfg.Report.Top,
			Title: "Exception categories " + runCtx.Today.Format(dateFlagFormat),
		})
	}

	return sinks
}
