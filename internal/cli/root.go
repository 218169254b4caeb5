// Package cli provides the command-line interface for sqlchat.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/sqlchat-go/internal/client"
	"github.com/raphaelgruber/sqlchat-go/internal/config"
	"github.com/raphaelgruber/sqlchat-go/internal/metrics"
	"github.com/raphaelgruber/sqlchat-go/internal/models"
	"github.com/raphaelgruber/sqlchat-go/internal/tokenstore"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose     bool
	showStats   bool
	projectFlag string

	// Global config and clients
	cfg       config.Config
	logger    *slog.Logger
	closeLog  func() error
	tokens    *tokenstore.Store
	apiClient *client.Client
	collector *metrics.Collector
)

// errNotLoggedIn is returned by commands that need a token when none is stored.
var errNotLoggedIn = errors.New("not logged in, run 'sqlchat login'")

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "sqlchat",
	Short: "Chat with your database in natural language",
	Long: `sqlchat is a terminal client for the SQL assistant backend.

Upload schema metadata, business rules and reference documents to a project,
then ask questions in plain language. The assistant writes and runs the SQL
and explains the result. Purchase order workflows started from chat are
followed live over a WebSocket connection.

Configuration comes from SQLCHAT_* environment variables, optionally
layered over a YAML file named by SQLCHAT_CONFIG.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip setup for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		level := cfg.LogLevel
		if verbose {
			level = slog.LevelDebug
		}
		logger, closeLog = config.SetupLogger(cfg.LogFile, level, !verbose)
		slog.SetDefault(logger)

		tokens, err = tokenstore.New(cfg.TokenFile)
		if err != nil {
			return fmt.Errorf("open token store: %w", err)
		}
		if tokens.Expired(time.Now()) {
			logger.Info("stored token has expired, clearing it")
			_ = tokens.Clear()
		}

		collector = metrics.NewCollector()
		apiClient = client.New(cfg.APIURL, tokens,
			client.WithTimeout(cfg.ClientTimeout),
			client.WithMetrics(collector),
			client.WithLogger(logger),
			client.WithUnauthorizedHandler(func() {
				if err := tokens.Clear(); err != nil {
					logger.Warn("failed to clear token", "error", err)
				}
			}),
		)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if showStats && collector != nil {
			printClientStats(collector.Snapshot())
		}
		if closeLog != nil {
			if err := closeLog(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// Interrupts cancel the command context.
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := rootCmd.ExecuteContext(ctx)
	return friendlyError(err)
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&showStats, "stats", false, "print request statistics on exit")
	rootCmd.PersistentFlags().StringVarP(&projectFlag, "project", "p", "", "project ID or name")

	// Add subcommands
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(projectsCmd)
	rootCmd.AddCommand(docsCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(posCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(pdfCmd)
}

// friendlyError rewrites errors the user can act on.
func friendlyError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, client.ErrUnauthorized):
		return errors.New("session expired, run 'sqlchat login'")
	case errors.Is(err, context.Canceled):
		return errors.New("interrupted")
	}
	return err
}

// requireLogin fails fast when no token is stored.
func requireLogin() error {
	if tokens == nil || tokens.Token() == "" {
		return errNotLoggedIn
	}
	return nil
}

// resolveProject finds the project named by --project (ID or name). Without
// the flag a single existing project is chosen automatically.
func resolveProject(ctx context.Context) (models.Project, error) {
	if err := requireLogin(); err != nil {
		return models.Project{}, err
	}
	projects, err := apiClient.ListProjects(ctx)
	if err != nil {
		return models.Project{}, fmt.Errorf("list projects: %w", err)
	}
	return pickProject(projects, projectFlag)
}

func pickProject(projects []models.Project, ref string) (models.Project, error) {
	if ref == "" {
		switch len(projects) {
		case 0:
			return models.Project{}, errors.New("no projects yet, create one with 'sqlchat projects create <name>'")
		case 1:
			return projects[0], nil
		default:
			return models.Project{}, errors.New("several projects exist, choose one with --project")
		}
	}
	for _, p := range projects {
		if p.ID == ref {
			return p, nil
		}
	}
	var match []models.Project
	for _, p := range projects {
		if strings.EqualFold(p.Name, ref) {
			match = append(match, p)
		}
	}
	switch len(match) {
	case 0:
		return models.Project{}, fmt.Errorf("project not found: %s", ref)
	case 1:
		return match[0], nil
	default:
		return models.Project{}, fmt.Errorf("project name %q is ambiguous, use the ID", ref)
	}
}

// printClientStats displays request statistics collected during the command.
func printClientStats(snap metrics.Snapshot) {
	fmt.Fprintf(os.Stderr, "\nClient Statistics\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "Uptime: %.1f seconds\n", snap.UptimeSeconds)

	for _, op := range snap.Operations {
		fmt.Fprintf(os.Stderr, "\n%s:\n", op.Name)
		fmt.Fprintf(os.Stderr, "  Calls: %d (%d failed), Total: %dms\n", op.Count, op.Failures, op.TotalTimeMs)
		fmt.Fprintf(os.Stderr, "  Time: avg %.1fms, min %dms, max %dms\n", op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
	}

	if len(snap.Counters) > 0 {
		fmt.Fprintf(os.Stderr, "\nCounters:\n")
		for _, name := range sortedKeys(snap.Counters) {
			fmt.Fprintf(os.Stderr, "  %s: %d\n", name, snap.Counters[name])
		}
	}
}
