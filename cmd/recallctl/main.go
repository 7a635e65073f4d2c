// Package main implements recallctl, the admin CLI for recalld's control
// plane: tenant lifecycle, grants, enforcement phases, audits, and
// maintenance jobs. It talks directly to Postgres, not to a running
// daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mnemolabs/recalld/internal/config"
	"github.com/mnemolabs/recalld/internal/logging"
	"github.com/mnemolabs/recalld/internal/postgres"
	"github.com/mnemolabs/recalld/internal/registry"
)

var (
	// version information (set via ldflags during build)
	version = "dev"

	// persistent flags
	configPath  string
	databaseURL string
	verbose     bool
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("51"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("45"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errStyle.Render("error: ")+err.Error())
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "recallctl",
	Short: "Admin CLI for the recalld control plane",
	Long: `recallctl manages recalld tenants, grants, enforcement phases, and
audit history directly against Postgres.

The database is resolved from --database-url, then from the recalld
config file (--config or the default path), honoring RECALLD_* overrides.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to recalld config file")
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "Postgres URL (overrides the config file)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log store internals to stdout")
}

// loadConfig resolves the effective daemon config, letting --database-url
// stand in for a config file entirely.
func loadConfig() (*config.Config, error) {
	if databaseURL != "" {
		cfg := &config.Config{}
		cfg.Postgres.URL = databaseURL
		cfg.ApplyDefaults()
		return cfg, nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func cliLogger() *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	logger, err := logging.New(logging.Config{Level: "debug", Format: "console"})
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// openStore connects using the resolved config. Callers own Close.
func openStore(ctx context.Context) (*postgres.Store, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	store, err := postgres.New(ctx, cfg.Postgres, cliLogger())
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	return store, cfg, nil
}

func openRegistry(ctx context.Context) (*postgres.Store, *registry.Service, error) {
	store, _, err := openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	return store, registry.NewService(store.Pool(), cliLogger()), nil
}

func cmdContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 30*time.Second)
}

func printKV(label, value string) {
	fmt.Printf("%s %s\n", labelStyle.Render(fmt.Sprintf("%-12s", label+":")), value)
}

func phaseStyled(phase string) string {
	switch phase {
	case "pending":
		return dimStyle.Render(phase)
	case "shadow":
		return warnStyle.Render(phase)
	case "enforcing", "complete":
		return okStyle.Render(phase)
	default:
		return phase
	}
}

func formatTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}
