// Package cli implements the fitsync command line.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/fitsync/backend/internal/config"
	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
	"github.com/kimhsiao/fitsync/backend/internal/logging"
)

var (
	// Global flags
	configPath   string
	outputFormat string

	// cfg is loaded before every command runs.
	cfg *config.Config
)

// rootCmd is the root command for fitsync.
var rootCmd = &cobra.Command{
	Use:     "fitsync",
	Version: "dev",
	Short:   "Offline-first workout log with background sync",
	Long: `fitsync records exercises and workouts in a local database and
synchronizes them with the workout API whenever it is reachable.

Every change is written locally first and queued in an outbox; "fitsync sync"
pushes the outbox and pulls remote changes.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logging.Sync()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Path to a YAML config file")
	flags.String("data-dir", "", "Directory holding the local database")
	flags.String("owner", "", "Owner (user) id for new records and sync")
	flags.StringVarP(&outputFormat, "output", "o", "text", "Output format: text, json or yaml")

	rootCmd.AddGroup(
		&cobra.Group{ID: "records", Title: "Records:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "admin", Title: "Administration:"},
	)
}

// loadConfig merges defaults, the config file, FITSYNC_* variables and flags.
func loadConfig(cmd *cobra.Command) error {
	switch outputFormat {
	case "text", "json", "yaml":
	default:
		return apperrors.Newf(apperrors.ErrValidation, "unknown output format %q", outputFormat)
	}

	v := config.NewViper()
	flags := cmd.Flags()
	if err := v.BindPFlag("data_dir", flags.Lookup("data-dir")); err != nil {
		return err
	}
	if err := v.BindPFlag("owner_id", flags.Lookup("owner")); err != nil {
		return err
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return apperrors.Wrap(apperrors.ErrConfig, "failed to read config file", err)
		}
	}

	loaded, err := config.FromViper(v)
	if err != nil {
		return err
	}
	cfg = loaded

	logCfg := cfg.LoggingConfig()
	logCfg.Out = os.Stderr
	return logging.Init(logCfg)
}

// SetVersion sets the version printed by --version.
func SetVersion(v string) {
	if v == "" {
		return
	}
	rootCmd.Version = v
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
