// Package cli implements the dealflow command-line interface.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/dealflowhq/dealflow/internal/config"
	"github.com/dealflowhq/dealflow/internal/db"
	"github.com/dealflowhq/dealflow/internal/db/driver"
	"github.com/dealflowhq/dealflow/internal/engine"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
	jsonOut bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "dealflow",
	Short: "Workflow instantiation engine for tracked business records",
	Long: `dealflow expands workflow templates into concrete task lists whenever a
tracked record (project, opportunity, job, disposition) changes status.

Quick start:
  dealflow init                         Create and migrate the database
  dealflow seed templates.yaml          Load workflow templates
  dealflow fire --table projects --record P1 --status Active
  dealflow instances list               Show created workflow instances
  dealflow serve                        Run the HTTP trigger API`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is dealflow.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON")

	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newSeedCmd())
	rootCmd.AddCommand(newFireCmd())
	rootCmd.AddCommand(newTemplatesCmd())
	rootCmd.AddCommand(newInstancesCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("dealflow")
	}

	viper.SetEnvPrefix("DEALFLOW")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// loadConfig loads the effective configuration for a command.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// openDB opens the configured database.
func openDB(cfg *config.Config) (*db.DB, error) {
	dialect, err := driver.ParseDialect(cfg.Database.Dialect)
	if err != nil {
		return nil, err
	}
	if dialect == driver.DialectSQLite {
		return db.Open(cfg.Database.DSN)
	}
	return db.OpenWithDialect(cfg.Database.DSN, dialect)
}

// rolePatterns returns the configured role pattern overrides, or nil to
// use the engine's built-ins.
func rolePatterns(cfg *config.Config) engine.RolePatterns {
	if len(cfg.Roles) == 0 {
		return nil
	}
	return engine.RolePatterns(cfg.Roles)
}

// newLogger builds the CLI logger, honoring --verbose.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
