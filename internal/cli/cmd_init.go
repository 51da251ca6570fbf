package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newInitCmd creates the init command.
func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create and migrate the dealflow database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			d, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			fmt.Printf("Database ready (%s: %s)\n", cfg.Database.Dialect, cfg.Database.DSN)
			return nil
		},
	}
}
