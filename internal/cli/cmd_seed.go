package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newSeedCmd creates the seed command.
func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <templates.yaml>",
		Short: "Load workflow templates from a YAML file",
		Args:  cobra.ExactArgs(1),
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

			n, err := d.SeedTemplatesFromFile(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("seed templates: %w", err)
			}

			fmt.Printf("Seeded %d workflow template(s)\n", n)
			return nil
		},
	}
}
