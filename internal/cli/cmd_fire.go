package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dealflowhq/dealflow/internal/engine"
	"github.com/spf13/cobra"
)

// newFireCmd creates the fire command, which delivers one trigger event to
// the engine. With --apply the record's status column is updated first, so
// the command behaves like the status change that would fire the trigger
// in a wired-up deployment.
func newFireCmd() *cobra.Command {
	var (
		table      string
		recordID   string
		newStatus  string
		prevStatus string
		apply      bool
	)

	cmd := &cobra.Command{
		Use:   "fire",
		Short: "Fire a status-change trigger event",
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

			logger := newLogger()
			eng := engine.New(d, d, logger,
				engine.WithRolePatterns(rolePatterns(cfg)),
				engine.WithLookupTimeout(cfg.Engine.LookupTimeout),
				engine.WithParallelism(cfg.Engine.Parallelism),
			)

			event := engine.TriggerEvent{
				SourceTable:    table,
				RecordID:       recordID,
				PreviousStatus: prevStatus,
				NewStatus:      newStatus,
			}

			if apply {
				recordType, ok := engine.DefaultTableMap()[table]
				if !ok {
					return fmt.Errorf("unsupported source table: %q", table)
				}
				if err := d.UpdateRecordStatus(cmd.Context(), recordType, recordID, newStatus); err != nil {
					return err
				}
			}

			result, err := eng.InstantiateWorkflows(cmd.Context(), event)
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(result)
			}

			fmt.Println(result.Message)
			for _, id := range result.CreatedInstanceIDs {
				fmt.Printf("  %s\n", id)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&table, "table", "", "source table (projects, opportunities, jobs, dispositions)")
	cmd.Flags().StringVar(&recordID, "record", "", "triggering record id")
	cmd.Flags().StringVar(&newStatus, "status", "", "new status value")
	cmd.Flags().StringVar(&prevStatus, "prev-status", "", "previous status value")
	cmd.Flags().BoolVar(&apply, "apply", false, "update the record's status column before firing")
	_ = cmd.MarkFlagRequired("table")
	_ = cmd.MarkFlagRequired("record")
	_ = cmd.MarkFlagRequired("status")

	return cmd
}
