package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// newInstancesCmd creates the instances command group.
func newInstancesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instances",
		Short: "Inspect created workflow instances",
	}
	cmd.AddCommand(newInstancesListCmd())
	cmd.AddCommand(newInstancesShowCmd())
	return cmd
}

func newInstancesListCmd() *cobra.Command {
	var recordType, recordID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflow instances",
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

			instances, err := d.ListWorkflowInstances(cmd.Context(), recordType, recordID)
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(instances)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tRECORD\tSTATUS\tTRIGGERED")
			for _, inst := range instances {
				fmt.Fprintf(w, "%s\t%s\t%s/%s\t%s\t%s\n",
					inst.ID, inst.Name, inst.RecordType, inst.RecordID,
					inst.Status, inst.TriggerDate.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&recordType, "record-type", "", "filter by record type")
	cmd.Flags().StringVar(&recordID, "record", "", "filter by record id")
	return cmd
}

func newInstancesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <instance-id>",
		Short: "Show a workflow instance and its tasks",
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

			inst, err := d.GetWorkflowInstance(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if inst == nil {
				return fmt.Errorf("workflow instance not found: %s", args[0])
			}

			tasks, err := d.ListTaskInstances(cmd.Context(), inst.ID)
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(map[string]any{
					"instance": inst,
					"tasks":    tasks,
				})
			}

			fmt.Printf("%s  %s\n", inst.ID, inst.Name)
			fmt.Printf("Record: %s/%s  Project: %s  Status: %s  Progress: %.0f%%\n\n",
				inst.RecordType, inst.RecordID, inst.ProjectID, inst.Status, inst.ProgressPct)

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ORDER\tNAME\tSTATUS\tASSIGNED TO\tROLE\tDUE\tGATE")
			for _, t := range tasks {
				assigned := t.AssignedTo
				if assigned == "" {
					assigned = "-"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%v\n",
					t.SortOrder, t.Name, t.Status, assigned, t.AssignedRole,
					t.DueDate.Format("2006-01-02"), t.IsGate)
			}
			return w.Flush()
		},
	}
}
