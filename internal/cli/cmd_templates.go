package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// newTemplatesCmd creates the templates command group.
func newTemplatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Inspect workflow templates",
	}
	cmd.AddCommand(newTemplatesListCmd())
	cmd.AddCommand(newTemplatesShowCmd())
	return cmd
}

func newTemplatesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List workflow templates",
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

			templates, err := d.ListWorkflowTemplates(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(templates)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTRIGGER\tPROJECT TYPE\tACTIVE")
			for _, t := range templates {
				fmt.Fprintf(w, "%s\t%s\t%s=%s\t%s\t%v\n",
					t.ID, t.Name, t.TriggerTable, t.TriggerValue, t.ProjectType, t.IsActive)
			}
			return w.Flush()
		},
	}
}

func newTemplatesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <template-id>",
		Short: "Show a template and its task definitions",
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

			tmpl, err := d.GetWorkflowTemplate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if tmpl == nil {
				return fmt.Errorf("template not found: %s", args[0])
			}

			tasks, err := d.ListTemplateTasks(cmd.Context(), tmpl.ID)
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(map[string]any{
					"template": tmpl,
					"tasks":    tasks,
				})
			}

			fmt.Printf("%s  %s\n", tmpl.ID, tmpl.Name)
			fmt.Printf("Trigger: %s = %q  Project type: %s  Active: %v\n\n",
				tmpl.TriggerTable, tmpl.TriggerValue, tmpl.ProjectType, tmpl.IsActive)

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ORDER\tNAME\tPHASE\tROLE\tDUE\tGATE\tDEPENDS ON")
			for _, t := range tasks {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%+dd\t%v\t%s\n",
					t.SortOrder, t.Name, t.Phase, t.AssignedRole, t.DueDays, t.IsGate, t.DependsOn)
			}
			return w.Flush()
		},
	}
}
