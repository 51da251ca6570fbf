package db

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TemplateFile is the YAML document format for seeding workflow templates.
type TemplateFile struct {
	Templates []TemplateSpec `yaml:"templates"`
}

// TemplateSpec defines one workflow template in a seed file.
type TemplateSpec struct {
	Name         string     `yaml:"name"`
	TriggerTable string     `yaml:"trigger_table"`
	TriggerValue string     `yaml:"trigger_value"`
	ProjectType  string     `yaml:"project_type"`
	Active       *bool      `yaml:"active"` // defaults to true
	Tasks        []TaskSpec `yaml:"tasks"`
}

// TaskSpec defines one template task. Tasks are ordered as written; the
// list position becomes sort_order. DependsOn names another task in the
// same template.
type TaskSpec struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Phase       string `yaml:"phase"`
	Role        string `yaml:"role"`
	DueDays     int    `yaml:"due_days"`
	Gate        bool   `yaml:"gate"`
	DependsOn   string `yaml:"depends_on"`
}

// ParseTemplateFile parses a YAML seed document.
func ParseTemplateFile(data []byte) (*TemplateFile, error) {
	var tf TemplateFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse template file: %w", err)
	}
	for i, t := range tf.Templates {
		if t.Name == "" || t.TriggerTable == "" || t.TriggerValue == "" {
			return nil, fmt.Errorf("template %d: name, trigger_table, and trigger_value are required", i)
		}
	}
	return &tf, nil
}

// SeedTemplates inserts the templates in a seed file, resolving depends_on
// references by task name within each template. Returns the number of
// templates created.
func (d *DB) SeedTemplates(ctx context.Context, tf *TemplateFile) (int, error) {
	created := 0
	for i := range tf.Templates {
		spec := &tf.Templates[i]

		tmpl := &WorkflowTemplate{
			Name:         spec.Name,
			TriggerTable: spec.TriggerTable,
			TriggerValue: spec.TriggerValue,
			ProjectType:  spec.ProjectType,
			IsActive:     spec.Active == nil || *spec.Active,
		}
		if err := d.CreateWorkflowTemplate(ctx, tmpl); err != nil {
			return created, err
		}

		// First pass: create tasks and index their generated ids by name.
		idByName := make(map[string]string, len(spec.Tasks))
		tasks := make([]*TemplateTask, len(spec.Tasks))
		for j, ts := range spec.Tasks {
			task := &TemplateTask{
				TemplateID:   tmpl.ID,
				Name:         ts.Name,
				Description:  ts.Description,
				Phase:        ts.Phase,
				AssignedRole: ts.Role,
				DueDays:      ts.DueDays,
				IsGate:       ts.Gate,
				SortOrder:    j,
			}
			if err := d.CreateTemplateTask(ctx, task); err != nil {
				return created, err
			}
			idByName[ts.Name] = task.ID
			tasks[j] = task
		}

		// Second pass: wire dependencies now that every task has an id.
		for j, ts := range spec.Tasks {
			if ts.DependsOn == "" {
				continue
			}
			depID, ok := idByName[ts.DependsOn]
			if !ok {
				return created, fmt.Errorf("template %q task %q: depends_on %q not found",
					spec.Name, ts.Name, ts.DependsOn)
			}
			_, err := d.ExecContext(ctx,
				"UPDATE template_tasks SET depends_on = "+d.Placeholder(1)+" WHERE id = "+d.Placeholder(2),
				depID, tasks[j].ID)
			if err != nil {
				return created, fmt.Errorf("set depends_on for %q: %w", ts.Name, err)
			}
		}

		created++
	}
	return created, nil
}

// SeedTemplatesFromFile reads and seeds a YAML template file from disk.
func (d *DB) SeedTemplatesFromFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read template file: %w", err)
	}
	tf, err := ParseTemplateFile(data)
	if err != nil {
		return 0, err
	}
	return d.SeedTemplates(ctx, tf)
}
