package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WorkflowTemplate is a reusable workflow definition. A template fires when
// a record in TriggerTable transitions to TriggerValue; ProjectType further
// restricts it to projects of one type ("all" or "" matches every type).
type WorkflowTemplate struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	TriggerTable string    `json:"trigger_table"`
	TriggerValue string    `json:"trigger_value"`
	ProjectType  string    `json:"project_type"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// TemplateTask is one ordered task definition within a template. SortOrder
// is the authoritative sequence for gate computation. DependsOn optionally
// references another template task by id.
type TemplateTask struct {
	ID           string `json:"id"`
	TemplateID   string `json:"template_id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Phase        string `json:"phase,omitempty"`
	AssignedRole string `json:"assigned_role,omitempty"`
	DueDays      int    `json:"due_days"`
	IsGate       bool   `json:"is_gate"`
	DependsOn    string `json:"depends_on,omitempty"`
	SortOrder    int    `json:"sort_order"`
}

// CreateWorkflowTemplate inserts a template row, generating an id when unset.
func (d *DB) CreateWorkflowTemplate(ctx context.Context, t *WorkflowTemplate) error {
	if t.ID == "" {
		t.ID = "WT-" + uuid.New().String()[:8]
	}
	if t.ProjectType == "" {
		t.ProjectType = "all"
	}
	_, err := d.ExecContext(ctx, `
		INSERT INTO workflow_templates (id, name, trigger_table, trigger_value, project_type, is_active)
		VALUES (`+d.placeholders(6)+`)
	`, t.ID, t.Name, t.TriggerTable, t.TriggerValue, t.ProjectType, t.IsActive)
	if err != nil {
		return fmt.Errorf("create workflow template: %w", err)
	}
	return nil
}

// CreateTemplateTask inserts a template task row, generating an id when unset.
func (d *DB) CreateTemplateTask(ctx context.Context, t *TemplateTask) error {
	if t.ID == "" {
		t.ID = "TT-" + uuid.New().String()[:8]
	}
	_, err := d.ExecContext(ctx, `
		INSERT INTO template_tasks (id, template_id, name, description, phase,
			assigned_role, due_days, is_gate, depends_on, sort_order)
		VALUES (`+d.placeholders(10)+`)
	`, t.ID, t.TemplateID, t.Name, t.Description, t.Phase,
		t.AssignedRole, t.DueDays, t.IsGate, nullable(t.DependsOn), t.SortOrder)
	if err != nil {
		return fmt.Errorf("create template task: %w", err)
	}
	return nil
}

// GetWorkflowTemplate retrieves a template by id. Returns (nil, nil) when
// the template does not exist.
func (d *DB) GetWorkflowTemplate(ctx context.Context, id string) (*WorkflowTemplate, error) {
	row := d.QueryRowContext(ctx, `
		SELECT id, name, trigger_table, trigger_value, project_type, is_active, created_at
		FROM workflow_templates WHERE id = `+d.Placeholder(1), id)
	t, err := scanWorkflowTemplate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get workflow template %s: %w", id, err)
	}
	return t, nil
}

// ListActiveTemplates returns the active templates whose trigger matches
// (triggerTable, triggerValue) exactly. Project-type filtering happens in
// the engine, after normalization.
func (d *DB) ListActiveTemplates(ctx context.Context, triggerTable, triggerValue string) ([]WorkflowTemplate, error) {
	rows, err := d.QueryContext(ctx, `
		SELECT id, name, trigger_table, trigger_value, project_type, is_active, created_at
		FROM workflow_templates
		WHERE trigger_table = `+d.Placeholder(1)+`
		  AND trigger_value = `+d.Placeholder(2)+`
		  AND is_active = `+d.Placeholder(3)+`
		ORDER BY name
	`, triggerTable, triggerValue, true)
	if err != nil {
		return nil, fmt.Errorf("list active templates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var templates []WorkflowTemplate
	for rows.Next() {
		t, err := scanWorkflowTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow template: %w", err)
		}
		templates = append(templates, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workflow templates: %w", err)
	}
	return templates, nil
}

// ListWorkflowTemplates returns all templates, active first.
func (d *DB) ListWorkflowTemplates(ctx context.Context) ([]WorkflowTemplate, error) {
	rows, err := d.QueryContext(ctx, `
		SELECT id, name, trigger_table, trigger_value, project_type, is_active, created_at
		FROM workflow_templates
		ORDER BY is_active DESC, name
	`)
	if err != nil {
		return nil, fmt.Errorf("list workflow templates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var templates []WorkflowTemplate
	for rows.Next() {
		t, err := scanWorkflowTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow template: %w", err)
		}
		templates = append(templates, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workflow templates: %w", err)
	}
	return templates, nil
}

// ListTemplateTasks returns a template's task definitions ordered by
// sort_order.
func (d *DB) ListTemplateTasks(ctx context.Context, templateID string) ([]TemplateTask, error) {
	rows, err := d.QueryContext(ctx, `
		SELECT id, template_id, name, description, phase, assigned_role,
			due_days, is_gate, depends_on, sort_order
		FROM template_tasks
		WHERE template_id = `+d.Placeholder(1)+`
		ORDER BY sort_order
	`, templateID)
	if err != nil {
		return nil, fmt.Errorf("list template tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []TemplateTask
	for rows.Next() {
		var t TemplateTask
		var dependsOn sql.NullString
		if err := rows.Scan(&t.ID, &t.TemplateID, &t.Name, &t.Description, &t.Phase,
			&t.AssignedRole, &t.DueDays, &t.IsGate, &dependsOn, &t.SortOrder); err != nil {
			return nil, fmt.Errorf("scan template task: %w", err)
		}
		t.DependsOn = dependsOn.String
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate template tasks: %w", err)
	}
	return tasks, nil
}

// SetTemplateActive toggles a template's active flag.
func (d *DB) SetTemplateActive(ctx context.Context, id string, active bool) error {
	_, err := d.ExecContext(ctx,
		"UPDATE workflow_templates SET is_active = "+d.Placeholder(1)+" WHERE id = "+d.Placeholder(2),
		active, id)
	if err != nil {
		return fmt.Errorf("set template active: %w", err)
	}
	return nil
}

func scanWorkflowTemplate(row rowScanner) (*WorkflowTemplate, error) {
	var t WorkflowTemplate
	var createdAt string
	err := row.Scan(&t.ID, &t.Name, &t.TriggerTable, &t.TriggerValue,
		&t.ProjectType, &t.IsActive, &createdAt)
	if err != nil {
		return nil, err
	}
	t.CreatedAt = parseTimestamp(createdAt)
	return &t, nil
}
