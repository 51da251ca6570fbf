package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Workflow and task instance statuses.
const (
	StatusActive  = "active"
	StatusBlocked = "blocked"
)

// WorkflowInstance is one concrete expansion of a template against a
// tracked record. It is the aggregate root for its task instances.
type WorkflowInstance struct {
	ID          string    `json:"id"`
	TemplateID  string    `json:"template_id"`
	RecordType  string    `json:"record_type"`
	RecordID    string    `json:"record_id"`
	ProjectID   string    `json:"project_id,omitempty"`
	EntityID    string    `json:"entity_id,omitempty"`
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	TriggerDate time.Time `json:"trigger_date"`
	ProgressPct float64   `json:"progress_pct"`
	CreatedAt   time.Time `json:"created_at"`
}

// TaskInstance is one runnable task owned by a WorkflowInstance. Record
// context is denormalized onto each row so tasks can be queried without
// joins. AssignedTo is empty when no user resolved for the role.
type TaskInstance struct {
	ID                 string    `json:"id"`
	WorkflowInstanceID string    `json:"workflow_instance_id"`
	TemplateTaskID     string    `json:"template_task_id"`
	Name               string    `json:"name"`
	Description        string    `json:"description,omitempty"`
	Phase              string    `json:"phase,omitempty"`
	Status             string    `json:"status"`
	AssignedTo         string    `json:"assigned_to,omitempty"`
	AssignedRole       string    `json:"assigned_role,omitempty"`
	DueDate            time.Time `json:"due_date"`
	IsGate             bool      `json:"is_gate"`
	RecordType         string    `json:"record_type"`
	RecordID           string    `json:"record_id"`
	ProjectID          string    `json:"project_id,omitempty"`
	SortOrder          int       `json:"sort_order"`
}

// CreateInstanceWithTasks writes a workflow instance and its task batch in
// one transaction. Either all rows land or none do; a workflow instance
// with zero tasks is never left behind.
func (d *DB) CreateInstanceWithTasks(ctx context.Context, inst *WorkflowInstance, tasks []TaskInstance) error {
	if len(tasks) == 0 {
		return fmt.Errorf("create instance %s: no tasks", inst.ID)
	}

	return d.RunInTx(ctx, func(tx *TxOps) error {
		_, err := tx.Exec(`
			INSERT INTO workflow_instances (id, template_id, record_type, record_id,
				project_id, entity_id, name, status, trigger_date, progress_pct)
			VALUES (`+d.placeholders(10)+`)
		`, inst.ID, inst.TemplateID, inst.RecordType, inst.RecordID,
			inst.ProjectID, inst.EntityID, inst.Name, inst.Status,
			inst.TriggerDate.UTC().Format(time.RFC3339), inst.ProgressPct)
		if err != nil {
			return fmt.Errorf("insert workflow instance: %w", err)
		}

		for i := range tasks {
			t := &tasks[i]
			_, err := tx.Exec(`
				INSERT INTO task_instances (id, workflow_instance_id, template_task_id,
					name, description, phase, status, assigned_to, assigned_role,
					due_date, is_gate, record_type, record_id, project_id, sort_order)
				VALUES (`+d.placeholders(15)+`)
			`, t.ID, t.WorkflowInstanceID, t.TemplateTaskID,
				t.Name, t.Description, t.Phase, t.Status, nullable(t.AssignedTo), t.AssignedRole,
				t.DueDate.UTC().Format(time.RFC3339), t.IsGate, t.RecordType, t.RecordID,
				t.ProjectID, t.SortOrder)
			if err != nil {
				return fmt.Errorf("insert task instance %s: %w", t.Name, err)
			}
		}
		return nil
	})
}

// GetWorkflowInstance retrieves a workflow instance by id. Returns
// (nil, nil) when the instance does not exist.
func (d *DB) GetWorkflowInstance(ctx context.Context, id string) (*WorkflowInstance, error) {
	row := d.QueryRowContext(ctx, `
		SELECT id, template_id, record_type, record_id, project_id, entity_id,
			name, status, trigger_date, progress_pct, created_at
		FROM workflow_instances WHERE id = `+d.Placeholder(1), id)
	inst, err := scanWorkflowInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get workflow instance %s: %w", id, err)
	}
	return inst, nil
}

// ListWorkflowInstances returns workflow instances, optionally filtered by
// record type and id. Empty filters match everything.
func (d *DB) ListWorkflowInstances(ctx context.Context, recordType, recordID string) ([]WorkflowInstance, error) {
	query := `
		SELECT id, template_id, record_type, record_id, project_id, entity_id,
			name, status, trigger_date, progress_pct, created_at
		FROM workflow_instances WHERE 1=1`
	args := []any{}
	argIndex := 1

	if recordType != "" {
		query += fmt.Sprintf(" AND record_type = %s", d.Placeholder(argIndex))
		args = append(args, recordType)
		argIndex++
	}
	if recordID != "" {
		query += fmt.Sprintf(" AND record_id = %s", d.Placeholder(argIndex))
		args = append(args, recordID)
	}
	query += " ORDER BY created_at DESC"

	rows, err := d.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list workflow instances: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var instances []WorkflowInstance
	for rows.Next() {
		inst, err := scanWorkflowInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow instance: %w", err)
		}
		instances = append(instances, *inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workflow instances: %w", err)
	}
	return instances, nil
}

// ListTaskInstances returns the tasks of a workflow instance in sort order.
func (d *DB) ListTaskInstances(ctx context.Context, workflowInstanceID string) ([]TaskInstance, error) {
	rows, err := d.QueryContext(ctx, `
		SELECT id, workflow_instance_id, template_task_id, name, description,
			phase, status, assigned_to, assigned_role, due_date, is_gate,
			record_type, record_id, project_id, sort_order
		FROM task_instances
		WHERE workflow_instance_id = `+d.Placeholder(1)+`
		ORDER BY sort_order
	`, workflowInstanceID)
	if err != nil {
		return nil, fmt.Errorf("list task instances: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []TaskInstance
	for rows.Next() {
		var t TaskInstance
		var assignedTo sql.NullString
		var dueDate string
		if err := rows.Scan(&t.ID, &t.WorkflowInstanceID, &t.TemplateTaskID,
			&t.Name, &t.Description, &t.Phase, &t.Status, &assignedTo, &t.AssignedRole,
			&dueDate, &t.IsGate, &t.RecordType, &t.RecordID, &t.ProjectID, &t.SortOrder); err != nil {
			return nil, fmt.Errorf("scan task instance: %w", err)
		}
		t.AssignedTo = assignedTo.String
		t.DueDate = parseTimestamp(dueDate)
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task instances: %w", err)
	}
	return tasks, nil
}

// CountWorkflowInstances returns the total number of workflow instances.
// Used by tests and the CLI to verify zero-write outcomes.
func (d *DB) CountWorkflowInstances(ctx context.Context) (int, error) {
	var n int
	if err := d.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflow_instances").Scan(&n); err != nil {
		return 0, fmt.Errorf("count workflow instances: %w", err)
	}
	return n, nil
}

func scanWorkflowInstance(row rowScanner) (*WorkflowInstance, error) {
	var inst WorkflowInstance
	var triggerDate, createdAt string
	err := row.Scan(&inst.ID, &inst.TemplateID, &inst.RecordType, &inst.RecordID,
		&inst.ProjectID, &inst.EntityID, &inst.Name, &inst.Status,
		&triggerDate, &inst.ProgressPct, &createdAt)
	if err != nil {
		return nil, err
	}
	inst.TriggerDate = parseTimestamp(triggerDate)
	inst.CreatedAt = parseTimestamp(createdAt)
	return &inst, nil
}
