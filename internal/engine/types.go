// Package engine implements workflow instantiation: when a tracked record
// transitions into a status, the engine finds applicable workflow templates,
// expands each into a concrete workflow instance (ordered tasks with due
// dates, owners, and gating), and persists the result.
package engine

import (
	"context"
	"time"

	"github.com/dealflowhq/dealflow/internal/db"
)

// TriggerEvent is the inbound notification that a tracked record's status
// changed. OccurredAt is optional; the engine's clock fills it when zero.
type TriggerEvent struct {
	SourceTable    string    `json:"source_table"`
	RecordID       string    `json:"record_id"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	NewStatus      string    `json:"new_status"`
	OccurredAt     time.Time `json:"occurred_at,omitempty"`
}

// Result summarizes one orchestrator run. SkippedTemplates counts matched
// templates that failed to load or persist; those failures never abort the
// run, so CreatedInstanceIDs can be shorter than the matched set.
type Result struct {
	CreatedInstanceIDs []string `json:"created_instance_ids"`
	SkippedTemplates   int      `json:"skipped_templates,omitempty"`
	Message            string   `json:"message"`
}

// ProjectContext is the owning-project view of a trigger, derived once per
// run. Any field may be empty: an opportunity without a project yet is a
// valid trigger.
type ProjectContext struct {
	ProjectID   string `json:"project_id,omitempty"`
	ProjectType string `json:"project_type,omitempty"`
	EntityID    string `json:"entity_id,omitempty"`
}

// RoleAssignmentMap maps a role code to the resolved user id. Built fresh
// per trigger and shared across all matched templates.
type RoleAssignmentMap map[string]string

// RecordStore is the read-only data surface the engine consumes. *db.DB
// satisfies it; tests substitute fakes.
type RecordStore interface {
	GetTrackedRecord(ctx context.Context, recordType db.RecordType, id string) (*db.TrackedRecord, error)
	GetProjectType(ctx context.Context, projectID string) (string, error)
	FindProjectIDByOpportunity(ctx context.Context, opportunityID string) (string, error)
	ListActiveTemplates(ctx context.Context, triggerTable, triggerValue string) ([]db.WorkflowTemplate, error)
	ListTemplateTasks(ctx context.Context, templateID string) ([]db.TemplateTask, error)
	ListUserAssignments(ctx context.Context, recordType db.RecordType, recordID string) ([]db.UserAssignment, error)
	ListTeamAssignments(ctx context.Context, recordType db.RecordType, recordID string) ([]db.TeamAssignment, error)
	GetTeamLead(ctx context.Context, teamID string) (*db.User, error)
}

// InstanceStore is the write-only persistence surface for expanded
// workflows. The instance row and its task batch must land atomically.
type InstanceStore interface {
	CreateInstanceWithTasks(ctx context.Context, inst *db.WorkflowInstance, tasks []db.TaskInstance) error
}

// DefaultTableMap maps trigger source tables to record types. Passed to the
// engine at construction so tests can substitute their own.
func DefaultTableMap() map[string]db.RecordType {
	return map[string]db.RecordType{
		"projects":      db.RecordTypeProject,
		"opportunities": db.RecordTypeOpportunity,
		"jobs":          db.RecordTypeJob,
		"dispositions":  db.RecordTypeDisposition,
	}
}
