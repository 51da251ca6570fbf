package engine

import (
	"sort"
	"time"

	"github.com/dealflowhq/dealflow/internal/db"
	"github.com/google/uuid"
)

// Expansion holds one template's expanded workflow instance and its task
// batch, ready to persist atomically.
type Expansion struct {
	Instance *db.WorkflowInstance
	Tasks    []db.TaskInstance
}

// ExpandContext carries the denormalized record context copied onto every
// expanded row.
type ExpandContext struct {
	RecordType db.RecordType
	RecordID   string
	ProjectID  string
	EntityID   string
}

// ExpandTemplate expands one matched template into a workflow instance and
// its ordered task instances. Returns nil for a template with no tasks: an
// empty workflow instance is never created.
//
// Each task's initial status is computed from two independent blocking
// conditions, either one sufficient: an explicit dependency on another
// template task, or any gate task at a strictly smaller sort order. Gates
// never block themselves. Due dates are trigger time plus the task's day
// offset; negative offsets are allowed and produce already-overdue tasks.
func ExpandTemplate(tmpl db.WorkflowTemplate, tasks []db.TemplateTask, roles RoleAssignmentMap, triggerTime time.Time, ec ExpandContext) *Expansion {
	if len(tasks) == 0 {
		return nil
	}

	ordered := make([]db.TemplateTask, len(tasks))
	copy(ordered, tasks)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].SortOrder < ordered[j].SortOrder
	})

	// The smallest sort order among gate tasks; everything after it starts
	// blocked.
	firstGateSort := -1
	hasGate := false
	for _, t := range ordered {
		if t.IsGate {
			firstGateSort = t.SortOrder
			hasGate = true
			break
		}
	}

	inst := &db.WorkflowInstance{
		ID:          "WF-" + uuid.New().String()[:8],
		TemplateID:  tmpl.ID,
		RecordType:  string(ec.RecordType),
		RecordID:    ec.RecordID,
		ProjectID:   ec.ProjectID,
		EntityID:    ec.EntityID,
		Name:        tmpl.Name,
		Status:      db.StatusActive,
		TriggerDate: triggerTime,
		ProgressPct: 0,
	}

	instances := make([]db.TaskInstance, 0, len(ordered))
	for _, t := range ordered {
		status := db.StatusActive
		if t.DependsOn != "" || (hasGate && t.SortOrder > firstGateSort) {
			status = db.StatusBlocked
		}

		assignedTo := roles[t.AssignedRole]

		instances = append(instances, db.TaskInstance{
			ID:                 "TI-" + uuid.New().String()[:8],
			WorkflowInstanceID: inst.ID,
			TemplateTaskID:     t.ID,
			Name:               t.Name,
			Description:        t.Description,
			Phase:              t.Phase,
			Status:             status,
			AssignedTo:         assignedTo,
			AssignedRole:       t.AssignedRole,
			DueDate:            triggerTime.Add(time.Duration(t.DueDays) * 24 * time.Hour),
			IsGate:             t.IsGate,
			RecordType:         string(ec.RecordType),
			RecordID:           ec.RecordID,
			ProjectID:          ec.ProjectID,
			SortOrder:          t.SortOrder,
		})
	}

	return &Expansion{Instance: inst, Tasks: instances}
}
