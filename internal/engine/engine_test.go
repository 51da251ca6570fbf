package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dealflowhq/dealflow/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore implements RecordStore over in-memory fixtures.
type fakeStore struct {
	records         map[string]*db.TrackedRecord // keyed by type/id
	projectTypes    map[string]string
	projectByOpp    map[string]string
	templates       []db.WorkflowTemplate
	tasks           map[string][]db.TemplateTask // keyed by template id
	userAssignments map[string][]db.UserAssignment
	teamAssignments map[string][]db.TeamAssignment
	teamLeads       map[string]*db.User

	tasksErr map[string]error // per-template load failure

	mu              sync.Mutex
	assignmentCalls int
}

func key(rt db.RecordType, id string) string { return string(rt) + "/" + id }

func (f *fakeStore) GetTrackedRecord(_ context.Context, rt db.RecordType, id string) (*db.TrackedRecord, error) {
	return f.records[key(rt, id)], nil
}

func (f *fakeStore) GetProjectType(_ context.Context, projectID string) (string, error) {
	return f.projectTypes[projectID], nil
}

func (f *fakeStore) FindProjectIDByOpportunity(_ context.Context, opportunityID string) (string, error) {
	return f.projectByOpp[opportunityID], nil
}

func (f *fakeStore) ListActiveTemplates(_ context.Context, table, value string) ([]db.WorkflowTemplate, error) {
	var out []db.WorkflowTemplate
	for _, t := range f.templates {
		if t.IsActive && t.TriggerTable == table && t.TriggerValue == value {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) ListTemplateTasks(_ context.Context, templateID string) ([]db.TemplateTask, error) {
	if err := f.tasksErr[templateID]; err != nil {
		return nil, err
	}
	return f.tasks[templateID], nil
}

func (f *fakeStore) ListUserAssignments(_ context.Context, rt db.RecordType, id string) ([]db.UserAssignment, error) {
	f.mu.Lock()
	f.assignmentCalls++
	f.mu.Unlock()
	return f.userAssignments[key(rt, id)], nil
}

func (f *fakeStore) ListTeamAssignments(_ context.Context, rt db.RecordType, id string) ([]db.TeamAssignment, error) {
	return f.teamAssignments[key(rt, id)], nil
}

func (f *fakeStore) GetTeamLead(_ context.Context, teamID string) (*db.User, error) {
	return f.teamLeads[teamID], nil
}

// fakeInstanceStore records persisted expansions and can fail selectively.
type fakeInstanceStore struct {
	mu        sync.Mutex
	instances []*db.WorkflowInstance
	tasks     map[string][]db.TaskInstance
	failFor   map[string]error // keyed by template id
}

func newFakeInstanceStore() *fakeInstanceStore {
	return &fakeInstanceStore{tasks: make(map[string][]db.TaskInstance), failFor: make(map[string]error)}
}

func (f *fakeInstanceStore) CreateInstanceWithTasks(_ context.Context, inst *db.WorkflowInstance, tasks []db.TaskInstance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[inst.TemplateID]; err != nil {
		return err
	}
	f.instances = append(f.instances, inst)
	f.tasks[inst.ID] = tasks
	return nil
}

func (f *fakeInstanceStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.instances)
}

var testClock = func() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func newTestEngine(store *fakeStore, instances *fakeInstanceStore, opts ...Option) *Engine {
	opts = append([]Option{WithClock(testClock)}, opts...)
	return New(store, instances, slog.Default(), opts...)
}

func TestInstantiateWorkflows_GateScenario(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		records: map[string]*db.TrackedRecord{
			"project/P1": {Type: db.RecordTypeProject, ID: "P1", Name: "Maple St", Status: "Active", ProjectType: "Scattered Lot"},
		},
		templates: []db.WorkflowTemplate{
			{ID: "WT-1", Name: "Kickoff", TriggerTable: "projects", TriggerValue: "Active", ProjectType: "all", IsActive: true},
		},
		tasks: map[string][]db.TemplateTask{
			"WT-1": {
				{ID: "TT-A", TemplateID: "WT-1", Name: "A", DueDays: 0, SortOrder: 0},
				{ID: "TT-B", TemplateID: "WT-1", Name: "B", IsGate: true, DueDays: 3, SortOrder: 1},
				{ID: "TT-C", TemplateID: "WT-1", Name: "C", DueDays: 7, SortOrder: 2},
			},
		},
	}
	instances := newFakeInstanceStore()
	eng := newTestEngine(store, instances)

	result, err := eng.InstantiateWorkflows(context.Background(), TriggerEvent{
		SourceTable: "projects", RecordID: "P1", NewStatus: "Active",
	})
	require.NoError(t, err)
	require.Len(t, result.CreatedInstanceIDs, 1)
	require.Equal(t, 1, instances.count())

	tasks := instances.tasks[result.CreatedInstanceIDs[0]]
	require.Len(t, tasks, 3)

	// A runs immediately, the gate B is never self-blocking, and C starts
	// blocked behind B.
	assert.Equal(t, db.StatusActive, tasks[0].Status)
	assert.Equal(t, db.StatusActive, tasks[1].Status)
	assert.Equal(t, db.StatusBlocked, tasks[2].Status)

	trigger := testClock()
	assert.Equal(t, trigger, tasks[0].DueDate)
	assert.Equal(t, trigger.Add(3*24*time.Hour), tasks[1].DueDate)
	assert.Equal(t, trigger.Add(7*24*time.Hour), tasks[2].DueDate)

	inst := instances.instances[0]
	assert.Equal(t, db.StatusActive, inst.Status)
	assert.Equal(t, float64(0), inst.ProgressPct)
	assert.Equal(t, trigger, inst.TriggerDate)
	assert.Equal(t, "project", inst.RecordType)
	assert.Equal(t, "P1", inst.RecordID)
}

func TestInstantiateWorkflows_NoMatchingTemplates(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		records: map[string]*db.TrackedRecord{
			"project/P1": {Type: db.RecordTypeProject, ID: "P1", Status: "Active"},
		},
	}
	instances := newFakeInstanceStore()
	eng := newTestEngine(store, instances)

	result, err := eng.InstantiateWorkflows(context.Background(), TriggerEvent{
		SourceTable: "projects", RecordID: "P1", NewStatus: "Active",
	})
	require.NoError(t, err)
	assert.Empty(t, result.CreatedInstanceIDs)
	assert.Equal(t, 0, instances.count())
}

func TestInstantiateWorkflows_ProjectTypeNormalization(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		records: map[string]*db.TrackedRecord{
			"project/P1": {Type: db.RecordTypeProject, ID: "P1", Status: "Active", ProjectType: "Scattered Lot"},
		},
		templates: []db.WorkflowTemplate{
			{ID: "WT-1", Name: "Scattered", TriggerTable: "projects", TriggerValue: "Active", ProjectType: "scattered_lot", IsActive: true},
			{ID: "WT-2", Name: "Infill", TriggerTable: "projects", TriggerValue: "Active", ProjectType: "infill", IsActive: true},
		},
		tasks: map[string][]db.TemplateTask{
			"WT-1": {{ID: "TT-1", TemplateID: "WT-1", Name: "Only", SortOrder: 0}},
			"WT-2": {{ID: "TT-2", TemplateID: "WT-2", Name: "Other", SortOrder: 0}},
		},
	}
	instances := newFakeInstanceStore()
	eng := newTestEngine(store, instances)

	result, err := eng.InstantiateWorkflows(context.Background(), TriggerEvent{
		SourceTable: "projects", RecordID: "P1", NewStatus: "Active",
	})
	require.NoError(t, err)
	require.Len(t, result.CreatedInstanceIDs, 1)
	assert.Equal(t, "WT-1", instances.instances[0].TemplateID)
}

func TestInstantiateWorkflows_InvalidTrigger(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(&fakeStore{}, newFakeInstanceStore())

	_, err := eng.InstantiateWorkflows(context.Background(), TriggerEvent{
		SourceTable: "projects",
	})
	var invalidErr *InvalidTriggerError
	require.ErrorAs(t, err, &invalidErr)
	assert.Contains(t, invalidErr.Missing, "record_id")
	assert.Contains(t, invalidErr.Missing, "new_status")
}

func TestInstantiateWorkflows_UnsupportedTable(t *testing.T) {
	t.Parallel()

	instances := newFakeInstanceStore()
	eng := newTestEngine(&fakeStore{}, instances)

	_, err := eng.InstantiateWorkflows(context.Background(), TriggerEvent{
		SourceTable: "invoices", RecordID: "I1", NewStatus: "Paid",
	})
	var unsupportedErr *UnsupportedTableError
	require.ErrorAs(t, err, &unsupportedErr)
	assert.Equal(t, "invoices", unsupportedErr.SourceTable)
	assert.Equal(t, 0, instances.count())
}

func TestInstantiateWorkflows_RecordNotFound(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(&fakeStore{}, newFakeInstanceStore())

	_, err := eng.InstantiateWorkflows(context.Background(), TriggerEvent{
		SourceTable: "projects", RecordID: "P404", NewStatus: "Active",
	})
	var notFoundErr *RecordNotFoundError
	require.ErrorAs(t, err, &notFoundErr)
	assert.Equal(t, "P404", notFoundErr.RecordID)
}

func TestInstantiateWorkflows_PartialFailureIsolation(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		records: map[string]*db.TrackedRecord{
			"project/P1": {Type: db.RecordTypeProject, ID: "P1", Status: "Active"},
		},
		templates: []db.WorkflowTemplate{
			{ID: "WT-1", Name: "First", TriggerTable: "projects", TriggerValue: "Active", ProjectType: "all", IsActive: true},
			{ID: "WT-2", Name: "Second", TriggerTable: "projects", TriggerValue: "Active", ProjectType: "all", IsActive: true},
		},
		tasks: map[string][]db.TemplateTask{
			"WT-1": {{ID: "TT-1", TemplateID: "WT-1", Name: "One", SortOrder: 0}},
			"WT-2": {{ID: "TT-2", TemplateID: "WT-2", Name: "Two", SortOrder: 0}},
		},
	}
	instances := newFakeInstanceStore()
	instances.failFor["WT-1"] = errors.New("disk full")

	eng := newTestEngine(store, instances)

	result, err := eng.InstantiateWorkflows(context.Background(), TriggerEvent{
		SourceTable: "projects", RecordID: "P1", NewStatus: "Active",
	})
	require.NoError(t, err)
	require.Len(t, result.CreatedInstanceIDs, 1)
	assert.Equal(t, 1, result.SkippedTemplates)
	assert.Equal(t, "WT-2", instances.instances[0].TemplateID)
}

func TestInstantiateWorkflows_TemplateLoadFailureSkipped(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		records: map[string]*db.TrackedRecord{
			"project/P1": {Type: db.RecordTypeProject, ID: "P1", Status: "Active"},
		},
		templates: []db.WorkflowTemplate{
			{ID: "WT-1", Name: "Broken", TriggerTable: "projects", TriggerValue: "Active", ProjectType: "all", IsActive: true},
			{ID: "WT-2", Name: "Fine", TriggerTable: "projects", TriggerValue: "Active", ProjectType: "all", IsActive: true},
		},
		tasks: map[string][]db.TemplateTask{
			"WT-2": {{ID: "TT-2", TemplateID: "WT-2", Name: "Two", SortOrder: 0}},
		},
		tasksErr: map[string]error{"WT-1": errors.New("corrupt template")},
	}
	instances := newFakeInstanceStore()
	eng := newTestEngine(store, instances)

	result, err := eng.InstantiateWorkflows(context.Background(), TriggerEvent{
		SourceTable: "projects", RecordID: "P1", NewStatus: "Active",
	})
	require.NoError(t, err)
	require.Len(t, result.CreatedInstanceIDs, 1)
	assert.Equal(t, 1, result.SkippedTemplates)
}

func TestInstantiateWorkflows_EmptyTemplateSkippedSilently(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		records: map[string]*db.TrackedRecord{
			"project/P1": {Type: db.RecordTypeProject, ID: "P1", Status: "Active"},
		},
		templates: []db.WorkflowTemplate{
			{ID: "WT-1", Name: "Empty", TriggerTable: "projects", TriggerValue: "Active", ProjectType: "all", IsActive: true},
		},
		tasks: map[string][]db.TemplateTask{},
	}
	instances := newFakeInstanceStore()
	eng := newTestEngine(store, instances)

	result, err := eng.InstantiateWorkflows(context.Background(), TriggerEvent{
		SourceTable: "projects", RecordID: "P1", NewStatus: "Active",
	})
	require.NoError(t, err)
	assert.Empty(t, result.CreatedInstanceIDs)
	assert.Equal(t, 0, result.SkippedTemplates)
	assert.Equal(t, 0, instances.count())
}

func TestInstantiateWorkflows_SharedRoleResolution(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		records: map[string]*db.TrackedRecord{
			"project/P1": {Type: db.RecordTypeProject, ID: "P1", Status: "Active"},
		},
		templates: []db.WorkflowTemplate{
			{ID: "WT-1", Name: "First", TriggerTable: "projects", TriggerValue: "Active", ProjectType: "all", IsActive: true},
			{ID: "WT-2", Name: "Second", TriggerTable: "projects", TriggerValue: "Active", ProjectType: "all", IsActive: true},
		},
		tasks: map[string][]db.TemplateTask{
			"WT-1": {{ID: "TT-1", TemplateID: "WT-1", Name: "One", AssignedRole: "pm", SortOrder: 0}},
			"WT-2": {{ID: "TT-2", TemplateID: "WT-2", Name: "Two", AssignedRole: "pm", SortOrder: 0}},
		},
		userAssignments: map[string][]db.UserAssignment{
			"project/P1": {{RecordType: "project", RecordID: "P1", UserID: "U-1", RoleLabel: "Project Manager"}},
		},
	}
	instances := newFakeInstanceStore()
	eng := newTestEngine(store, instances)

	result, err := eng.InstantiateWorkflows(context.Background(), TriggerEvent{
		SourceTable: "projects", RecordID: "P1", NewStatus: "Active",
	})
	require.NoError(t, err)
	require.Len(t, result.CreatedInstanceIDs, 2)

	// Role assignments are computed once per trigger, shared by templates.
	assert.Equal(t, 1, store.assignmentCalls)
	for _, id := range result.CreatedInstanceIDs {
		require.Len(t, instances.tasks[id], 1)
		assert.Equal(t, "U-1", instances.tasks[id][0].AssignedTo)
	}
}

func TestInstantiateWorkflows_ExplicitOccurredAt(t *testing.T) {
	t.Parallel()

	occurred := time.Date(2025, 1, 15, 8, 30, 0, 0, time.UTC)
	store := &fakeStore{
		records: map[string]*db.TrackedRecord{
			"job/J1": {Type: db.RecordTypeJob, ID: "J1", Status: "Started"},
		},
		templates: []db.WorkflowTemplate{
			{ID: "WT-1", Name: "Job start", TriggerTable: "jobs", TriggerValue: "Started", ProjectType: "all", IsActive: true},
		},
		tasks: map[string][]db.TemplateTask{
			"WT-1": {{ID: "TT-1", TemplateID: "WT-1", Name: "One", DueDays: -2, SortOrder: 0}},
		},
	}
	instances := newFakeInstanceStore()
	eng := newTestEngine(store, instances)

	result, err := eng.InstantiateWorkflows(context.Background(), TriggerEvent{
		SourceTable: "jobs", RecordID: "J1", NewStatus: "Started", OccurredAt: occurred,
	})
	require.NoError(t, err)
	require.Len(t, result.CreatedInstanceIDs, 1)

	task := instances.tasks[result.CreatedInstanceIDs[0]][0]
	assert.Equal(t, occurred.Add(-2*24*time.Hour), task.DueDate)
	assert.Equal(t, occurred, instances.instances[0].TriggerDate)
}
