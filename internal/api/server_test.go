package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dealflowhq/dealflow/internal/db"
	"github.com/dealflowhq/dealflow/internal/engine"
	"github.com/dealflowhq/dealflow/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *db.DB) {
	t.Helper()

	d := db.NewTestDB(t)
	eng := engine.New(d, d, slog.Default())
	srv := NewServer(eng, d, events.NopPublisher{}, slog.Default())

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, d
}

func seedFixture(t *testing.T, d *db.DB) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, d.CreateProject(ctx, &db.Project{
		ID: "P1", Name: "Maple St", ProjectType: "Scattered Lot", Status: "Pending",
	}))

	tmpl := &db.WorkflowTemplate{
		Name: "Kickoff", TriggerTable: "projects", TriggerValue: "Active",
		ProjectType: "all", IsActive: true,
	}
	require.NoError(t, d.CreateWorkflowTemplate(ctx, tmpl))
	require.NoError(t, d.CreateTemplateTask(ctx, &db.TemplateTask{
		TemplateID: tmpl.ID, Name: "Site survey", DueDays: 3, SortOrder: 0,
	}))
	require.NoError(t, d.CreateTemplateTask(ctx, &db.TemplateTask{
		TemplateID: tmpl.ID, Name: "Budget approval", IsGate: true, DueDays: 7, SortOrder: 1,
	}))
	require.NoError(t, d.CreateTemplateTask(ctx, &db.TemplateTask{
		TemplateID: tmpl.ID, Name: "Order materials", DueDays: 10, SortOrder: 2,
	}))
}

func postTrigger(t *testing.T, ts *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/triggers", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestTriggerEndpoint_CreatesWorkflow(t *testing.T) {
	t.Parallel()
	ts, d := newTestServer(t)
	seedFixture(t, d)

	resp := postTrigger(t, ts, `{
		"source_table": "projects",
		"record_id": "P1",
		"previous_status": "Pending",
		"new_status": "Active",
		"occurred_at": "2025-05-01T10:00:00Z"
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result engine.Result
	decode(t, resp, &result)
	require.Len(t, result.CreatedInstanceIDs, 1)

	// Read back through the API.
	instResp, err := http.Get(ts.URL + "/api/instances/" + result.CreatedInstanceIDs[0])
	require.NoError(t, err)
	defer func() { _ = instResp.Body.Close() }()
	require.Equal(t, http.StatusOK, instResp.StatusCode)

	var inst db.WorkflowInstance
	decode(t, instResp, &inst)
	assert.Equal(t, "Kickoff", inst.Name)
	assert.Equal(t, "P1", inst.RecordID)

	tasksResp, err := http.Get(ts.URL + "/api/instances/" + inst.ID + "/tasks")
	require.NoError(t, err)
	defer func() { _ = tasksResp.Body.Close() }()

	var tasksBody struct {
		Tasks []db.TaskInstance `json:"tasks"`
	}
	decode(t, tasksResp, &tasksBody)
	require.Len(t, tasksBody.Tasks, 3)
	assert.Equal(t, db.StatusActive, tasksBody.Tasks[0].Status)
	assert.Equal(t, db.StatusActive, tasksBody.Tasks[1].Status)
	assert.Equal(t, db.StatusBlocked, tasksBody.Tasks[2].Status, "task behind the gate")
}

func TestTriggerEndpoint_ValidationErrors(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	resp := postTrigger(t, ts, `{"source_table": "projects"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "missing fields")

	resp = postTrigger(t, ts, `{"source_table": "invoices", "record_id": "I1", "new_status": "Paid"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "unsupported table")

	resp = postTrigger(t, ts, `{"source_table": "projects", "record_id": "P404", "new_status": "Active"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "unknown record")
}

func TestTriggerEndpoint_ToleratesUnknownFields(t *testing.T) {
	t.Parallel()
	ts, d := newTestServer(t)
	seedFixture(t, d)

	resp := postTrigger(t, ts, `{
		"source_table": "projects",
		"record_id": "P1",
		"new_status": "Active",
		"webhook_id": "wh_123",
		"payload": {"nested": true}
	}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListInstances_Filtering(t *testing.T) {
	t.Parallel()
	ts, d := newTestServer(t)
	seedFixture(t, d)

	resp := postTrigger(t, ts, `{"source_table": "projects", "record_id": "P1", "new_status": "Active"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	listResp, err := http.Get(ts.URL + "/api/instances?record_type=project&record_id=P1")
	require.NoError(t, err)
	defer func() { _ = listResp.Body.Close() }()

	var body struct {
		Instances []db.WorkflowInstance `json:"instances"`
	}
	decode(t, listResp, &body)
	assert.Len(t, body.Instances, 1)

	emptyResp, err := http.Get(ts.URL + "/api/instances?record_type=job")
	require.NoError(t, err)
	defer func() { _ = emptyResp.Body.Close() }()
	decode(t, emptyResp, &body)
	assert.Empty(t, body.Instances)
}

func TestGetInstance_NotFound(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/instances/WF-404")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
