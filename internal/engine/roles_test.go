package engine

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/dealflowhq/dealflow/internal/db"
	"github.com/stretchr/testify/assert"
)

func TestMatchesRole(t *testing.T) {
	t.Parallel()

	patterns := DefaultRolePatterns()
	tests := []struct {
		label, roleCode string
		want            bool
	}{
		{"Project Manager", "pm", true},
		{"Senior PM", "pm", true},
		{"project management lead", "pm", true},
		{"Acquisition Manager", "acq_mgr", true},
		{"Acq Specialist", "acq_mgr", true},
		{"Director of Construction", "director", true},
		{"Principal", "principal", true},
		{"Owner's Rep", "principal", true},
		{"Closing Coordinator", "closing_coordinator", true},
		{"Title Agent", "closing_coordinator", true},
		{"Accountant", "pm", false},
		{"", "pm", false},
		{"Project Manager", "no_such_role", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchesRole(tt.label, tt.roleCode, patterns),
			"label %q role %q", tt.label, tt.roleCode)
	}
}

func newTestResolver(store *fakeStore) *RoleResolver {
	return NewRoleResolver(store, nil, slog.Default(), time.Second)
}

func TestRoleResolver_DirectUsersWin(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		userAssignments: map[string][]db.UserAssignment{
			"project/P1": {{RecordType: "project", RecordID: "P1", UserID: "U-1", RoleLabel: "Project Manager"}},
		},
		teamAssignments: map[string][]db.TeamAssignment{
			"project/P1": {{RecordType: "project", RecordID: "P1", TeamID: "TM-1", TeamName: "PM Pool"}},
		},
		teamLeads: map[string]*db.User{"TM-1": {ID: "U-2", DisplayName: "Lead"}},
	}

	roles := newTestResolver(store).Resolve(context.Background(), db.RecordTypeProject, "P1", "P1")
	assert.Equal(t, "U-1", roles["pm"], "a direct user beats a matching team")
}

func TestRoleResolver_TeamLeadClaimsRole(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		teamAssignments: map[string][]db.TeamAssignment{
			"project/P1": {{RecordType: "project", RecordID: "P1", TeamID: "TM-1", TeamName: "Closing Team"}},
		},
		teamLeads: map[string]*db.User{"TM-1": {ID: "U-9", DisplayName: "Coordinator"}},
	}

	roles := newTestResolver(store).Resolve(context.Background(), db.RecordTypeProject, "P1", "P1")
	assert.Equal(t, "U-9", roles["closing_coordinator"])
}

func TestRoleResolver_LeadlessTeamLeavesRoleOpen(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		teamAssignments: map[string][]db.TeamAssignment{
			"job/J1":     {{RecordType: "job", RecordID: "J1", TeamID: "TM-1", TeamName: "Acquisitions"}},
			"project/P1": {{RecordType: "project", RecordID: "P1", TeamID: "TM-2", TeamName: "Acquisitions West"}},
		},
		teamLeads: map[string]*db.User{
			// TM-1 has no lead; TM-2 does.
			"TM-2": {ID: "U-5", DisplayName: "West Lead"},
		},
	}

	roles := newTestResolver(store).Resolve(context.Background(), db.RecordTypeJob, "J1", "P1")
	assert.Equal(t, "U-5", roles["acq_mgr"], "fallthrough to the parent project's team")
}

func TestRoleResolver_ParentProjectFallback(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		userAssignments: map[string][]db.UserAssignment{
			"disposition/D1": {{RecordType: "disposition", RecordID: "D1", UserID: "U-1", RoleLabel: "Closing Coordinator"}},
			"project/P1":     {{RecordType: "project", RecordID: "P1", UserID: "U-2", RoleLabel: "Project Manager"}},
		},
	}

	roles := newTestResolver(store).Resolve(context.Background(), db.RecordTypeDisposition, "D1", "P1")
	assert.Equal(t, "U-1", roles["closing_coordinator"], "own-record assignment")
	assert.Equal(t, "U-2", roles["pm"], "claimed from the parent project")
}

func TestRoleResolver_NoParentLookupForProjects(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		userAssignments: map[string][]db.UserAssignment{
			"project/P1": {{RecordType: "project", RecordID: "P1", UserID: "U-1", RoleLabel: "Director"}},
		},
	}

	roles := newTestResolver(store).Resolve(context.Background(), db.RecordTypeProject, "P1", "P1")
	assert.Equal(t, "U-1", roles["director"])
	assert.Equal(t, 1, store.assignmentCalls, "project records consult only themselves")
}

func TestRoleResolver_FirstMatchWinsWithinUsers(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		userAssignments: map[string][]db.UserAssignment{
			"project/P1": {
				{RecordType: "project", RecordID: "P1", UserID: "U-1", RoleLabel: "Project Manager"},
				{RecordType: "project", RecordID: "P1", UserID: "U-2", RoleLabel: "Assistant PM"},
			},
		},
	}

	roles := newTestResolver(store).Resolve(context.Background(), db.RecordTypeProject, "P1", "P1")
	assert.Equal(t, "U-1", roles["pm"], "the earlier assignment keeps the role")
}

func TestRoleResolver_UnmatchedRolesAbsent(t *testing.T) {
	t.Parallel()

	roles := newTestResolver(&fakeStore{}).Resolve(context.Background(), db.RecordTypeProject, "P1", "P1")
	assert.Empty(t, roles)
	_, ok := roles["pm"]
	assert.False(t, ok, "unclaimed roles are absent, not empty-valued")
}

func TestRoleResolver_Idempotent(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		userAssignments: map[string][]db.UserAssignment{
			"job/J1":     {{RecordType: "job", RecordID: "J1", UserID: "U-1", RoleLabel: "Acquisition Lead"}},
			"project/P1": {{RecordType: "project", RecordID: "P1", UserID: "U-2", RoleLabel: "Project Manager"}},
		},
		teamAssignments: map[string][]db.TeamAssignment{
			"project/P1": {{RecordType: "project", RecordID: "P1", TeamID: "TM-1", TeamName: "Closing Team"}},
		},
		teamLeads: map[string]*db.User{"TM-1": {ID: "U-3", DisplayName: "Coordinator"}},
	}
	r := newTestResolver(store)

	first := r.Resolve(context.Background(), db.RecordTypeJob, "J1", "P1")
	second := r.Resolve(context.Background(), db.RecordTypeJob, "J1", "P1")
	assert.Equal(t, first, second, "identical inputs produce identical maps")
}

func TestRoleResolver_OneUserManyRoles(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		userAssignments: map[string][]db.UserAssignment{
			"project/P1": {
				{RecordType: "project", RecordID: "P1", UserID: "U-1", RoleLabel: "Owner / Project Manager"},
			},
		},
	}

	roles := newTestResolver(store).Resolve(context.Background(), db.RecordTypeProject, "P1", "P1")
	assert.Equal(t, "U-1", roles["pm"])
	assert.Equal(t, "U-1", roles["principal"], "a single label can claim several role codes")
}
