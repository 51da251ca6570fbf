package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/dealflowhq/dealflow/internal/db"
)

// RolePatterns maps a role code to the keywords that identify it. A user's
// role label or a team's display name claims a role code when it contains
// any of the code's keywords, case-insensitively.
type RolePatterns map[string][]string

// DefaultRolePatterns returns the built-in role keyword configuration.
func DefaultRolePatterns() RolePatterns {
	return RolePatterns{
		"pm":                  {"project manag", "pm"},
		"acq_mgr":             {"acquisition", "acq"},
		"director":            {"director"},
		"principal":           {"principal", "executive", "owner"},
		"closing_coordinator": {"closing", "title", "coordinator"},
	}
}

// MatchesRole reports whether a role label or team name claims the given
// role code under the configured patterns. Pure function; matching is
// case-insensitive substring containment.
func MatchesRole(label, roleCode string, patterns RolePatterns) bool {
	keywords, ok := patterns[roleCode]
	if !ok || label == "" {
		return false
	}
	lower := strings.ToLower(label)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// RoleResolver maps the people and teams assigned to a record onto
// canonical role codes by fuzzy name matching.
//
// Resolution is best-effort and first-match-wins: candidates are processed
// in a fixed order (own-record direct users, own-record teams, parent
// project direct users, parent project teams) and once a role code is
// claimed it is never overwritten. A role code with no matching assignment
// anywhere simply stays absent from the map.
type RoleResolver struct {
	store         RecordStore
	patterns      RolePatterns
	logger        *slog.Logger
	lookupTimeout time.Duration
}

// NewRoleResolver creates a RoleResolver with the given pattern config.
func NewRoleResolver(store RecordStore, patterns RolePatterns, logger *slog.Logger, lookupTimeout time.Duration) *RoleResolver {
	if logger == nil {
		logger = slog.Default()
	}
	if patterns == nil {
		patterns = DefaultRolePatterns()
	}
	return &RoleResolver{store: store, patterns: patterns, logger: logger, lookupTimeout: lookupTimeout}
}

// Resolve builds the role assignment map for one trigger. Lookup failures
// and timeouts are logged and treated as empty results; they never fail
// the run.
func (r *RoleResolver) Resolve(ctx context.Context, recordType db.RecordType, recordID, projectID string) RoleAssignmentMap {
	roles := make(RoleAssignmentMap)

	type lookup struct {
		recordType db.RecordType
		recordID   string
	}
	lookups := []lookup{{recordType, recordID}}
	// The parent project is consulted only when the record isn't itself a
	// project and a project is known.
	if recordType != db.RecordTypeProject && projectID != "" {
		lookups = append(lookups, lookup{db.RecordTypeProject, projectID})
	}

	for _, l := range lookups {
		r.resolveUsers(ctx, l.recordType, l.recordID, roles)
		r.resolveTeams(ctx, l.recordType, l.recordID, roles)
		if len(roles) == len(r.patterns) {
			break
		}
	}

	return roles
}

// resolveUsers claims role codes from the record's direct user assignments.
func (r *RoleResolver) resolveUsers(ctx context.Context, recordType db.RecordType, recordID string, roles RoleAssignmentMap) {
	lctx, cancel := r.bound(ctx)
	assignments, err := r.store.ListUserAssignments(lctx, recordType, recordID)
	cancel()
	if err != nil {
		r.logger.Warn("user assignment lookup failed",
			"record_type", recordType, "record_id", recordID, "error", err)
		return
	}

	for _, a := range assignments {
		for roleCode := range r.patterns {
			if _, claimed := roles[roleCode]; claimed {
				continue
			}
			if MatchesRole(a.RoleLabel, roleCode, r.patterns) {
				roles[roleCode] = a.UserID
			}
		}
	}
}

// resolveTeams claims role codes from team assignments. A team whose name
// matches an unclaimed role code contributes its designated lead member;
// a lead-less team leaves the role unclaimed for later candidates.
func (r *RoleResolver) resolveTeams(ctx context.Context, recordType db.RecordType, recordID string, roles RoleAssignmentMap) {
	lctx, cancel := r.bound(ctx)
	assignments, err := r.store.ListTeamAssignments(lctx, recordType, recordID)
	cancel()
	if err != nil {
		r.logger.Warn("team assignment lookup failed",
			"record_type", recordType, "record_id", recordID, "error", err)
		return
	}

	leads := make(map[string]*db.User, len(assignments))

	for _, a := range assignments {
		for roleCode := range r.patterns {
			if _, claimed := roles[roleCode]; claimed {
				continue
			}
			if !MatchesRole(a.TeamName, roleCode, r.patterns) {
				continue
			}

			lead, fetched := leads[a.TeamID]
			if !fetched {
				lctx, cancel := r.bound(ctx)
				var err error
				lead, err = r.store.GetTeamLead(lctx, a.TeamID)
				cancel()
				if err != nil {
					r.logger.Warn("team lead lookup failed", "team_id", a.TeamID, "error", err)
					lead = nil
				}
				leads[a.TeamID] = lead
			}
			if lead != nil {
				roles[roleCode] = lead.ID
			}
		}
	}
}

func (r *RoleResolver) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.lookupTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.lookupTimeout)
}
