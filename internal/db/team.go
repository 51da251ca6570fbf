package db

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// TeamMemberRole represents the role of a user within a team. The "lead"
// member is the one resolved when a team matches a workflow role.
type TeamMemberRole string

const (
	TeamRoleLead   TeamMemberRole = "lead"
	TeamRoleMember TeamMemberRole = "member"
)

// User is a person who can be assigned workflow tasks. RoleLabel is the
// free-form organizational title ("Senior Project Manager", "Acquisitions
// Lead") that role resolution fuzzy-matches against.
type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email,omitempty"`
	RoleLabel   string    `json:"role_label,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Team groups users; its display name is fuzzy-matched against role
// patterns the same way a user's role label is.
type Team struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAssignment links a user directly to a tracked record.
type UserAssignment struct {
	RecordType string `json:"record_type"`
	RecordID   string `json:"record_id"`
	UserID     string `json:"user_id"`
	RoleLabel  string `json:"role_label"`
}

// TeamAssignment links a team to a tracked record.
type TeamAssignment struct {
	RecordType string `json:"record_type"`
	RecordID   string `json:"record_id"`
	TeamID     string `json:"team_id"`
	TeamName   string `json:"team_name"`
}

// CreateUser inserts a user, generating an id when unset.
func (d *DB) CreateUser(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = generateOrgID("U")
	}
	_, err := d.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, role_label)
		VALUES (`+d.placeholders(4)+`)
	`, u.ID, u.DisplayName, u.Email, u.RoleLabel)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by id. Returns (nil, nil) when absent.
func (d *DB) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	var createdAt string
	err := d.QueryRowContext(ctx, `
		SELECT id, display_name, email, role_label, created_at
		FROM users WHERE id = `+d.Placeholder(1), id,
	).Scan(&u.ID, &u.DisplayName, &u.Email, &u.RoleLabel, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	u.CreatedAt = parseTimestamp(createdAt)
	return &u, nil
}

// CreateTeam inserts a team, generating an id when unset.
func (d *DB) CreateTeam(ctx context.Context, t *Team) error {
	if t.ID == "" {
		t.ID = generateOrgID("TM")
	}
	_, err := d.ExecContext(ctx, `
		INSERT INTO teams (id, name) VALUES (`+d.placeholders(2)+`)
	`, t.ID, t.Name)
	if err != nil {
		return fmt.Errorf("create team: %w", err)
	}
	return nil
}

// AddTeamMember links a user to a team with the given role.
func (d *DB) AddTeamMember(ctx context.Context, teamID, userID string, role TeamMemberRole) error {
	if role == "" {
		role = TeamRoleMember
	}
	_, err := d.ExecContext(ctx, `
		INSERT INTO team_members (team_id, user_id, role)
		VALUES (`+d.placeholders(3)+`)
	`, teamID, userID, role)
	if err != nil {
		return fmt.Errorf("add team member: %w", err)
	}
	return nil
}

// GetTeamLead returns the user flagged as the team's lead member, or
// (nil, nil) when the team has no lead.
func (d *DB) GetTeamLead(ctx context.Context, teamID string) (*User, error) {
	var u User
	var createdAt string
	err := d.QueryRowContext(ctx, `
		SELECT u.id, u.display_name, u.email, u.role_label, u.created_at
		FROM team_members tm
		JOIN users u ON u.id = tm.user_id
		WHERE tm.team_id = `+d.Placeholder(1)+` AND tm.role = `+d.Placeholder(2)+`
		ORDER BY u.id LIMIT 1
	`, teamID, TeamRoleLead).Scan(&u.ID, &u.DisplayName, &u.Email, &u.RoleLabel, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get team lead %s: %w", teamID, err)
	}
	u.CreatedAt = parseTimestamp(createdAt)
	return &u, nil
}

// AssignUserToRecord links a user directly to a tracked record.
func (d *DB) AssignUserToRecord(ctx context.Context, recordType RecordType, recordID, userID string) error {
	_, err := d.ExecContext(ctx, `
		INSERT INTO record_assignments (record_type, record_id, user_id)
		VALUES (`+d.placeholders(3)+`)
	`, recordType, recordID, userID)
	if err != nil {
		return fmt.Errorf("assign user to record: %w", err)
	}
	return nil
}

// AssignTeamToRecord links a team to a tracked record.
func (d *DB) AssignTeamToRecord(ctx context.Context, recordType RecordType, recordID, teamID string) error {
	_, err := d.ExecContext(ctx, `
		INSERT INTO record_assignments (record_type, record_id, team_id)
		VALUES (`+d.placeholders(3)+`)
	`, recordType, recordID, teamID)
	if err != nil {
		return fmt.Errorf("assign team to record: %w", err)
	}
	return nil
}

// ListUserAssignments returns the direct user assignments on a record, each
// joined with the user's role label, in insertion order.
func (d *DB) ListUserAssignments(ctx context.Context, recordType RecordType, recordID string) ([]UserAssignment, error) {
	rows, err := d.QueryContext(ctx, `
		SELECT ra.record_type, ra.record_id, u.id, u.role_label
		FROM record_assignments ra
		JOIN users u ON u.id = ra.user_id
		WHERE ra.record_type = `+d.Placeholder(1)+`
		  AND ra.record_id = `+d.Placeholder(2)+`
		  AND ra.user_id IS NOT NULL
		ORDER BY ra.id
	`, recordType, recordID)
	if err != nil {
		return nil, fmt.Errorf("list user assignments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var assignments []UserAssignment
	for rows.Next() {
		var a UserAssignment
		if err := rows.Scan(&a.RecordType, &a.RecordID, &a.UserID, &a.RoleLabel); err != nil {
			return nil, fmt.Errorf("scan user assignment: %w", err)
		}
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user assignments: %w", err)
	}
	return assignments, nil
}

// ListTeamAssignments returns the team assignments on a record, each joined
// with the team's display name, in insertion order.
func (d *DB) ListTeamAssignments(ctx context.Context, recordType RecordType, recordID string) ([]TeamAssignment, error) {
	rows, err := d.QueryContext(ctx, `
		SELECT ra.record_type, ra.record_id, t.id, t.name
		FROM record_assignments ra
		JOIN teams t ON t.id = ra.team_id
		WHERE ra.record_type = `+d.Placeholder(1)+`
		  AND ra.record_id = `+d.Placeholder(2)+`
		  AND ra.team_id IS NOT NULL
		ORDER BY ra.id
	`, recordType, recordID)
	if err != nil {
		return nil, fmt.Errorf("list team assignments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var assignments []TeamAssignment
	for rows.Next() {
		var a TeamAssignment
		if err := rows.Scan(&a.RecordType, &a.RecordID, &a.TeamID, &a.TeamName); err != nil {
			return nil, fmt.Errorf("scan team assignment: %w", err)
		}
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate team assignments: %w", err)
	}
	return assignments, nil
}

// generateOrgID generates a short random id with the given prefix.
func generateOrgID(prefix string) string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return prefix + "-" + hex.EncodeToString(b)[:8]
}
