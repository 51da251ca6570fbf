package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// RecordType identifies the kind of tracked business record.
type RecordType string

const (
	RecordTypeProject     RecordType = "project"
	RecordTypeOpportunity RecordType = "opportunity"
	RecordTypeJob         RecordType = "job"
	RecordTypeDisposition RecordType = "disposition"
)

// TableFor returns the table name a record type is stored in.
func (rt RecordType) TableFor() string {
	switch rt {
	case RecordTypeProject:
		return "projects"
	case RecordTypeOpportunity:
		return "opportunities"
	case RecordTypeJob:
		return "jobs"
	case RecordTypeDisposition:
		return "dispositions"
	}
	return ""
}

// TrackedRecord is a read-only view of one row from a tracked table.
// Fields that don't apply to a given record type are left empty: only
// projects and opportunities carry their own ProjectType, only projects
// carry an OpportunityID, and only jobs and dispositions carry a ProjectID.
type TrackedRecord struct {
	Type          RecordType `json:"type"`
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Status        string     `json:"status"`
	ProjectType   string     `json:"project_type,omitempty"`
	ProjectID     string     `json:"project_id,omitempty"`
	OpportunityID string     `json:"opportunity_id,omitempty"`
	EntityID      string     `json:"entity_id,omitempty"`
	Attrs         string     `json:"attrs,omitempty"` // raw JSON blob
}

// Attr reads a value from the record's attrs JSON by gjson path.
// Returns "" for missing paths or invalid JSON.
func (r *TrackedRecord) Attr(path string) string {
	return gjson.Get(r.Attrs, path).String()
}

// GetTrackedRecord fetches one tracked record by type and id.
// Returns (nil, nil) when the row does not exist.
func (d *DB) GetTrackedRecord(ctx context.Context, recordType RecordType, id string) (*TrackedRecord, error) {
	rec := &TrackedRecord{Type: recordType, ID: id}
	var projectType, projectID, opportunityID, entityID, attrs sql.NullString

	var err error
	switch recordType {
	case RecordTypeProject:
		err = d.QueryRowContext(ctx, `
			SELECT name, status, project_type, opportunity_id, entity_id, attrs
			FROM projects WHERE id = `+d.Placeholder(1), id,
		).Scan(&rec.Name, &rec.Status, &projectType, &opportunityID, &entityID, &attrs)
	case RecordTypeOpportunity:
		err = d.QueryRowContext(ctx, `
			SELECT name, status, project_type, entity_id, attrs
			FROM opportunities WHERE id = `+d.Placeholder(1), id,
		).Scan(&rec.Name, &rec.Status, &projectType, &entityID, &attrs)
	case RecordTypeJob:
		err = d.QueryRowContext(ctx, `
			SELECT name, status, project_id, entity_id, attrs
			FROM jobs WHERE id = `+d.Placeholder(1), id,
		).Scan(&rec.Name, &rec.Status, &projectID, &entityID, &attrs)
	case RecordTypeDisposition:
		err = d.QueryRowContext(ctx, `
			SELECT name, status, project_id, entity_id, attrs
			FROM dispositions WHERE id = `+d.Placeholder(1), id,
		).Scan(&rec.Name, &rec.Status, &projectID, &entityID, &attrs)
	default:
		return nil, fmt.Errorf("unknown record type: %q", recordType)
	}

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get %s %s: %w", recordType, id, err)
	}

	rec.ProjectType = projectType.String
	rec.ProjectID = projectID.String
	rec.OpportunityID = opportunityID.String
	rec.EntityID = entityID.String
	rec.Attrs = attrs.String
	return rec, nil
}

// GetProjectType returns the project_type of a project row, or "" when the
// project does not exist.
func (d *DB) GetProjectType(ctx context.Context, projectID string) (string, error) {
	var projectType string
	err := d.QueryRowContext(ctx,
		"SELECT project_type FROM projects WHERE id = "+d.Placeholder(1), projectID,
	).Scan(&projectType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("get project type %s: %w", projectID, err)
	}
	return projectType, nil
}

// FindProjectIDByOpportunity returns the id of the project whose opportunity
// reference equals opportunityID, or "" when no project references it.
// Zero or one match is expected; with multiple the first wins.
func (d *DB) FindProjectIDByOpportunity(ctx context.Context, opportunityID string) (string, error) {
	var projectID string
	err := d.QueryRowContext(ctx, `
		SELECT id FROM projects WHERE opportunity_id = `+d.Placeholder(1)+`
		ORDER BY id LIMIT 1
	`, opportunityID).Scan(&projectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("find project by opportunity %s: %w", opportunityID, err)
	}
	return projectID, nil
}

// Project is a tracked project row.
type Project struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ProjectType   string `json:"project_type"`
	Status        string `json:"status"`
	OpportunityID string `json:"opportunity_id,omitempty"`
	EntityID      string `json:"entity_id,omitempty"`
	Attrs         string `json:"attrs,omitempty"`
}

// CreateProject inserts a project row.
func (d *DB) CreateProject(ctx context.Context, p *Project) error {
	_, err := d.ExecContext(ctx, `
		INSERT INTO projects (id, name, project_type, status, opportunity_id, entity_id, attrs)
		VALUES (`+d.placeholders(7)+`)
	`, p.ID, p.Name, p.ProjectType, p.Status, nullable(p.OpportunityID), nullable(p.EntityID), nullable(p.Attrs))
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

// Opportunity is a tracked opportunity row.
type Opportunity struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ProjectType string `json:"project_type"`
	Status      string `json:"status"`
	EntityID    string `json:"entity_id,omitempty"`
	Attrs       string `json:"attrs,omitempty"`
}

// CreateOpportunity inserts an opportunity row.
func (d *DB) CreateOpportunity(ctx context.Context, o *Opportunity) error {
	_, err := d.ExecContext(ctx, `
		INSERT INTO opportunities (id, name, project_type, status, entity_id, attrs)
		VALUES (`+d.placeholders(6)+`)
	`, o.ID, o.Name, o.ProjectType, o.Status, nullable(o.EntityID), nullable(o.Attrs))
	if err != nil {
		return fmt.Errorf("create opportunity: %w", err)
	}
	return nil
}

// Job is a tracked job row, linked to its project by foreign key.
type Job struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	ProjectID string `json:"project_id,omitempty"`
	EntityID  string `json:"entity_id,omitempty"`
	Attrs     string `json:"attrs,omitempty"`
}

// CreateJob inserts a job row.
func (d *DB) CreateJob(ctx context.Context, j *Job) error {
	_, err := d.ExecContext(ctx, `
		INSERT INTO jobs (id, name, status, project_id, entity_id, attrs)
		VALUES (`+d.placeholders(6)+`)
	`, j.ID, j.Name, j.Status, nullable(j.ProjectID), nullable(j.EntityID), nullable(j.Attrs))
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// Disposition is a tracked disposition row, linked to its project by
// foreign key.
type Disposition struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	ProjectID string `json:"project_id,omitempty"`
	EntityID  string `json:"entity_id,omitempty"`
	Attrs     string `json:"attrs,omitempty"`
}

// CreateDisposition inserts a disposition row.
func (d *DB) CreateDisposition(ctx context.Context, dp *Disposition) error {
	_, err := d.ExecContext(ctx, `
		INSERT INTO dispositions (id, name, status, project_id, entity_id, attrs)
		VALUES (`+d.placeholders(6)+`)
	`, dp.ID, dp.Name, dp.Status, nullable(dp.ProjectID), nullable(dp.EntityID), nullable(dp.Attrs))
	if err != nil {
		return fmt.Errorf("create disposition: %w", err)
	}
	return nil
}

// UpdateRecordStatus sets the status column of a tracked record. Used by
// callers that apply the status change and fire the trigger in one step.
func (d *DB) UpdateRecordStatus(ctx context.Context, recordType RecordType, id, status string) error {
	table := recordType.TableFor()
	if table == "" {
		return fmt.Errorf("unknown record type: %q", recordType)
	}
	_, err := d.ExecContext(ctx,
		"UPDATE "+table+" SET status = "+d.Placeholder(1)+" WHERE id = "+d.Placeholder(2),
		status, id)
	if err != nil {
		return fmt.Errorf("update %s status: %w", recordType, err)
	}
	return nil
}

// placeholders builds a comma-separated placeholder list for n arguments.
func (d *DB) placeholders(n int) string {
	s := ""
	for i := 1; i <= n; i++ {
		if i > 1 {
			s += ", "
		}
		s += d.Placeholder(i)
	}
	return s
}

// nullable maps "" to NULL for optional foreign key columns.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
