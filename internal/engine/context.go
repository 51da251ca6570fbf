package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/dealflowhq/dealflow/internal/db"
)

// ContextResolver derives a trigger's ProjectContext: the owning project
// (if any), its project type, and the owning entity.
//
// Resolution never fails the run. A dangling project reference or a lookup
// timeout leaves the affected field empty; callers must tolerate missing
// context, since many valid triggers (an opportunity with no project yet)
// legitimately lack it.
type ContextResolver struct {
	store         RecordStore
	logger        *slog.Logger
	lookupTimeout time.Duration
}

// NewContextResolver creates a ContextResolver.
func NewContextResolver(store RecordStore, logger *slog.Logger, lookupTimeout time.Duration) *ContextResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextResolver{store: store, logger: logger, lookupTimeout: lookupTimeout}
}

// Resolve derives the ProjectContext for a loaded tracked record.
func (c *ContextResolver) Resolve(ctx context.Context, rec *db.TrackedRecord) ProjectContext {
	pc := ProjectContext{EntityID: rec.EntityID}

	switch rec.Type {
	case db.RecordTypeProject:
		// The record is the project.
		pc.ProjectID = rec.ID
		pc.ProjectType = rec.ProjectType

	case db.RecordTypeOpportunity:
		// Opportunities carry their own type; the project, if one exists
		// yet, references the opportunity.
		pc.ProjectType = rec.ProjectType
		lctx, cancel := c.bound(ctx)
		projectID, err := c.store.FindProjectIDByOpportunity(lctx, rec.ID)
		cancel()
		if err != nil {
			c.logger.Warn("project lookup by opportunity failed",
				"opportunity_id", rec.ID, "error", err)
		} else {
			pc.ProjectID = projectID
		}

	default:
		// Jobs, dispositions, and similarly structured records carry a
		// project foreign key.
		pc.ProjectID = rec.ProjectID
		if rec.ProjectID != "" {
			lctx, cancel := c.bound(ctx)
			projectType, err := c.store.GetProjectType(lctx, rec.ProjectID)
			cancel()
			if err != nil {
				c.logger.Warn("project type lookup failed",
					"project_id", rec.ProjectID, "error", err)
			} else {
				pc.ProjectType = projectType
			}
		}
	}

	return pc
}

func (c *ContextResolver) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.lookupTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.lookupTimeout)
}
