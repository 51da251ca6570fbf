package engine

import (
	"context"
	"regexp"
	"strings"

	"github.com/dealflowhq/dealflow/internal/db"
)

// typeSeparators matches the runs of whitespace or hyphens that project
// type normalization collapses to underscores.
var typeSeparators = regexp.MustCompile(`[\s-]+`)

// NormalizeProjectType canonicalizes a project type for matching:
// lower-cased, with runs of whitespace or hyphens replaced by a single
// underscore ("Scattered Lot" becomes "scattered_lot").
func NormalizeProjectType(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return typeSeparators.ReplaceAllString(s, "_")
}

// TemplateMatcher selects the workflow templates applicable to a trigger.
type TemplateMatcher struct {
	store RecordStore
}

// NewTemplateMatcher creates a TemplateMatcher.
func NewTemplateMatcher(store RecordStore) *TemplateMatcher {
	return &TemplateMatcher{store: store}
}

// Match returns the active templates whose trigger matches (sourceTable,
// newStatus) exactly and whose project type condition is satisfied. An
// empty result is a normal outcome, not an error.
func (m *TemplateMatcher) Match(ctx context.Context, sourceTable, newStatus, projectType string) ([]db.WorkflowTemplate, error) {
	candidates, err := m.store.ListActiveTemplates(ctx, sourceTable, newStatus)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	normalized := NormalizeProjectType(projectType)

	var matched []db.WorkflowTemplate
	for _, t := range candidates {
		if t.ProjectType == "" || t.ProjectType == "all" || t.ProjectType == normalized {
			matched = append(matched, t)
		}
	}
	return matched, nil
}
