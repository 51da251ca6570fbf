package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dealflowhq/dealflow/internal/db"
	"github.com/dealflowhq/dealflow/internal/events"
	"golang.org/x/sync/errgroup"
)

// Engine is the workflow instantiation orchestrator. One call to
// InstantiateWorkflows processes one trigger event end to end.
//
// The engine does not deduplicate trigger delivery: processing the same
// event twice creates duplicate instances. Callers own delivery semantics.
type Engine struct {
	records   RecordStore
	instances InstanceStore
	logger    *slog.Logger
	publisher events.Publisher

	tables      map[string]db.RecordType
	contextRes  *ContextResolver
	matcher     *TemplateMatcher
	roleRes     *RoleResolver
	clock       func() time.Time
	parallelism int
}

// Option configures an Engine.
type Option func(*engineConfig)

type engineConfig struct {
	tables        map[string]db.RecordType
	patterns      RolePatterns
	publisher     events.Publisher
	clock         func() time.Time
	lookupTimeout time.Duration
	parallelism   int
}

// WithTableMap substitutes the source-table to record-type mapping.
func WithTableMap(tables map[string]db.RecordType) Option {
	return func(c *engineConfig) {
		c.tables = tables
	}
}

// WithRolePatterns substitutes the role keyword configuration.
func WithRolePatterns(patterns RolePatterns) Option {
	return func(c *engineConfig) {
		c.patterns = patterns
	}
}

// WithPublisher sets the event publisher for instantiation events.
func WithPublisher(pub events.Publisher) Option {
	return func(c *engineConfig) {
		c.publisher = pub
	}
}

// WithClock substitutes the time source. Tests use a fixed clock.
func WithClock(clock func() time.Time) Option {
	return func(c *engineConfig) {
		c.clock = clock
	}
}

// WithLookupTimeout bounds each context/role data fetch. On timeout the
// lookup is treated as empty; only the initial record fetch is fatal.
func WithLookupTimeout(d time.Duration) Option {
	return func(c *engineConfig) {
		c.lookupTimeout = d
	}
}

// WithParallelism bounds how many matched templates are expanded and
// persisted concurrently. Defaults to 4.
func WithParallelism(n int) Option {
	return func(c *engineConfig) {
		c.parallelism = n
	}
}

// New creates an Engine over the given stores.
func New(records RecordStore, instances InstanceStore, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := &engineConfig{
		tables:        DefaultTableMap(),
		patterns:      DefaultRolePatterns(),
		publisher:     events.NopPublisher{},
		clock:         time.Now,
		lookupTimeout: 5 * time.Second,
		parallelism:   4,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Engine{
		records:     records,
		instances:   instances,
		logger:      logger,
		publisher:   cfg.publisher,
		tables:      cfg.tables,
		contextRes:  NewContextResolver(records, logger, cfg.lookupTimeout),
		matcher:     NewTemplateMatcher(records),
		roleRes:     NewRoleResolver(records, cfg.patterns, logger, cfg.lookupTimeout),
		clock:       cfg.clock,
		parallelism: cfg.parallelism,
	}
}

// InstantiateWorkflows processes one trigger event: it loads the record,
// resolves context and roles, matches templates, and persists one workflow
// instance with its task batch per matched template.
//
// A run fails only on an invalid event, an unsupported source table, or a
// missing triggering record. A single template's load or persistence
// failure is logged, counted in Result.SkippedTemplates, and never aborts
// the remaining templates. Zero matched templates is success with an empty
// id list.
func (e *Engine) InstantiateWorkflows(ctx context.Context, event TriggerEvent) (*Result, error) {
	if err := validateEvent(event); err != nil {
		return nil, err
	}

	recordType, ok := e.tables[event.SourceTable]
	if !ok {
		return nil, &UnsupportedTableError{SourceTable: event.SourceTable}
	}

	rec, err := e.records.GetTrackedRecord(ctx, recordType, event.RecordID)
	if err != nil {
		return nil, fmt.Errorf("load %s %s: %w", event.SourceTable, event.RecordID, err)
	}
	if rec == nil {
		return nil, &RecordNotFoundError{SourceTable: event.SourceTable, RecordID: event.RecordID}
	}

	triggerTime := event.OccurredAt
	if triggerTime.IsZero() {
		triggerTime = e.clock()
	}

	e.publisher.Publish(events.Event{
		Type:     events.EventTriggerReceived,
		RecordID: event.RecordID,
		Data:     event,
		Time:     triggerTime,
	})

	pc := e.contextRes.Resolve(ctx, rec)

	templates, err := e.matcher.Match(ctx, event.SourceTable, event.NewStatus, pc.ProjectType)
	if err != nil {
		return nil, fmt.Errorf("match templates: %w", err)
	}
	if len(templates) == 0 {
		return &Result{Message: "no matching templates"}, nil
	}

	// One role resolution per trigger, shared by every matched template.
	roles := e.roleRes.Resolve(ctx, recordType, event.RecordID, pc.ProjectID)

	ec := ExpandContext{
		RecordType: recordType,
		RecordID:   event.RecordID,
		ProjectID:  pc.ProjectID,
		EntityID:   pc.EntityID,
	}

	var (
		mu      sync.Mutex
		created []string
		skipped int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)

	for _, tmpl := range templates {
		g.Go(func() error {
			id, err := e.processTemplate(gctx, tmpl, roles, triggerTime, ec)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// Skip this template, keep processing the rest.
				skipped++
				e.logger.Error("template skipped",
					"template_id", tmpl.ID, "template", tmpl.Name, "error", err)
				e.publisher.Publish(events.Event{
					Type:     events.EventTemplateSkipped,
					RecordID: event.RecordID,
					Data:     map[string]string{"template_id": tmpl.ID, "error": err.Error()},
					Time:     e.clock(),
				})
				return nil
			}
			if id != "" {
				created = append(created, id)
			}
			return nil
		})
	}
	_ = g.Wait()

	msg := fmt.Sprintf("created %d workflow instance(s) from %d matched template(s)",
		len(created), len(templates))
	return &Result{CreatedInstanceIDs: created, SkippedTemplates: skipped, Message: msg}, nil
}

// processTemplate expands and persists one template. Returns "" with no
// error for a template with zero tasks.
func (e *Engine) processTemplate(ctx context.Context, tmpl db.WorkflowTemplate, roles RoleAssignmentMap, triggerTime time.Time, ec ExpandContext) (string, error) {
	tasks, err := e.records.ListTemplateTasks(ctx, tmpl.ID)
	if err != nil {
		return "", fmt.Errorf("load template tasks: %w", err)
	}

	exp := ExpandTemplate(tmpl, tasks, roles, triggerTime, ec)
	if exp == nil {
		e.logger.Debug("template has no tasks, skipping", "template_id", tmpl.ID)
		return "", nil
	}

	if err := e.instances.CreateInstanceWithTasks(ctx, exp.Instance, exp.Tasks); err != nil {
		return "", fmt.Errorf("persist instance: %w", err)
	}

	e.logger.Info("workflow instantiated",
		"instance_id", exp.Instance.ID,
		"template_id", tmpl.ID,
		"record_type", ec.RecordType,
		"record_id", ec.RecordID,
		"tasks", len(exp.Tasks))
	e.publisher.Publish(events.Event{
		Type:     events.EventWorkflowInstantiated,
		RecordID: ec.RecordID,
		Data:     exp.Instance,
		Time:     e.clock(),
	})

	return exp.Instance.ID, nil
}

func validateEvent(event TriggerEvent) error {
	var missing []string
	if event.SourceTable == "" {
		missing = append(missing, "source_table")
	}
	if event.RecordID == "" {
		missing = append(missing, "record_id")
	}
	if event.NewStatus == "" {
		missing = append(missing, "new_status")
	}
	if len(missing) > 0 {
		return &InvalidTriggerError{Missing: missing}
	}
	return nil
}
