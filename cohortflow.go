// Package cohortflow turns per-subject ranked categorical events into
// weighted flow graphs for Sankey diagrams, with optional PostgreSQL
// storage of observations and built graphs.
package cohortflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/cohortflow/core/flow"
	"github.com/siherrmann/cohortflow/core/graph"
	"github.com/siherrmann/cohortflow/core/pipeline"
	"github.com/siherrmann/cohortflow/database"
	"github.com/siherrmann/cohortflow/helper"
	"github.com/siherrmann/cohortflow/model"
	"github.com/siherrmann/cohortflow/render"
	"golang.org/x/sync/errgroup"
)

// CohortFlow provides a unified interface to the aggregator, the renderer
// and the database handlers.
type CohortFlow struct {
	DB           *helper.Database
	Observations *database.ObservationsDBHandler
	Flows        *database.FlowsDBHandler
	Pipeline     *pipeline.Pipeline // used by ProcessObservations
	Scale        model.SeverityScale // fills unset severities on insert
	// Logging
	log *slog.Logger
}

// New creates a CohortFlow instance with all handlers initialized
func New(config *helper.DatabaseConfiguration) (*CohortFlow, error) {
	opts := helper.PrettyHandlerOptions{
		SlogOpts: slog.HandlerOptions{
			Level: slog.LevelInfo,
		},
	}
	logger := slog.New(helper.NewPrettyHandler(os.Stdout, opts))

	return NewWithLogger(config, logger)
}

// NewWithLogger is New with a caller supplied logger.
func NewWithLogger(config *helper.DatabaseConfiguration, logger *slog.Logger) (*CohortFlow, error) {
	db, err := helper.NewDatabase("cohortflow", config, logger)
	if err != nil {
		return nil, helper.NewError("connect database", err)
	}

	// force=false to not reload if functions already exist
	observations, err := database.NewObservationsDBHandler(db, false)
	if err != nil {
		db.Close()
		return nil, helper.NewError("create observations handler", err)
	}

	flows, err := database.NewFlowsDBHandler(db, false)
	if err != nil {
		db.Close()
		return nil, helper.NewError("create flows handler", err)
	}

	defaults := model.DefaultStatusFlowConfig()

	return &CohortFlow{
		DB:           db,
		Observations: observations,
		Flows:        flows,
		Pipeline:     pipeline.DefaultPipeline(model.StatusChangeScale, defaults.MaxRank, defaults.PrefixLen),
		Scale:        model.StatusChangeScale,
		log:          logger,
	}, nil
}

// Close closes the database connection
func (c *CohortFlow) Close() error {
	return c.DB.Close()
}

// SetPipeline sets the preparation pipeline used by ProcessObservations.
func (c *CohortFlow) SetPipeline(p *pipeline.Pipeline) {
	c.Pipeline = p
}

// BuildFlowGraph aggregates events with the default options.
func (c *CohortFlow) BuildFlowGraph(events []model.Event) (*model.FlowGraph, error) {
	return c.Build(events, model.DefaultFlowOptions())
}

// Build aggregates events with explicit options.
func (c *CohortFlow) Build(events []model.Event, opts model.FlowOptions) (*model.FlowGraph, error) {
	g, err := flow.Build(events, opts)
	if err != nil {
		return nil, err
	}

	c.logger().Debug("Built flow graph", slog.Int("events", len(events)), slog.Int("nodes", len(g.Nodes)), slog.Int("edges", len(g.Edges)))
	return g, nil
}

// ProcessObservations runs the pipeline over dated observations held in
// memory and aggregates the resulting events.
func (c *CohortFlow) ProcessObservations(observations []model.Observation, opts model.FlowOptions) (*model.FlowGraph, error) {
	if c.Pipeline == nil {
		return nil, helper.NewError("process observations", fmt.Errorf("pipeline not set, use SetPipeline() first"))
	}

	events, err := c.Pipeline.Process(observations)
	if err != nil {
		return nil, err
	}

	return c.Build(events, opts)
}

// InsertObservations stores observations and returns how many were
// inserted before the first failure. A zero severity is taken from Scale
// when the category is on it, so same-day ties resolve like in memory.
func (c *CohortFlow) InsertObservations(observations []*model.Observation) (int, error) {
	for i, o := range observations {
		if o.Severity == 0 {
			if s := c.Scale.Severity(o.Category); s >= 0 {
				o.Severity = s
			}
		}

		err := c.Observations.InsertObservation(o)
		if err != nil {
			return i, helper.NewError(fmt.Sprintf("insert observation %d", i), err)
		}
	}

	c.logger().Info("Inserted observations", slog.Int("count", len(observations)))
	return len(observations), nil
}

// StatusFlow builds the flow graph of one observation kind from the
// database. The returned snapshot is persisted when config.Save is set;
// otherwise only its Name and Graph are filled.
func (c *CohortFlow) StatusFlow(ctx context.Context, config model.StatusFlowConfig) (*model.FlowSnapshot, error) {
	err := config.Validate()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	events, err := c.Observations.SelectRankedEvents(ctx, config.Kind, config.MaxRank, config.PrefixLen)
	if err != nil {
		return nil, helper.NewError("select ranked events", err)
	}
	if len(events) == 0 {
		return nil, &model.EmptyResultError{What: fmt.Sprintf("no observations of kind %q", config.Kind)}
	}

	g, err := c.BuildFlowGraph(events)
	if err != nil {
		return nil, err
	}

	metadata := model.Metadata{
		"kind":       config.Kind,
		"max_rank":   config.MaxRank,
		"prefix_len": config.PrefixLen,
		"events":     len(events),
	}

	if !config.Save {
		return &model.FlowSnapshot{Name: config.SnapshotName(), Graph: *g, Metadata: metadata}, nil
	}

	return c.SaveFlow(config.SnapshotName(), g, metadata)
}

// StatusFlows builds the status flow of several kinds concurrently, each
// with base and its Kind replaced. A set Name gets the kind appended when
// there is more than one kind. The first failing kind cancels the others.
func (c *CohortFlow) StatusFlows(ctx context.Context, base model.StatusFlowConfig, kinds ...string) (map[string]*model.FlowGraph, error) {
	graphs := make([]*model.FlowGraph, len(kinds))

	eg, ctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		eg.Go(func() error {
			config := base
			config.Kind = kind
			if config.Name != "" && len(kinds) > 1 {
				config.Name = fmt.Sprintf("%s_%s", base.Name, kind)
			}

			snapshot, err := c.StatusFlow(ctx, config)
			if err != nil {
				return helper.NewError(fmt.Sprintf("status flow %s", kind), err)
			}
			graphs[i] = &snapshot.Graph
			return nil
		})
	}

	err := eg.Wait()
	if err != nil {
		return nil, err
	}

	result := make(map[string]*model.FlowGraph, len(kinds))
	for i, kind := range kinds {
		result[kind] = graphs[i]
	}
	return result, nil
}

// SaveFlow persists a graph as a named snapshot.
func (c *CohortFlow) SaveFlow(name string, g *model.FlowGraph, metadata model.Metadata) (*model.FlowSnapshot, error) {
	if g == nil {
		return nil, model.NewInvalidInputError("graph is nil")
	}

	snapshot := &model.FlowSnapshot{
		Name:     name,
		Graph:    *g,
		Metadata: metadata,
	}

	err := c.Flows.InsertFlow(snapshot)
	if err != nil {
		return nil, helper.NewError("insert flow", err)
	}

	c.logger().Info("Saved flow", slog.String("name", name), slog.String("rid", snapshot.RID.String()))
	return snapshot, nil
}

// Flow returns a stored snapshot.
func (c *CohortFlow) Flow(rid uuid.UUID) (*model.FlowSnapshot, error) {
	return c.Flows.SelectFlow(rid)
}

// ListFlows returns stored snapshots newest first.
func (c *CohortFlow) ListFlows(lastCreatedAt *time.Time, limit int) ([]*model.FlowSnapshot, error) {
	return c.Flows.SelectAllFlows(lastCreatedAt, limit)
}

// DeleteFlow removes a stored snapshot.
func (c *CohortFlow) DeleteFlow(rid uuid.UUID) error {
	return c.Flows.DeleteFlow(rid)
}

// Render lays out a graph as a Sankey diagram with the default style.
func (c *CohortFlow) Render(g *model.FlowGraph, title string) (*render.Diagram, error) {
	return render.Sankey(g, render.Options{Title: title})
}

// Focus reduces a graph to the flows passing through the node with the
// given label, e.g. "inc.2".
func (c *CohortFlow) Focus(g *model.FlowGraph, label string) (*model.FlowGraph, error) {
	return graph.Focus(g, label)
}

func (c *CohortFlow) logger() *slog.Logger {
	if c.log == nil {
		return slog.Default()
	}
	return c.log
}
