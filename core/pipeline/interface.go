// Package pipeline prepares dated observations for the flow aggregator:
// resolving same-day ties, ranking and relabelling. The aggregator itself
// never calls into this package; callers run a Pipeline first.
package pipeline

import "github.com/siherrmann/cohortflow/model"

// ResolveFunc reduces observations to at most one per subject and day.
type ResolveFunc func(observations []model.Observation) []model.Observation

// RankFunc orders each subject's observations and turns them into events.
type RankFunc func(observations []model.Observation) []model.Event

// CategoryFunc rewrites a category label, e.g. to abbreviate it.
type CategoryFunc func(category string) string

// Pipeline chains the preparation steps. Resolver and Mapper are optional.
type Pipeline struct {
	Resolver ResolveFunc
	Ranker   RankFunc
	Mapper   CategoryFunc
}

// NewPipeline creates a pipeline with only a ranker.
func NewPipeline(ranker RankFunc) *Pipeline {
	return &Pipeline{
		Ranker: ranker,
	}
}

// DefaultPipeline mirrors the status-change preparation: most severe
// finding per day wins, the first maxRank findings are ranked by date and
// categories are cut to prefixLen characters.
func DefaultPipeline(scale model.SeverityScale, maxRank int, prefixLen int) *Pipeline {
	p := NewPipeline(AssignRanks(maxRank))
	p.SetResolver(ResolveTies(scale))
	if prefixLen > 0 {
		p.SetMapper(AbbreviateCategory(prefixLen))
	}
	return p
}

// SetResolver sets the same-day tie resolution step.
func (p *Pipeline) SetResolver(resolver ResolveFunc) {
	p.Resolver = resolver
}

// SetMapper sets the category rewrite step.
func (p *Pipeline) SetMapper(mapper CategoryFunc) {
	p.Mapper = mapper
}

// Process runs the pipeline and returns ranked events.
func (p *Pipeline) Process(observations []model.Observation) ([]model.Event, error) {
	if p.Ranker == nil {
		return nil, model.NewInvalidInputError("pipeline has no ranker")
	}
	if len(observations) == 0 {
		return nil, &model.EmptyResultError{What: "no observations"}
	}

	for i, o := range observations {
		if o.SubjectID == "" || o.Category == "" || o.ObservedOn.IsZero() {
			return nil, model.NewInvalidInputError("observation %d is missing subject, category or date", i)
		}
	}

	if p.Resolver != nil {
		observations = p.Resolver(observations)
	}

	events := p.Ranker(observations)

	if p.Mapper != nil {
		for i := range events {
			events[i].Category = p.Mapper(events[i].Category)
		}
	}

	return events, nil
}
