package pipeline

import (
	"sort"
	"time"

	"github.com/siherrmann/cohortflow/model"
)

type subjectDay struct {
	subject string
	day     string
}

// ResolveTies keeps the most severe observation per subject and UTC
// calendar day. Severity comes from scale when the category is part of it,
// otherwise from the observation's Severity field. Equal severity keeps
// the lexicographically larger category.
func ResolveTies(scale model.SeverityScale) ResolveFunc {
	return func(observations []model.Observation) []model.Observation {
		severity := func(o model.Observation) int {
			if s := scale.Severity(o.Category); s >= 0 {
				return s
			}
			return o.Severity
		}

		best := make(map[subjectDay]model.Observation)
		var order []subjectDay
		for _, o := range observations {
			key := subjectDay{subject: o.SubjectID, day: o.ObservedOn.UTC().Format(time.DateOnly)}
			current, ok := best[key]
			if !ok {
				order = append(order, key)
				best[key] = o
				continue
			}
			if s, cs := severity(o), severity(current); s > cs || (s == cs && o.Category > current.Category) {
				best[key] = o
			}
		}

		resolved := make([]model.Observation, 0, len(order))
		for _, key := range order {
			resolved = append(resolved, best[key])
		}
		return resolved
	}
}

// AssignRanks numbers each subject's observations 1..N by date (then
// category) and keeps the first maxRank of them. maxRank 0 keeps all.
func AssignRanks(maxRank int) RankFunc {
	return func(observations []model.Observation) []model.Event {
		bySubject := make(map[string][]model.Observation)
		for _, o := range observations {
			bySubject[o.SubjectID] = append(bySubject[o.SubjectID], o)
		}

		subjects := make([]string, 0, len(bySubject))
		for s := range bySubject {
			subjects = append(subjects, s)
		}
		sort.Strings(subjects)

		var events []model.Event
		for _, s := range subjects {
			obs := bySubject[s]
			sort.SliceStable(obs, func(i, j int) bool {
				if !obs[i].ObservedOn.Equal(obs[j].ObservedOn) {
					return obs[i].ObservedOn.Before(obs[j].ObservedOn)
				}
				return obs[i].Category < obs[j].Category
			})
			for i, o := range obs {
				if maxRank > 0 && i >= maxRank {
					break
				}
				events = append(events, model.Event{SubjectID: s, Category: o.Category, Rank: i + 1})
			}
		}
		return events
	}
}

// AbbreviateCategory keeps the first n runes of a category.
func AbbreviateCategory(n int) CategoryFunc {
	return func(category string) string {
		r := []rune(category)
		if len(r) <= n {
			return category
		}
		return string(r[:n])
	}
}

// DensifyRanks renumbers every subject's ranks to 1..N keeping their
// order, closing gaps such as 1, 3, 4 -> 1, 2, 3.
func DensifyRanks(events []model.Event) []model.Event {
	bySubject := make(map[string][]int)
	for i, e := range events {
		bySubject[e.SubjectID] = append(bySubject[e.SubjectID], i)
	}

	out := make([]model.Event, len(events))
	copy(out, events)
	for _, idx := range bySubject {
		sort.SliceStable(idx, func(a, b int) bool { return events[idx[a]].Rank < events[idx[b]].Rank })
		for rank, i := range idx {
			out[i].Rank = rank + 1
		}
	}
	return out
}
