// Package loader reads events and observations from CSV and writes flow
// graphs back out as edge lists.
package loader

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/siherrmann/cohortflow/helper"
	"github.com/siherrmann/cohortflow/model"
)

var columnAliases = map[string]string{
	"person_id":   "subject",
	"d_person_id": "subject",
	"subject_id":  "subject",
	"subject":     "subject",
	"cat":         "category",
	"category":    "category",
	"rnk":         "rank",
	"rank":        "rank",
	"kind":        "kind",
	"ggo_level1":  "kind",
	"date":        "date",
	"note_date":   "date",
	"observed_on": "date",
	"severity":    "severity",
}

// dateLayouts are tried in order for the date column.
var dateLayouts = []string{time.DateOnly, time.RFC3339, "2006-01-02 15:04:05", "01/02/2006"}

type table struct {
	reader  *csv.Reader
	columns map[string]int
	line    int
}

func newTable(r io.Reader, required ...string) (*table, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, &model.EmptyResultError{What: "csv has no header"}
	}
	if err != nil {
		return nil, helper.NewError("read csv header", err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if canonical, ok := columnAliases[name]; ok {
			if _, dup := columns[canonical]; !dup {
				columns[canonical] = i
			}
		}
	}

	for _, c := range required {
		if _, ok := columns[c]; !ok {
			return nil, model.NewInvalidInputError("csv header %v has no %s column", header, c)
		}
	}

	return &table{reader: reader, columns: columns, line: 1}, nil
}

// next returns the next record, or nil at the end of the input.
func (t *table) next() ([]string, error) {
	record, err := t.reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	t.line++
	if err != nil {
		return nil, helper.NewError(fmt.Sprintf("read csv line %d", t.line), err)
	}
	return record, nil
}

func (t *table) field(record []string, column string) string {
	i, ok := t.columns[column]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func (t *table) invalid(format string, args ...interface{}) error {
	return model.NewInvalidInputError("line %d: %s", t.line, fmt.Sprintf(format, args...))
}

// ReadEvents reads ranked events. The header must name a subject, a
// category and a rank column (person_id,cat,rnk or subject_id,category,rank).
func ReadEvents(r io.Reader) ([]model.Event, error) {
	t, err := newTable(r, "subject", "category", "rank")
	if err != nil {
		return nil, err
	}

	var events []model.Event
	for {
		record, err := t.next()
		if err != nil {
			return nil, err
		}
		if record == nil {
			break
		}

		rank, err := strconv.Atoi(t.field(record, "rank"))
		if err != nil {
			return nil, t.invalid("rank %q is not an integer", t.field(record, "rank"))
		}

		events = append(events, model.Event{
			SubjectID: t.field(record, "subject"),
			Category:  t.field(record, "category"),
			Rank:      rank,
		})
	}

	return events, nil
}

// ReadObservations reads dated observations. Kind and severity columns
// are optional; defaultKind fills a missing kind.
func ReadObservations(r io.Reader, defaultKind string) ([]model.Observation, error) {
	t, err := newTable(r, "subject", "category", "date")
	if err != nil {
		return nil, err
	}

	var observations []model.Observation
	for {
		record, err := t.next()
		if err != nil {
			return nil, err
		}
		if record == nil {
			break
		}

		on, err := parseDate(t.field(record, "date"))
		if err != nil {
			return nil, t.invalid("%v", err)
		}

		severity := 0
		if s := t.field(record, "severity"); s != "" {
			severity, err = strconv.Atoi(s)
			if err != nil {
				return nil, t.invalid("severity %q is not an integer", s)
			}
		}

		kind := t.field(record, "kind")
		if kind == "" {
			kind = defaultKind
		}

		observations = append(observations, model.Observation{
			SubjectID:  t.field(record, "subject"),
			Kind:       kind,
			Category:   t.field(record, "category"),
			ObservedOn: on,
			Severity:   severity,
		})
	}

	return observations, nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if on, err := time.Parse(layout, s); err == nil {
			return on, nil
		}
	}
	return time.Time{}, fmt.Errorf("date %q has an unknown format", s)
}

// WriteEdges writes one source,target,value row per edge using node labels.
func WriteEdges(w io.Writer, graph *model.FlowGraph) error {
	writer := csv.NewWriter(w)

	err := writer.Write([]string{"source", "target", "value"})
	if err != nil {
		return helper.NewError("write csv header", err)
	}

	labels := graph.Labels()
	for _, e := range graph.Edges {
		err := writer.Write([]string{labels[e.Source], labels[e.Target], strconv.Itoa(e.Weight)})
		if err != nil {
			return helper.NewError("write csv row", err)
		}
	}

	writer.Flush()
	return helper.NewError("flush csv", writer.Error())
}
