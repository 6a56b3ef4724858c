package loader

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/siherrmann/cohortflow/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadEvents(t *testing.T) {
	t.Run("Notebook column names", func(t *testing.T) {
		input := "person_id,cat,rnk\nP1,inc,1\nP1,sta,2\nP2, dec ,1\n"

		events, err := ReadEvents(strings.NewReader(input))

		require.NoError(t, err)
		assert.Equal(t, []model.Event{
			{SubjectID: "P1", Category: "inc", Rank: 1},
			{SubjectID: "P1", Category: "sta", Rank: 2},
			{SubjectID: "P2", Category: "dec", Rank: 1},
		}, events)
	})

	t.Run("Reordered columns with extra fields", func(t *testing.T) {
		input := "rank,note,subject_id,category\n3,x,P7,res\n"

		events, err := ReadEvents(strings.NewReader(input))

		require.NoError(t, err)
		assert.Equal(t, []model.Event{{SubjectID: "P7", Category: "res", Rank: 3}}, events)
	})

	t.Run("Missing rank column", func(t *testing.T) {
		_, err := ReadEvents(strings.NewReader("person_id,cat\nP1,a\n"))
		assert.ErrorIs(t, err, model.ErrInvalidInput)
	})

	t.Run("Rank is not a number", func(t *testing.T) {
		_, err := ReadEvents(strings.NewReader("person_id,cat,rnk\nP1,a,1\nP1,b,two\n"))

		require.Error(t, err)
		assert.ErrorIs(t, err, model.ErrInvalidInput)
		assert.Contains(t, err.Error(), "line 3")
	})

	t.Run("Empty file", func(t *testing.T) {
		_, err := ReadEvents(strings.NewReader(""))
		assert.ErrorIs(t, err, model.ErrEmptyResult)
	})

	t.Run("Header only", func(t *testing.T) {
		events, err := ReadEvents(strings.NewReader("person_id,cat,rnk\n"))

		require.NoError(t, err)
		assert.Empty(t, events)
	})
}

func TestReadObservations(t *testing.T) {
	t.Run("Dates, severity and default kind", func(t *testing.T) {
		input := "d_person_id,note_date,cat,severity\nP1,2019-03-01,stable/no change/persistent,2\nP1,2019-04-02 10:30:00,increased/progressed,\n"

		observations, err := ReadObservations(strings.NewReader(input), "GGO_status_change")

		require.NoError(t, err)
		require.Len(t, observations, 2)
		assert.Equal(t, "P1", observations[0].SubjectID)
		assert.Equal(t, "GGO_status_change", observations[0].Kind)
		assert.Equal(t, time.Date(2019, time.March, 1, 0, 0, 0, 0, time.UTC), observations[0].ObservedOn)
		assert.Equal(t, 2, observations[0].Severity)
		assert.Equal(t, 10, observations[1].ObservedOn.Hour())
		assert.Equal(t, 0, observations[1].Severity)
	})

	t.Run("Unknown date format", func(t *testing.T) {
		_, err := ReadObservations(strings.NewReader("person_id,date,cat\nP1,March 1st,a\n"), "k")
		assert.ErrorIs(t, err, model.ErrInvalidInput)
	})
}

func TestWriteEdges(t *testing.T) {
	graph := &model.FlowGraph{
		Nodes: []model.Node{{Category: "A", Rank: 1}, {Category: "B", Rank: 2}},
		Edges: []model.Edge{{Source: 0, Target: 1, Weight: 2}},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteEdges(&buf, graph))

	assert.Equal(t, "source,target,value\nA.1,B.2,2\n", buf.String())
}
