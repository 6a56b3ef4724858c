package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/siherrmann/cohortflow/core/flow"
	"github.com/siherrmann/cohortflow/model"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingFlower remembers the configuration it was asked for.
type recordingFlower struct {
	calls int
	base  model.StatusFlowConfig
	kinds []string
}

func (r *recordingFlower) StatusFlows(ctx context.Context, base model.StatusFlowConfig, kinds ...string) (map[string]*model.FlowGraph, error) {
	r.calls++
	r.base = base
	r.kinds = kinds

	graphs := map[string]*model.FlowGraph{}
	for _, kind := range kinds {
		g, err := flow.BuildFlowGraph([]model.Event{
			{SubjectID: "p1", Category: "sta", Rank: 1},
			{SubjectID: "p1", Category: "inc", Rank: 2},
		})
		if err != nil {
			return nil, err
		}
		graphs[kind] = g
	}
	return graphs, nil
}

func statusViper(t *testing.T, args ...string) *viper.Viper {
	t.Helper()

	cmd := statusCmd()
	require.NoError(t, cmd.Flags().Parse(args))

	v, err := loadConfig(cmd)
	require.NoError(t, err)
	return v
}

func TestStatusConfig(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		config := statusConfig(statusViper(t))
		assert.Equal(t, model.DefaultStatusFlowConfig(), config)
	})

	t.Run("Flags are carried over", func(t *testing.T) {
		config := statusConfig(statusViper(t, "--kind", "a", "--max-rank", "2", "--prefix", "0", "--save", "--name", "batch"))
		assert.Equal(t, model.StatusFlowConfig{Kind: "a", MaxRank: 2, PrefixLen: 0, Save: true, Name: "batch"}, config)
	})
}

func TestWriteKinds(t *testing.T) {
	t.Run("Valid call writes one file per kind", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "flow.csv")
		v := statusViper(t, "--kind", "a", "--kind", "b", "--max-rank", "2", "--prefix", "0", "--out", out)
		svc := &recordingFlower{}

		err := writeKinds(context.Background(), statusCmd(), v, svc, v.GetStringSlice("kind"))
		require.NoError(t, err)

		assert.Equal(t, 2, svc.base.MaxRank, "Expected --max-rank to reach every kind")
		assert.Equal(t, 0, svc.base.PrefixLen)
		assert.Equal(t, []string{"a", "b"}, svc.kinds)

		for _, kind := range []string{"a", "b"} {
			b, err := os.ReadFile(filepath.Join(filepath.Dir(out), "flow_"+kind+".csv"))
			require.NoError(t, err)
			assert.Equal(t, "source,target,value\nsta.1,inc.2,1\n", string(b))
		}
	})

	t.Run("Stdout is rejected before querying", func(t *testing.T) {
		v := statusViper(t, "--kind", "a", "--kind", "b")
		svc := &recordingFlower{}

		err := writeKinds(context.Background(), statusCmd(), v, svc, v.GetStringSlice("kind"))
		assert.ErrorIs(t, err, model.ErrInvalidInput)
		assert.Zero(t, svc.calls, "Expected no flows to be built")
	})
}

func TestRunServer(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	t.Run("Listener failure is returned", func(t *testing.T) {
		e := echo.New()
		e.HideBanner = true

		done := make(chan error, 1)
		go func() { done <- runServer(context.Background(), e, "bad:addr:1", logger) }()

		select {
		case err := <-done:
			assert.Error(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("Expected runServer to return on listener failure")
		}
	})

	t.Run("Cancelled context shuts down", func(t *testing.T) {
		e := echo.New()
		e.HideBanner = true

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(100*time.Millisecond, cancel)

		err := runServer(ctx, e, "127.0.0.1:0", logger)
		assert.NoError(t, err)
	})
}
