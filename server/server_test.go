package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/cohortflow/core/flow"
	"github.com/siherrmann/cohortflow/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeService keeps snapshots in memory.
type fakeService struct {
	flows      map[uuid.UUID]*model.FlowSnapshot
	lastConfig model.StatusFlowConfig
	lastLimit  int
	lastBefore *time.Time
	failWith   error
}

func newFakeService() *fakeService {
	return &fakeService{flows: map[uuid.UUID]*model.FlowSnapshot{}}
}

func (f *fakeService) Build(events []model.Event, opts model.FlowOptions) (*model.FlowGraph, error) {
	return flow.Build(events, opts)
}

func (f *fakeService) StatusFlow(ctx context.Context, config model.StatusFlowConfig) (*model.FlowSnapshot, error) {
	f.lastConfig = config
	if f.failWith != nil {
		return nil, f.failWith
	}

	g, err := flow.BuildFlowGraph([]model.Event{
		{SubjectID: "p1", Category: "sta", Rank: 1},
		{SubjectID: "p1", Category: "inc", Rank: 2},
	})
	if err != nil {
		return nil, err
	}

	snapshot := &model.FlowSnapshot{Name: config.SnapshotName(), Graph: *g}
	if config.Save {
		snapshot.RID = uuid.New()
		f.flows[snapshot.RID] = snapshot
	}
	return snapshot, nil
}

func (f *fakeService) Flow(rid uuid.UUID) (*model.FlowSnapshot, error) {
	snapshot, ok := f.flows[rid]
	if !ok {
		return nil, fmt.Errorf("scan: %w", sql.ErrNoRows)
	}
	return snapshot, nil
}

func (f *fakeService) ListFlows(lastCreatedAt *time.Time, limit int) ([]*model.FlowSnapshot, error) {
	f.lastBefore = lastCreatedAt
	f.lastLimit = limit
	if f.failWith != nil {
		return nil, f.failWith
	}

	var flows []*model.FlowSnapshot
	for _, s := range f.flows {
		flows = append(flows, s)
	}
	return flows, nil
}

func (f *fakeService) DeleteFlow(rid uuid.UUID) error {
	if _, ok := f.flows[rid]; !ok {
		return fmt.Errorf("delete flow: %w", sql.ErrNoRows)
	}
	delete(f.flows, rid)
	return nil
}

func do(t *testing.T, svc Service, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	e := New(svc, nil)
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestBuildFlow(t *testing.T) {
	svc := newFakeService()

	t.Run("Valid events", func(t *testing.T) {
		body := `{"title":"demo","events":[
			{"subject_id":"p1","category":"A","rank":1},
			{"subject_id":"p1","category":"B","rank":2},
			{"subject_id":"p2","category":"A","rank":1},
			{"subject_id":"p2","category":"C","rank":2}]}`

		rec := do(t, svc, http.MethodPost, "/flows/build", body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp FlowResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Nil(t, resp.RID)
		assert.Equal(t, []string{"A.1", "B.2", "C.2"}, resp.Sankey.Labels)
		assert.Equal(t, []int{0, 0}, resp.Sankey.Source)
		assert.Equal(t, []int{1, 2}, resp.Sankey.Target)
		assert.Equal(t, []int{1, 1}, resp.Sankey.Value)
		assert.Equal(t, "demo", resp.Sankey.Title)
	})

	t.Run("Gap policy error is a bad request", func(t *testing.T) {
		body := `{"options":{"gap_policy":"error"},"events":[
			{"subject_id":"p1","category":"A","rank":1},
			{"subject_id":"p1","category":"B","rank":3}]}`

		rec := do(t, svc, http.MethodPost, "/flows/build", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "rank gap")
	})

	t.Run("Duplicate rank is a bad request", func(t *testing.T) {
		body := `{"events":[
			{"subject_id":"p1","category":"A","rank":1},
			{"subject_id":"p1","category":"B","rank":1}]}`

		rec := do(t, svc, http.MethodPost, "/flows/build", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("No events is unprocessable", func(t *testing.T) {
		rec := do(t, svc, http.MethodPost, "/flows/build", `{"events":[]}`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("Malformed body", func(t *testing.T) {
		rec := do(t, svc, http.MethodPost, "/flows/build", `{"events":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestStatusFlow(t *testing.T) {
	t.Run("Defaults and save", func(t *testing.T) {
		svc := newFakeService()

		rec := do(t, svc, http.MethodPost, "/flows/status", `{"kind":"GGO_status_change"}`)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		assert.Equal(t, 10, svc.lastConfig.MaxRank)
		assert.Equal(t, 3, svc.lastConfig.PrefixLen)
		assert.True(t, svc.lastConfig.Save)

		var resp FlowResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.NotNil(t, resp.RID)
		assert.Equal(t, "GGO_status_change_first_10", resp.Name)
		assert.Contains(t, svc.flows, *resp.RID)
	})

	t.Run("Without saving", func(t *testing.T) {
		svc := newFakeService()

		rec := do(t, svc, http.MethodPost, "/flows/status", `{"kind":"k","max_rank":4,"save":false}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 4, svc.lastConfig.MaxRank)
		assert.Empty(t, svc.flows)
	})

	t.Run("Empty result", func(t *testing.T) {
		svc := newFakeService()
		svc.failWith = fmt.Errorf("status: %w", &model.EmptyResultError{What: "no observations"})

		rec := do(t, svc, http.MethodPost, "/flows/status", `{"kind":"k"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("Infrastructure failure", func(t *testing.T) {
		svc := newFakeService()
		svc.failWith = errors.New("connection refused")

		rec := do(t, svc, http.MethodPost, "/flows/status", `{"kind":"k"}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "connection refused")
	})
}

func TestStoredFlows(t *testing.T) {
	svc := newFakeService()
	snapshot, err := svc.StatusFlow(context.Background(), model.StatusFlowConfig{Kind: "k", MaxRank: 2, Save: true})
	require.NoError(t, err)
	rid := snapshot.RID.String()

	t.Run("List with paging parameters", func(t *testing.T) {
		rec := do(t, svc, http.MethodGet, "/flows?limit=500&before=2024-01-02T03:04:05Z", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, maxPageSize, svc.lastLimit)
		require.NotNil(t, svc.lastBefore)
		assert.Equal(t, 2024, svc.lastBefore.Year())

		var flows []model.FlowSnapshot
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &flows))
		assert.Len(t, flows, 1)
	})

	t.Run("List rejects a bad limit", func(t *testing.T) {
		rec := do(t, svc, http.MethodGet, "/flows?limit=zero", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Get flow", func(t *testing.T) {
		rec := do(t, svc, http.MethodGet, "/flows/"+rid, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp FlowResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, []string{"sta.1", "inc.2"}, resp.Graph.Labels())
	})

	t.Run("Get flow as HTML", func(t *testing.T) {
		rec := do(t, svc, http.MethodGet, "/flows/"+rid+"/sankey.html?title=Status", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
		assert.Contains(t, rec.Body.String(), "<title>Status</title>")
		assert.Contains(t, rec.Body.String(), "sta.1")
	})

	t.Run("Focus on an unknown node", func(t *testing.T) {
		rec := do(t, svc, http.MethodGet, "/flows/"+rid+"/sankey.html?focus=zzz.1", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Unknown flow", func(t *testing.T) {
		rec := do(t, svc, http.MethodGet, "/flows/"+uuid.NewString(), "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Invalid flow id", func(t *testing.T) {
		rec := do(t, svc, http.MethodGet, "/flows/not-a-uuid", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Delete flow", func(t *testing.T) {
		rec := do(t, svc, http.MethodDelete, "/flows/"+rid, "")
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, svc.flows)
	})

	t.Run("Delete unknown flow", func(t *testing.T) {
		rec := do(t, svc, http.MethodDelete, "/flows/"+rid, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = do(t, svc, http.MethodDelete, "/flows/"+uuid.NewString(), "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHealth(t *testing.T) {
	rec := do(t, newFakeService(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
