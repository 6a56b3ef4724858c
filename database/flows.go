package database

import (
	"context"
	dbsql "database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/cohortflow/helper"
	"github.com/siherrmann/cohortflow/model"
	"github.com/siherrmann/cohortflow/sql"
)

// FlowsDBHandlerFunctions defines the interface for Flows database operations.
type FlowsDBHandlerFunctions interface {
	InsertFlow(flow *model.FlowSnapshot) error
	SelectFlow(rid uuid.UUID) (*model.FlowSnapshot, error)
	SelectAllFlows(lastCreatedAt *time.Time, limit int) ([]*model.FlowSnapshot, error)
	DeleteFlow(rid uuid.UUID) error
}

// FlowsDBHandler stores built flow graphs as JSONB snapshots.
type FlowsDBHandler struct {
	db *helper.Database
}

// NewFlowsDBHandler creates a new flows database handler.
// If force is true, it will reload the SQL functions even if they already exist.
func NewFlowsDBHandler(db *helper.Database, force bool) (*FlowsDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	flowsDbHandler := &FlowsDBHandler{
		db: db,
	}

	err := sql.Init(flowsDbHandler.db.Instance)
	if err != nil {
		return nil, helper.NewError("init sql", err)
	}

	err = sql.LoadFlowsSql(flowsDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load flows sql", err)
	}

	err = flowsDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized FlowsDBHandler")

	return flowsDbHandler, nil
}

// CreateTable creates the 'flows' table if it does not exist yet.
func (h *FlowsDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_flows();`)
	if err != nil {
		return helper.NewError("init flows", err)
	}

	h.db.Logger.Info("Checked/created table flows")

	return nil
}

// InsertFlow inserts a new snapshot
func (h *FlowsDBHandler) InsertFlow(flow *model.FlowSnapshot) error {
	row := h.db.Instance.QueryRow(
		`SELECT * FROM insert_flow($1, $2, $3)`,
		flow.Name,
		flow.Graph,
		flow.Metadata,
	)

	err := scanFlow(row, flow)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// SelectFlow retrieves a snapshot by RID. A missing RID yields an error
// wrapping sql.ErrNoRows.
func (h *FlowsDBHandler) SelectFlow(rid uuid.UUID) (*model.FlowSnapshot, error) {
	flow := &model.FlowSnapshot{}
	row := h.db.Instance.QueryRow(
		`SELECT * FROM select_flow($1)`,
		rid,
	)

	err := scanFlow(row, flow)
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return flow, nil
}

// SelectAllFlows retrieves snapshots newest first. Pass the CreatedAt of
// the last snapshot of the previous page to continue after it.
func (h *FlowsDBHandler) SelectAllFlows(lastCreatedAt *time.Time, limit int) ([]*model.FlowSnapshot, error) {
	rows, err := h.db.Instance.Query(
		`SELECT * FROM select_all_flows($1, $2)`,
		lastCreatedAt,
		limit,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var flows []*model.FlowSnapshot
	for rows.Next() {
		flow := &model.FlowSnapshot{}
		err := scanFlow(rows, flow)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}

		flows = append(flows, flow)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return flows, nil
}

// DeleteFlow deletes a snapshot by RID. A missing RID yields an error
// wrapping sql.ErrNoRows.
func (h *FlowsDBHandler) DeleteFlow(rid uuid.UUID) error {
	var deleted int
	err := h.db.Instance.QueryRow(
		`SELECT delete_flow($1)`,
		rid,
	).Scan(&deleted)
	if err != nil {
		return helper.NewError("scan", err)
	}
	if deleted == 0 {
		return helper.NewError("delete flow", dbsql.ErrNoRows)
	}
	return nil
}

func scanFlow(row scanner, flow *model.FlowSnapshot) error {
	return row.Scan(
		&flow.ID,
		&flow.RID,
		&flow.Name,
		&flow.Graph,
		&flow.Metadata,
		&flow.CreatedAt,
	)
}
