package database

import (
	"context"
	"fmt"
	"time"

	"github.com/siherrmann/cohortflow/helper"
	"github.com/siherrmann/cohortflow/model"
	"github.com/siherrmann/cohortflow/sql"
)

// ObservationsDBHandlerFunctions defines the interface for Observations database operations.
type ObservationsDBHandlerFunctions interface {
	InsertObservation(observation *model.Observation) error
	SelectObservationsBySubject(subjectID string) ([]*model.Observation, error)
	SelectRankedEvents(ctx context.Context, kind string, maxRank int, prefixLen int) ([]model.Event, error)
	DeleteObservationsBySubject(subjectID string) (int, error)
}

// ObservationsDBHandler handles observation-related database operations
type ObservationsDBHandler struct {
	db *helper.Database
}

// NewObservationsDBHandler creates a new observations database handler.
// It loads the observation SQL functions and creates the table.
// If force is true, it will reload the SQL functions even if they already exist.
func NewObservationsDBHandler(db *helper.Database, force bool) (*ObservationsDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	observationsDbHandler := &ObservationsDBHandler{
		db: db,
	}

	err := sql.Init(observationsDbHandler.db.Instance)
	if err != nil {
		return nil, helper.NewError("init sql", err)
	}

	err = sql.LoadObservationsSql(observationsDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load observations sql", err)
	}

	err = observationsDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized ObservationsDBHandler")

	return observationsDbHandler, nil
}

// CreateTable creates the 'observations' table and its indexes if they
// do not exist yet.
func (h *ObservationsDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_observations();`)
	if err != nil {
		return helper.NewError("init observations", err)
	}

	h.db.Logger.Info("Checked/created table observations")

	return nil
}

// InsertObservation inserts a new observation and fills its generated fields.
func (h *ObservationsDBHandler) InsertObservation(observation *model.Observation) error {
	row := h.db.Instance.QueryRow(
		`SELECT * FROM insert_observation($1, $2, $3, $4, $5, $6)`,
		observation.SubjectID,
		observation.Kind,
		observation.Category,
		observation.ObservedOn,
		observation.Severity,
		observation.Metadata,
	)

	err := scanObservation(row, observation)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// SelectObservationsBySubject returns the observations of one subject,
// oldest first.
func (h *ObservationsDBHandler) SelectObservationsBySubject(subjectID string) ([]*model.Observation, error) {
	rows, err := h.db.Instance.Query(
		`SELECT * FROM select_observations_by_subject($1)`,
		subjectID,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var observations []*model.Observation
	for rows.Next() {
		observation := &model.Observation{}
		err := scanObservation(rows, observation)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}

		observations = append(observations, observation)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return observations, nil
}

// SelectRankedEvents returns the ranked events of one observation kind:
// the most severe observation per subject and day, numbered by date,
// limited to maxRank days per subject (0 keeps all) and with categories
// cut to prefixLen characters (0 keeps them whole).
func (h *ObservationsDBHandler) SelectRankedEvents(ctx context.Context, kind string, maxRank int, prefixLen int) ([]model.Event, error) {
	rows, err := h.db.Instance.QueryContext(
		ctx,
		`SELECT * FROM select_ranked_events($1, $2, $3)`,
		kind,
		maxRank,
		prefixLen,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var event model.Event
		err := rows.Scan(
			&event.SubjectID,
			&event.Category,
			&event.Rank,
		)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}

		events = append(events, event)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return events, nil
}

// DeleteObservationsBySubject deletes every observation of a subject and
// returns how many were removed.
func (h *ObservationsDBHandler) DeleteObservationsBySubject(subjectID string) (int, error) {
	var deleted int
	err := h.db.Instance.QueryRow(
		`SELECT delete_observations_by_subject($1)`,
		subjectID,
	).Scan(&deleted)
	if err != nil {
		return 0, helper.NewError("exec", err)
	}
	return deleted, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanObservation(row scanner, observation *model.Observation) error {
	return row.Scan(
		&observation.ID,
		&observation.RID,
		&observation.SubjectID,
		&observation.Kind,
		&observation.Category,
		&observation.ObservedOn,
		&observation.Severity,
		&observation.Metadata,
		&observation.CreatedAt,
	)
}
