package sql

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
)

//go:embed init.sql
var initSQL string

//go:embed observations.sql
var observationsSQL string

//go:embed flows.sql
var flowsSQL string

// Function lists for verification
var ObservationsFunctions = []string{
	"init_observations",
	"insert_observation",
	"select_observations_by_subject",
	"select_ranked_events",
	"delete_observations_by_subject",
}

var FlowsFunctions = []string{
	"init_flows",
	"insert_flow",
	"select_flow",
	"select_all_flows",
	"delete_flow",
}

// Init intializes db extensions
func Init(db *sql.DB) error {
	_, err := db.Exec(initSQL)
	if err != nil {
		return fmt.Errorf("error executing init SQL: %w", err)
	}

	slog.Info("Database extensions initialized successfully")
	return nil
}

// LoadObservationsSql loads observation-related SQL functions
func LoadObservationsSql(db *sql.DB, force bool) error {
	return loadSql(db, "observations", observationsSQL, ObservationsFunctions, force)
}

// LoadFlowsSql loads flow-related SQL functions
func LoadFlowsSql(db *sql.DB, force bool) error {
	return loadSql(db, "flows", flowsSQL, FlowsFunctions, force)
}

// LoadAllSql loads all SQL functions
func LoadAllSql(db *sql.DB, force bool) error {
	if err := Init(db); err != nil {
		return err
	}

	if err := LoadObservationsSql(db, force); err != nil {
		return err
	}

	if err := LoadFlowsSql(db, force); err != nil {
		return err
	}

	return nil
}

func loadSql(db *sql.DB, name string, script string, functions []string, force bool) error {
	if !force {
		exist, err := checkFunctions(db, functions)
		if err != nil {
			return fmt.Errorf("error checking existing %s functions: %w", name, err)
		}
		if exist {
			return nil
		}
	}

	_, err := db.Exec(script)
	if err != nil {
		return fmt.Errorf("error executing %s SQL: %w", name, err)
	}

	exist, err := checkFunctions(db, functions)
	if err != nil {
		return fmt.Errorf("error checking existing functions: %w", err)
	}
	if !exist {
		return fmt.Errorf("not all required SQL functions were created")
	}

	slog.Info("SQL functions loaded successfully", slog.String("group", name))
	return nil
}

// checkFunctions verifies that all required functions exist in the database
func checkFunctions(db *sql.DB, sqlFunctions []string) (bool, error) {
	var allExist bool
	for _, f := range sqlFunctions {
		err := db.QueryRow(
			`SELECT EXISTS(SELECT 1 FROM pg_proc WHERE proname = $1);`,
			f,
		).Scan(&allExist)
		if err != nil {
			return false, fmt.Errorf("error checking existence of function %s: %w", f, err)
		}
		if !allExist {
			slog.Debug("Function does not exist", slog.String("function", f))
			break
		}
	}
	return allExist, nil
}
