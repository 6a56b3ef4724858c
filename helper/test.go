package helper

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	testDatabaseImage = "postgres:17-alpine"
	testDatabaseName  = "database"
	testDatabaseUser  = "user"
	testDatabasePwd   = "password"
)

// MustStartPostgresContainer starts a throw-away Postgres and returns its
// terminate function together with the mapped host port.
func MustStartPostgresContainer() (func(ctx context.Context, opts ...testcontainers.TerminateOption) error, string, error) {
	ctx := context.Background()

	container, err := postgres.Run(
		ctx,
		testDatabaseImage,
		postgres.WithDatabase(testDatabaseName),
		postgres.WithUsername(testDatabaseUser),
		postgres.WithPassword(testDatabasePwd),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, "", NewError("start postgres container", err)
	}

	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return container.Terminate, "", NewError("mapped port", err)
	}

	return container.Terminate, port.Port(), nil
}

// SetTestDatabaseConfigEnvs points the COHORTFLOW_DB_* variables at the
// container started by MustStartPostgresContainer for the duration of t.
func SetTestDatabaseConfigEnvs(t *testing.T, dbPort string) {
	t.Setenv("COHORTFLOW_DB_HOST", "localhost")
	t.Setenv("COHORTFLOW_DB_PORT", dbPort)
	t.Setenv("COHORTFLOW_DB_DATABASE", testDatabaseName)
	t.Setenv("COHORTFLOW_DB_USERNAME", testDatabaseUser)
	t.Setenv("COHORTFLOW_DB_PASSWORD", testDatabasePwd)
	t.Setenv("COHORTFLOW_DB_SCHEMA", "public")
	t.Setenv("COHORTFLOW_DB_SSLMODE", "disable")
}
