package helper

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

// Database holds a connection pool together with its logger.
type Database struct {
	Name     string
	Logger   *slog.Logger
	Instance *sql.DB
}

// DatabaseConfiguration contains everything needed to open a connection.
type DatabaseConfiguration struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	Schema   string
	SSLMode  string
}

// NewDatabaseConfiguration reads the configuration from COHORTFLOW_DB_*
// environment variables. A .env file in the working directory is loaded
// first if present; variables already set in the environment win.
func NewDatabaseConfiguration() (*DatabaseConfiguration, error) {
	_ = godotenv.Load()

	config := &DatabaseConfiguration{
		Host:     os.Getenv("COHORTFLOW_DB_HOST"),
		Port:     os.Getenv("COHORTFLOW_DB_PORT"),
		Database: os.Getenv("COHORTFLOW_DB_DATABASE"),
		Username: os.Getenv("COHORTFLOW_DB_USERNAME"),
		Password: os.Getenv("COHORTFLOW_DB_PASSWORD"),
		Schema:   os.Getenv("COHORTFLOW_DB_SCHEMA"),
		SSLMode:  os.Getenv("COHORTFLOW_DB_SSLMODE"),
	}

	if config.Schema == "" {
		config.Schema = "public"
	}
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	err := config.Validate()
	if err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks that all required fields are set.
func (c *DatabaseConfiguration) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Host) == "" {
		missing = append(missing, "host")
	}
	if strings.TrimSpace(c.Port) == "" {
		missing = append(missing, "port")
	}
	if strings.TrimSpace(c.Database) == "" {
		missing = append(missing, "database")
	}
	if strings.TrimSpace(c.Username) == "" {
		missing = append(missing, "username")
	}
	if len(missing) > 0 {
		return NewError("database configuration", fmt.Errorf("missing %s", strings.Join(missing, ", ")))
	}
	return nil
}

// DSN returns the lib/pq connection URL.
func (c *DatabaseConfiguration) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.Username, c.Password),
		Host:   c.Host + ":" + c.Port,
		Path:   c.Database,
	}
	q := url.Values{}
	q.Set("sslmode", c.SSLMode)
	q.Set("search_path", c.Schema)
	u.RawQuery = q.Encode()
	return u.String()
}

// NewDatabase opens and pings a connection pool for config.
func NewDatabase(name string, config *DatabaseConfiguration, logger *slog.Logger) (*Database, error) {
	if config == nil {
		return nil, NewError("database configuration", fmt.Errorf("configuration is nil"))
	}
	if logger == nil {
		logger = slog.Default()
	}

	db := &Database{
		Name:   name,
		Logger: logger,
	}

	err := db.connect(config)
	if err != nil {
		return nil, err
	}

	return db, nil
}

// NewTestDatabase is NewDatabase with a pretty debug logger, for tests.
func NewTestDatabase(config *DatabaseConfiguration) (*Database, error) {
	logger := slog.New(NewPrettyHandler(os.Stdout, PrettyHandlerOptions{
		SlogOpts: slog.HandlerOptions{Level: slog.LevelDebug},
	}))
	return NewDatabase("test", config, logger)
}

func (d *Database) connect(config *DatabaseConfiguration) error {
	instance, err := sql.Open("postgres", config.DSN())
	if err != nil {
		return NewError("open database", err)
	}

	instance.SetMaxOpenConns(25)
	instance.SetMaxIdleConns(5)
	instance.SetConnMaxLifetime(30 * time.Minute)

	// The server may still be starting when a container was just launched.
	var pingErr error
	for attempt := 0; attempt < 5; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		pingErr = instance.PingContext(ctx)
		cancel()
		if pingErr == nil {
			break
		}
		time.Sleep(time.Duration(attempt+1) * 200 * time.Millisecond)
	}
	if pingErr != nil {
		instance.Close()
		return NewError("ping database", pingErr)
	}

	d.Instance = instance
	d.Logger.Info("Connected to database", slog.String("name", d.Name), slog.String("host", config.Host), slog.String("database", config.Database))

	return nil
}

// Close releases the connection pool.
func (d *Database) Close() error {
	if d == nil || d.Instance == nil {
		return nil
	}
	return d.Instance.Close()
}
