package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/siherrmann/cohortflow/helper"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "cohortflow",
		Short:        "Build Sankey flow diagrams from ranked per-subject events",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "", "config file (yaml, json or toml)")
	rootCmd.PersistentFlags().String("log-level", "info", "debug, info, warn or error")

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(buildCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(serveCmd())

	return rootCmd
}

// addDatabaseFlags registers the connection flags of commands that talk to
// PostgreSQL.
func addDatabaseFlags(flags *pflag.FlagSet) {
	flags.String("db-host", "localhost", "database host")
	flags.String("db-port", "5432", "database port")
	flags.String("db-database", "", "database name")
	flags.String("db-username", "", "database user")
	flags.String("db-password", "", "database password")
	flags.String("db-schema", "public", "search_path schema")
	flags.String("db-sslmode", "disable", "lib/pq sslmode")
}

// loadConfig layers flags over COHORTFLOW_* environment variables (a .env
// file in the working directory included) over an optional config file.
func loadConfig(cmd *cobra.Command) (*viper.Viper, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("COHORTFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	err := v.BindPFlags(cmd.Flags())
	if err != nil {
		return nil, helper.NewError("bind flags", err)
	}

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		err := v.ReadInConfig()
		if err != nil {
			return nil, helper.NewError("read config", err)
		}
	}

	return v, nil
}

func databaseConfig(v *viper.Viper) (*helper.DatabaseConfiguration, error) {
	config := &helper.DatabaseConfiguration{
		Host:     v.GetString("db-host"),
		Port:     v.GetString("db-port"),
		Database: v.GetString("db-database"),
		Username: v.GetString("db-username"),
		Password: v.GetString("db-password"),
		Schema:   v.GetString("db-schema"),
		SSLMode:  v.GetString("db-sslmode"),
	}

	err := config.Validate()
	if err != nil {
		return nil, err
	}
	return config, nil
}

func newLogger(v *viper.Viper) (*slog.Logger, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(v.GetString("log-level")))
	if err != nil {
		return nil, helper.NewError("log level", fmt.Errorf("unknown level %q", v.GetString("log-level")))
	}

	opts := helper.PrettyHandlerOptions{
		SlogOpts: slog.HandlerOptions{Level: level},
	}
	return slog.New(helper.NewPrettyHandler(os.Stderr, opts)), nil
}
