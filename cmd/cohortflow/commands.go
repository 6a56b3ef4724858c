package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/siherrmann/cohortflow"
	"github.com/siherrmann/cohortflow/core/flow"
	"github.com/siherrmann/cohortflow/core/graph"
	"github.com/siherrmann/cohortflow/helper"
	"github.com/siherrmann/cohortflow/loader"
	"github.com/siherrmann/cohortflow/model"
	"github.com/siherrmann/cohortflow/render"
	"github.com/siherrmann/cohortflow/server"
	loadSql "github.com/siherrmann/cohortflow/sql"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// connect opens the database configured by v and initializes all handlers.
func connect(cmd *cobra.Command) (*cohortflow.CohortFlow, *viper.Viper, error) {
	v, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}

	logger, err := newLogger(v)
	if err != nil {
		return nil, nil, err
	}

	dbConfig, err := databaseConfig(v)
	if err != nil {
		return nil, nil, err
	}

	c, err := cohortflow.NewWithLogger(dbConfig, logger)
	if err != nil {
		return nil, nil, err
	}
	return c, v, nil
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create tables and load the SQL functions",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, v, err := connect(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			if v.GetBool("force") {
				err := loadSql.LoadAllSql(c.DB.Instance, true)
				if err != nil {
					return helper.NewError("reload sql", err)
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Database initialized")
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "reload SQL functions even if they exist")
	addDatabaseFlags(cmd.Flags())
	return cmd
}

func buildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a flow diagram from a person_id,cat,rnk CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			in, err := openInput(v.GetString("in"), cmd.InOrStdin())
			if err != nil {
				return err
			}
			defer in.Close()

			events, err := loader.ReadEvents(in)
			if err != nil {
				return err
			}

			opts := model.DefaultFlowOptions()
			opts.MaxRank = v.GetInt("max-rank")
			if v.GetBool("densify") {
				opts.GapPolicy = model.GapDensify
			} else {
				opts.GapPolicy, err = model.ParseGapPolicy(v.GetString("gaps"))
				if err != nil {
					return err
				}
			}

			g, err := flow.Build(events, opts)
			if err != nil {
				return err
			}

			return writeGraph(cmd, v, g)
		},
	}
	cmd.Flags().String("in", "-", "events CSV, - for stdin")
	cmd.Flags().Bool("densify", false, "renumber ranks 1..N per subject first")
	cmd.Flags().String("gaps", string(model.GapBreak), "rank gap policy: break or error")
	addOutputFlags(cmd, 0)
	return cmd
}

func ingestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Store observations from a person_id,kind,cat,date,severity CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, v, err := connect(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			in, err := openInput(v.GetString("in"), cmd.InOrStdin())
			if err != nil {
				return err
			}
			defer in.Close()

			observations, err := loader.ReadObservations(in, v.GetString("kind"))
			if err != nil {
				return err
			}

			pointers := make([]*model.Observation, len(observations))
			for i := range observations {
				pointers[i] = &observations[i]
			}

			n, err := c.InsertObservations(pointers)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Inserted %d observations\n", n)
			return nil
		},
	}
	cmd.Flags().String("in", "-", "observations CSV, - for stdin")
	cmd.Flags().String("kind", model.DefaultStatusFlowConfig().Kind, "kind used when the CSV has no kind column")
	addDatabaseFlags(cmd.Flags())
	return cmd
}

func statusCmd() *cobra.Command {
	defaults := model.DefaultStatusFlowConfig()

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Build the flow of one or more observation kinds stored in the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, v, err := connect(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			kinds := v.GetStringSlice("kind")
			if len(kinds) > 1 {
				return writeKinds(ctx, cmd, v, c, kinds)
			}

			snapshot, err := c.StatusFlow(ctx, statusConfig(v))
			if err != nil {
				return err
			}
			if snapshot.RID != uuid.Nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Saved flow %s as %s\n", snapshot.Name, snapshot.RID)
			}

			if v.GetString("title") == "" {
				v.Set("title", snapshot.Name)
			}
			return writeGraph(cmd, v, &snapshot.Graph)
		},
	}
	cmd.Flags().StringSlice("kind", []string{defaults.Kind}, "observation kind, repeat to build several at once")
	cmd.Flags().Int("prefix", defaults.PrefixLen, "abbreviate categories to this many characters, 0 keeps them")
	cmd.Flags().Bool("save", false, "store the flow in the database")
	cmd.Flags().String("name", "", "name of the stored flow")
	addOutputFlags(cmd, defaults.MaxRank)
	addDatabaseFlags(cmd.Flags())
	return cmd
}

// statusConfig reads the status flags. The first --kind is used, the
// default kind if there is none.
func statusConfig(v *viper.Viper) model.StatusFlowConfig {
	config := model.StatusFlowConfig{
		Kind:      model.DefaultStatusFlowConfig().Kind,
		MaxRank:   v.GetInt("max-rank"),
		PrefixLen: v.GetInt("prefix"),
		Save:      v.GetBool("save"),
		Name:      v.GetString("name"),
	}
	if kinds := v.GetStringSlice("kind"); len(kinds) > 0 {
		config.Kind = kinds[0]
	}
	return config
}

type statusFlower interface {
	StatusFlows(ctx context.Context, base model.StatusFlowConfig, kinds ...string) (map[string]*model.FlowGraph, error)
}

// writeKinds writes one output per kind, named <out-stem>_<kind><ext>.
func writeKinds(ctx context.Context, cmd *cobra.Command, v *viper.Viper, svc statusFlower, kinds []string) error {
	out := v.GetString("out")
	if out == "-" || out == "" {
		return model.NewInvalidInputError("several kinds need a file for --out")
	}

	graphs, err := svc.StatusFlows(ctx, statusConfig(v), kinds...)
	if err != nil {
		return err
	}

	ext := filepath.Ext(out)
	stem := strings.TrimSuffix(out, ext)

	for _, kind := range kinds {
		v.Set("out", fmt.Sprintf("%s_%s%s", stem, kind, ext))
		v.Set("title", kind)
		err := writeGraph(cmd, v, graphs[kind])
		if err != nil {
			return err
		}
	}
	return nil
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, v, err := connect(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			logger, err := newLogger(v)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServer(ctx, server.New(c, logger), v.GetString("addr"), logger)
		},
	}
	cmd.Flags().String("addr", ":8080", "listen address")
	addDatabaseFlags(cmd.Flags())
	return cmd
}

// runServer serves until ctx is done or the listener fails, whichever
// comes first.
func runServer(ctx context.Context, e *echo.Echo, addr string, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Listening", slog.String("addr", addr))
		err := e.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return helper.NewError("start server", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func addOutputFlags(cmd *cobra.Command, maxRank int) {
	cmd.Flags().String("out", "-", "output file, - for stdout")
	cmd.Flags().String("format", "", "html, json or csv; defaults to the --out extension, else html")
	cmd.Flags().Bool("json", false, "shorthand for --format json")
	cmd.Flags().Int("max-rank", maxRank, "ignore ranks above this, 0 keeps all")
	cmd.Flags().String("title", "", "diagram title")
	cmd.Flags().String("focus", "", "only show flows through this node label, e.g. inc.2")
}

func outputFormat(v *viper.Viper) string {
	if v.GetBool("json") {
		return "json"
	}
	if f := v.GetString("format"); f != "" {
		return strings.ToLower(f)
	}
	switch strings.ToLower(filepath.Ext(v.GetString("out"))) {
	case ".json":
		return "json"
	case ".csv":
		return "csv"
	}
	return "html"
}

func writeGraph(cmd *cobra.Command, v *viper.Viper, g *model.FlowGraph) (err error) {
	if focus := v.GetString("focus"); focus != "" {
		g, err = graph.Focus(g, focus)
		if err != nil {
			return err
		}
	}

	var w io.Writer = cmd.OutOrStdout()
	if out := v.GetString("out"); out != "-" && out != "" {
		f, createErr := os.Create(out)
		if createErr != nil {
			return helper.NewError("create output", createErr)
		}
		defer func() {
			if cerr := f.Close(); err == nil {
				err = cerr
			}
		}()
		w = f
	}

	format := outputFormat(v)
	if format == "csv" {
		return loader.WriteEdges(w, g)
	}

	diagram, err := render.Sankey(g, render.Options{Title: v.GetString("title")})
	if err != nil {
		return err
	}

	switch format {
	case "json":
		b, err := diagram.JSON()
		if err != nil {
			return err
		}
		_, err = w.Write(append(b, '\n'))
		return err
	case "html":
		return diagram.WriteHTML(w)
	}
	return model.NewInvalidInputError("unknown output format %q", format)
}

func openInput(path string, stdin io.Reader) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, helper.NewError("open input", err)
	}
	return f, nil
}
