// Package server exposes flow building and stored flows over HTTP.
package server

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/siherrmann/cohortflow/core/graph"
	"github.com/siherrmann/cohortflow/model"
	"github.com/siherrmann/cohortflow/render"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Service is what the handlers need from the application. *cohortflow.CohortFlow
// implements it.
type Service interface {
	Build(events []model.Event, opts model.FlowOptions) (*model.FlowGraph, error)
	StatusFlow(ctx context.Context, config model.StatusFlowConfig) (*model.FlowSnapshot, error)
	Flow(rid uuid.UUID) (*model.FlowSnapshot, error)
	ListFlows(lastCreatedAt *time.Time, limit int) ([]*model.FlowSnapshot, error)
	DeleteFlow(rid uuid.UUID) error
}

// BuildRequest is the body of POST /flows/build.
type BuildRequest struct {
	Events  []model.Event     `json:"events"`
	Options model.FlowOptions `json:"options"`
	Title   string            `json:"title,omitempty"`
}

// FlowResponse carries a graph together with its diagram.
type FlowResponse struct {
	RID    *uuid.UUID       `json:"rid,omitempty"`
	Name   string           `json:"name,omitempty"`
	Graph  *model.FlowGraph `json:"graph"`
	Sankey *render.Diagram  `json:"sankey"`
}

// Handler provides HTTP handlers for the flows API.
type Handler struct {
	svc Service
	log *slog.Logger
}

// NewHandler creates a new flows handler.
func NewHandler(svc Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, log: logger}
}

// New returns an echo instance with the flows API mounted at the root.
func New(svc Service, logger *slog.Logger) *echo.Echo {
	h := NewHandler(svc, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			h.log.Info("Request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			)
			return nil
		},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	h.RegisterRoutes(e.Group(""))

	return e
}

// RegisterRoutes registers the flows API routes.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	flows := g.Group("/flows")
	flows.POST("/build", h.BuildFlow)
	flows.POST("/status", h.StatusFlow)
	flows.GET("", h.ListFlows)
	flows.GET("/:rid", h.GetFlow)
	flows.GET("/:rid/sankey.html", h.GetFlowHTML)
	flows.DELETE("/:rid", h.DeleteFlow)
}

// BuildFlow aggregates the posted events without storing anything.
func (h *Handler) BuildFlow(c echo.Context) error {
	var req BuildRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	g, err := h.svc.Build(req.Events, req.Options)
	if err != nil {
		return h.httpError(err)
	}

	return h.respond(c, http.StatusOK, nil, "", g, req.Title)
}

// StatusFlow builds the flow of one observation kind from the database.
// Fields missing from the body keep their defaults and the result is
// stored unless "save" is false.
func (h *Handler) StatusFlow(c echo.Context) error {
	config := model.DefaultStatusFlowConfig()
	config.Save = true
	if err := c.Bind(&config); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	snapshot, err := h.svc.StatusFlow(c.Request().Context(), config)
	if err != nil {
		return h.httpError(err)
	}

	status := http.StatusOK
	var rid *uuid.UUID
	if snapshot.RID != uuid.Nil {
		status = http.StatusCreated
		rid = &snapshot.RID
	}
	return h.respond(c, status, rid, snapshot.Name, &snapshot.Graph, snapshot.Name)
}

// ListFlows pages through stored flows. Query parameters: limit and
// before (RFC 3339 created_at of the last flow seen).
func (h *Handler) ListFlows(c echo.Context) error {
	limit := defaultPageSize
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = min(n, maxPageSize)
	}

	var before *time.Time
	if v := c.QueryParam("before"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "before must be an RFC 3339 timestamp")
		}
		before = &t
	}

	flows, err := h.svc.ListFlows(before, limit)
	if err != nil {
		return h.httpError(err)
	}
	if flows == nil {
		flows = []*model.FlowSnapshot{}
	}

	return c.JSON(http.StatusOK, flows)
}

// GetFlow returns a stored flow with its diagram.
func (h *Handler) GetFlow(c echo.Context) error {
	snapshot, err := h.lookup(c)
	if err != nil {
		return err
	}

	return h.respond(c, http.StatusOK, &snapshot.RID, snapshot.Name, &snapshot.Graph, snapshot.Name)
}

// GetFlowHTML renders a stored flow as a standalone page. The optional
// focus query parameter narrows it to the flows through one node label.
func (h *Handler) GetFlowHTML(c echo.Context) error {
	snapshot, err := h.lookup(c)
	if err != nil {
		return err
	}

	g := &snapshot.Graph
	if focus := c.QueryParam("focus"); focus != "" {
		g, err = graph.Focus(g, focus)
		if err != nil {
			return h.httpError(err)
		}
	}

	title := c.QueryParam("title")
	if title == "" {
		title = snapshot.Name
	}

	diagram, err := render.Sankey(g, render.Options{Title: title})
	if err != nil {
		return h.httpError(err)
	}

	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(http.StatusOK)
	return diagram.WriteHTML(c.Response())
}

// DeleteFlow removes a stored flow.
func (h *Handler) DeleteFlow(c echo.Context) error {
	rid, err := uuid.Parse(c.Param("rid"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid flow id")
	}

	err = h.svc.DeleteFlow(rid)
	if err != nil {
		return h.httpError(err)
	}

	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) lookup(c echo.Context) (*model.FlowSnapshot, error) {
	rid, err := uuid.Parse(c.Param("rid"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid flow id")
	}

	snapshot, err := h.svc.Flow(rid)
	if err != nil {
		return nil, h.httpError(err)
	}
	return snapshot, nil
}

func (h *Handler) respond(c echo.Context, status int, rid *uuid.UUID, name string, g *model.FlowGraph, title string) error {
	diagram, err := render.Sankey(g, render.Options{Title: title})
	if err != nil {
		return h.httpError(err)
	}

	return c.JSON(status, FlowResponse{
		RID:    rid,
		Name:   name,
		Graph:  g,
		Sankey: diagram,
	})
}

// httpError maps domain errors to status codes. EmptyResultError also
// matches ErrInvalidInput, so it is checked first.
func (h *Handler) httpError(err error) error {
	switch {
	case errors.Is(err, model.ErrEmptyResult):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, model.ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, sql.ErrNoRows):
		return echo.NewHTTPError(http.StatusNotFound, "flow not found")
	}

	h.log.Error("Request failed", slog.String("error", err.Error()))
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}
