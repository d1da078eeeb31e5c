package alert

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/safety/internal/platform/auth"
	"github.com/ehr/safety/internal/platform/db"
	"github.com/ehr/safety/internal/platform/worker"
)

// TaskCleanup names the periodic cleanup task.
const TaskCleanup = "cleanup"

// Trigger starts a registered background task. Implemented by worker.Periodic.
type Trigger interface {
	Trigger(name string) error
}

type Handler struct {
	svc   *Service
	tasks Trigger
}

func NewHandler(svc *Service, tasks Trigger) *Handler {
	return &Handler{svc: svc, tasks: tasks}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("admin", "physician", "nurse"))
	read.GET("/alerts", h.ListActive)
	read.GET("/alerts/:id", h.Get)
	read.POST("/alerts/:id/acknowledge", h.Acknowledge)

	admin := api.Group("", auth.RequireRole("admin"))
	admin.POST("/alerts/cleanup", h.RunCleanup)
}

func (h *Handler) ListActive(c echo.Context) error {
	var patientID *uuid.UUID
	if p := c.QueryParam("patient_id"); p != "" {
		id, err := uuid.Parse(p)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		patientID = &id
	}
	ctx := c.Request().Context()
	items, err := h.svc.ListActive(ctx, db.TenantFromContext(ctx), patientID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Alert{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items, "total": len(items)})
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	a, err := h.svc.Get(ctx, db.TenantFromContext(ctx), id)
	if err != nil {
		if IsNotFound(err) {
			return echo.NewHTTPError(http.StatusNotFound, "alert not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, a)
}

type acknowledgeRequest struct {
	AcknowledgedBy string `json:"acknowledged_by"`
}

func (h *Handler) Acknowledge(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req acknowledgeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()

	a, err := h.svc.Acknowledge(ctx, db.TenantFromContext(ctx), id, auth.Actor(ctx, req.AcknowledgedBy))
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, a)
	case IsNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, "alert not found")
	case errors.Is(err, ErrAlreadyAcknowledged):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrAcknowledgerRequired):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// RunCleanup starts a cleanup pass through the task runner, which also
// notifies subscribers of the tenants it changed.
func (h *Handler) RunCleanup(c echo.Context) error {
	err := h.tasks.Trigger(TaskCleanup)
	switch {
	case err == nil:
		return c.JSON(http.StatusAccepted, map[string]string{"task": TaskCleanup, "status": "started"})
	case errors.Is(err, worker.ErrTaskRunning):
		return echo.NewHTTPError(http.StatusConflict, "cleanup already running")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
