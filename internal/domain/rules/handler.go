package rules

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/safety/internal/platform/auth"
	"github.com/ehr/safety/internal/platform/worker"
)

// TaskEvaluate names the periodic evaluation task.
const TaskEvaluate = "evaluate"

// Trigger starts a registered background task. Implemented by worker.Periodic.
type Trigger interface {
	Trigger(name string) error
}

type Handler struct {
	tasks Trigger
}

func NewHandler(tasks Trigger) *Handler {
	return &Handler{tasks: tasks}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	admin := api.Group("", auth.RequireRole("admin"))
	admin.POST("/alerts/evaluate", h.Evaluate)
}

// Evaluate starts an evaluation cycle through the task runner so it never
// overlaps a scheduled one.
func (h *Handler) Evaluate(c echo.Context) error {
	err := h.tasks.Trigger(TaskEvaluate)
	switch {
	case err == nil:
		return c.JSON(http.StatusAccepted, map[string]string{"task": TaskEvaluate, "status": "started"})
	case errors.Is(err, worker.ErrTaskRunning):
		return echo.NewHTTPError(http.StatusConflict, "evaluation cycle already running")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
