package bcma

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/safety/internal/domain/clinical"
	"github.com/ehr/safety/internal/platform/auth"
	"github.com/ehr/safety/internal/platform/db"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/bcma", auth.RequireRole("admin", "physician", "nurse"))
	g.POST("/verify", h.Verify)
	g.POST("/administer", h.Administer)
	g.GET("/lookup", h.Lookup)
	g.GET("/administrations", h.History)
}

func (h *Handler) Verify(c echo.Context) error {
	var req VerifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	res, err := h.svc.Verify(ctx, db.TenantFromContext(ctx), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Administer(c echo.Context) error {
	var req AdministerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	req.AdministeredBy = auth.Actor(ctx, req.AdministeredBy)

	rec, res, err := h.svc.Administer(ctx, db.TenantFromContext(ctx), req)
	if errors.Is(err, ErrIdentityMismatch) || errors.Is(err, ErrTimingViolation) {
		return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{
			"error":        err.Error(),
			"verification": res,
		})
	}
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"administration": rec,
		"verification":   res,
	})
}

func (h *Handler) Lookup(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "token is required")
	}
	ctx := c.Request().Context()
	res, err := h.svc.Lookup(ctx, db.TenantFromContext(ctx), token)
	if err != nil {
		return httpError(err)
	}
	if !res.Found {
		return c.JSON(http.StatusNotFound, res)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) History(c echo.Context) error {
	medicationID, err := uuid.Parse(c.QueryParam("medication_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid medication_id")
	}
	limit := 0
	if l := c.QueryParam("limit"); l != "" {
		if limit, err = strconv.Atoi(l); err != nil || limit < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
	}
	ctx := c.Request().Context()
	items, err := h.svc.History(ctx, db.TenantFromContext(ctx), medicationID, limit)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*AdministrationRecord{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items, "total": len(items)})
}

func httpError(err error) error {
	switch {
	case errors.Is(err, clinical.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrAdministratorRequired), errors.Is(err, ErrInvalidOverride):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
