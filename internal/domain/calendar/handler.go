package calendar

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medilink/medilink/internal/platform/apperr"
)

type Handler struct {
	provisioner *Provisioner
	rules       *RuleStore
}

func NewHandler(p *Provisioner, rs *RuleStore) *Handler {
	return &Handler{provisioner: p, rules: rs}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/calendar/doctor/:providerId", h.GetCalendar)
	api.POST("/calendar/doctor/:providerId/auto-create", h.AutoCreate)

	api.POST("/availability/:calendarId/rules", h.CreateRule)
	api.GET("/availability/:calendarId/rules", h.ListRules)
	api.PATCH("/availability/rules/:id", h.UpdateRule)
	api.DELETE("/availability/rules/:id", h.DeleteRule)
}

// ParseID reads a UUID path parameter.
func ParseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid %s", name)
	}
	return id, nil
}

// BindBody decodes the JSON body into dst and runs the echo validator.
func BindBody(c echo.Context, dst interface{}) error {
	if err := c.Bind(dst); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) && he.Internal != nil {
			return apperr.Validation("invalid request body: %v", he.Internal)
		}
		return apperr.Validation("invalid request body: %v", err)
	}
	return c.Validate(dst)
}

// -- Calendar Handlers --

func (h *Handler) GetCalendar(c echo.Context) error {
	res, err := h.provisioner.Lookup(c.Request().Context(), c.Param("providerId"))
	if err != nil {
		return err
	}
	if res.Status != LookupFound {
		return apperr.NotFound("calendar")
	}
	return c.JSON(http.StatusOK, res.Calendar)
}

func (h *Handler) AutoCreate(c echo.Context) error {
	cal, err := h.provisioner.GetOrCreate(c.Request().Context(), c.Param("providerId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cal)
}

// -- Rule Handlers --

func (h *Handler) CreateRule(c echo.Context) error {
	calendarID, err := ParseID(c, "calendarId")
	if err != nil {
		return err
	}
	var in RuleInput
	if err := BindBody(c, &in); err != nil {
		return err
	}
	ar, err := h.rules.CreateRule(c.Request().Context(), calendarID, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, ar)
}

func (h *Handler) ListRules(c echo.Context) error {
	calendarID, err := ParseID(c, "calendarId")
	if err != nil {
		return err
	}
	items, err := h.rules.ListRules(c.Request().Context(), calendarID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) UpdateRule(c echo.Context) error {
	id, err := ParseID(c, "id")
	if err != nil {
		return err
	}
	var patch RulePatch
	if err := BindBody(c, &patch); err != nil {
		return err
	}
	ar, err := h.rules.UpdateRule(c.Request().Context(), id, patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ar)
}

func (h *Handler) DeleteRule(c echo.Context) error {
	id, err := ParseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.rules.DeleteRule(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
