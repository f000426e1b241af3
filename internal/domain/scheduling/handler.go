package scheduling

import (
	"net/http"
	"strconv"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/labstack/echo/v4"

	"github.com/medilink/medilink/internal/domain/calendar"
	"github.com/medilink/medilink/internal/platform/apperr"
	"github.com/medilink/medilink/pkg/pagination"
)

type Handler struct {
	slots           SlotReader
	svc             *BookingService
	defaultDuration int
}

// NewHandler serves slot reads from slots (usually the cached reader) and
// bookings from svc. defaultDuration applies when a slot query omits it.
func NewHandler(slots SlotReader, svc *BookingService, defaultDuration int) *Handler {
	return &Handler{slots: slots, svc: svc, defaultDuration: defaultDuration}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/availability/:calendarId/slots", h.ListSlots)

	api.POST("/appointments", h.BookAppointment)
	api.GET("/appointments", h.ListAppointments)
	api.GET("/appointments/:id", h.GetAppointment)
	api.PATCH("/appointments/:id/status", h.UpdateStatus)
	api.POST("/appointments/:id/cancel", h.CancelAppointment)
}

// -- Slot Handlers --

// ListSlots accepts startDate and endDate (inclusive), or date for a single
// day, plus an optional duration in minutes.
func (h *Handler) ListSlots(c echo.Context) error {
	calendarID, err := calendar.ParseID(c, "calendarId")
	if err != nil {
		return err
	}

	duration := h.defaultDuration
	if v := c.QueryParam("duration"); v != "" {
		duration, err = strconv.Atoi(v)
		if err != nil {
			return apperr.Validation("duration must be a whole number of minutes")
		}
	}

	start, end, err := dateRange(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	var slots []Slot
	if start == end {
		slots, err = h.slots.Generate(ctx, calendarID, start, duration)
	} else {
		slots, err = h.slots.GenerateRange(ctx, calendarID, start, end, duration)
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, slots)
}

func dateRange(c echo.Context) (civil.Date, civil.Date, error) {
	if v := c.QueryParam("date"); v != "" {
		d, err := parseDate("date", v)
		return d, d, err
	}
	startRaw := c.QueryParam("startDate")
	if startRaw == "" {
		return civil.Date{}, civil.Date{}, apperr.Validation("startDate or date is required")
	}
	start, err := parseDate("startDate", startRaw)
	if err != nil {
		return civil.Date{}, civil.Date{}, err
	}
	end := start
	if v := c.QueryParam("endDate"); v != "" {
		if end, err = parseDate("endDate", v); err != nil {
			return civil.Date{}, civil.Date{}, err
		}
	}
	return start, end, nil
}

func parseDate(name, v string) (civil.Date, error) {
	d, err := civil.ParseDate(v)
	if err != nil {
		return civil.Date{}, apperr.Validation("%s must be a YYYY-MM-DD date", name)
	}
	return d, nil
}

// -- Appointment Handlers --

func (h *Handler) BookAppointment(c echo.Context) error {
	var req BookingRequest
	if err := calendar.BindBody(c, &req); err != nil {
		return err
	}
	a, err := h.svc.Book(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := calendar.ParseID(c, "id")
	if err != nil {
		return err
	}
	a, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

// ListAppointments filters by patient_id or provider_id; one is required.
func (h *Handler) ListAppointments(c echo.Context) error {
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()

	var (
		items []*Appointment
		total int
		err   error
	)
	patientID := strings.TrimSpace(c.QueryParam("patient_id"))
	providerID := strings.TrimSpace(c.QueryParam("provider_id"))
	switch {
	case patientID != "":
		items, total, err = h.svc.ListByPatient(ctx, patientID, pg.Limit, pg.Offset)
	case providerID != "":
		items, total, err = h.svc.ListByProvider(ctx, providerID, pg.Limit, pg.Offset)
	default:
		return apperr.Validation("patient_id or provider_id is required")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg, c.Request().URL))
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := calendar.ParseID(c, "id")
	if err != nil {
		return err
	}
	var req StatusRequest
	if err := calendar.BindBody(c, &req); err != nil {
		return err
	}
	a, err := h.svc.Transition(c.Request().Context(), id, req.Status, req.Notes)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	id, err := calendar.ParseID(c, "id")
	if err != nil {
		return err
	}
	var req CancelRequest
	if err := calendar.BindBody(c, &req); err != nil {
		return err
	}
	a, err := h.svc.Cancel(c.Request().Context(), id, req.Notes)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}
