package reminder

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type scheduleRequest struct {
	PatientID     string    `json:"patient_id"`
	AppointmentAt time.Time `json:"appointment_at"`
	Note          string    `json:"note"`
}

type Handler struct {
	queue *Queue
}

func NewHandler(q *Queue) *Handler {
	return &Handler{queue: q}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/reminders", h.ScheduleReminder)
}

func (h *Handler) ScheduleReminder(c echo.Context) error {
	var req scheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if _, err := uuid.Parse(req.PatientID); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}

	r, err := h.queue.Schedule(c.Request().Context(), Reminder{
		PatientID:     req.PatientID,
		AppointmentAt: req.AppointmentAt,
		Note:          req.Note,
	})
	switch {
	case err == nil:
		return c.JSON(http.StatusCreated, r)
	case errors.Is(err, ErrFireTimePassed):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrMissingPatient), errors.Is(err, ErrMissingAppointed):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusServiceUnavailable, "reminder queue unavailable")
	}
}
