package shift

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/rxpos/rxpos/internal/platform/auth"
	"github.com/rxpos/rxpos/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/pharmacies/:pharmacyId")
	g.POST("/shifts", h.OpenShift)
	g.POST("/shifts/close", h.CloseShift)
	g.GET("/shifts/active", h.ActiveShift)
	g.GET("/shifts/:id", h.GetShift)
	g.GET("/shifts", h.ListShifts, auth.RequireRole("manager", "admin"))
}

type openRequest struct {
	OpeningCash float64 `json:"opening_cash"`
}

type closeRequest struct {
	ClosingCash float64 `json:"closing_cash"`
}

func (h *Handler) OpenShift(c echo.Context) error {
	pharmacyID, err := uuid.Parse(c.Param("pharmacyId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid pharmacy id")
	}
	var req openRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	sh, err := h.svc.Open(c.Request().Context(), pharmacyID, auth.ActorFromContext(c.Request().Context()), req.OpeningCash)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, sh)
}

func (h *Handler) CloseShift(c echo.Context) error {
	pharmacyID, err := uuid.Parse(c.Param("pharmacyId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid pharmacy id")
	}
	var req closeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	sh, err := h.svc.Close(c.Request().Context(), pharmacyID, auth.ActorFromContext(c.Request().Context()), req.ClosingCash)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, sh)
}

func (h *Handler) ActiveShift(c echo.Context) error {
	pharmacyID, err := uuid.Parse(c.Param("pharmacyId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid pharmacy id")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	sh, err := h.svc.Active(c.Request().Context(), pharmacyID, actor.ID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, sh)
}

func (h *Handler) GetShift(c echo.Context) error {
	pharmacyID, err := uuid.Parse(c.Param("pharmacyId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid pharmacy id")
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid shift id")
	}
	sh, err := h.svc.Get(c.Request().Context(), pharmacyID, id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, sh)
}

func (h *Handler) ListShifts(c echo.Context) error {
	pharmacyID, err := uuid.Parse(c.Param("pharmacyId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid pharmacy id")
	}
	pg := pagination.FromContext(c)
	shifts, total, err := h.svc.List(c.Request().Context(), pharmacyID, pg)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(shifts, total, pg.Limit, pg.Offset))
}

func mapError(err error) error {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusBadRequest, ve.Error())
	case errors.Is(err, ErrShiftNotFound), errors.Is(err, ErrNoActiveShift):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicateOpenShift):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrShiftClosed):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
