package fulfillment

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/rxpos/rxpos/internal/domain/stock"
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
	g := api.Group("/pharmacies/:pharmacyId", auth.RequireRole("pharmacist", "manager", "admin"))
	g.POST("/fulfillments", h.Create)
	g.GET("/fulfillments", h.List)
	g.GET("/fulfillments/:id", h.Get)
	g.POST("/fulfillments/:id/start", h.Start)
	g.POST("/fulfillments/:id/items/:itemId/dispense", h.Dispense)
	g.POST("/fulfillments/:id/items/:itemId/substitute", h.Substitute)
	g.POST("/fulfillments/:id/cancel", h.Cancel)
}

type createRequest struct {
	PrescriptionID uuid.UUID `json:"prescription_id"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Create(c echo.Context) error {
	pharmacyID, err := uuid.Parse(c.Param("pharmacyId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid pharmacy id")
	}
	var req createRequest
	if err := c.Bind(&req); err != nil || req.PrescriptionID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "prescription_id required")
	}
	f, err := h.svc.Create(c.Request().Context(), pharmacyID, req.PrescriptionID, auth.ActorFromContext(c.Request().Context()))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, f)
}

func (h *Handler) Get(c echo.Context) error {
	pharmacyID, id, err := pathIDs(c)
	if err != nil {
		return err
	}
	f, err := h.svc.Get(c.Request().Context(), pharmacyID, id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) List(c echo.Context) error {
	pharmacyID, err := uuid.Parse(c.Param("pharmacyId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid pharmacy id")
	}
	pg := pagination.FromContext(c)
	out, total, err := h.svc.List(c.Request().Context(), pharmacyID, Status(c.QueryParam("status")), pg)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(out, total, pg.Limit, pg.Offset))
}

func (h *Handler) Start(c echo.Context) error {
	pharmacyID, id, err := pathIDs(c)
	if err != nil {
		return err
	}
	f, err := h.svc.Start(c.Request().Context(), pharmacyID, id, auth.ActorFromContext(c.Request().Context()))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) Dispense(c echo.Context) error {
	pharmacyID, id, err := pathIDs(c)
	if err != nil {
		return err
	}
	itemID, err := uuid.Parse(c.Param("itemId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid item id")
	}
	var in DispenseInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	f, err := h.svc.Dispense(c.Request().Context(), pharmacyID, id, itemID, auth.ActorFromContext(c.Request().Context()), in)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) Substitute(c echo.Context) error {
	pharmacyID, id, err := pathIDs(c)
	if err != nil {
		return err
	}
	itemID, err := uuid.Parse(c.Param("itemId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid item id")
	}
	var in SubstituteInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	f, err := h.svc.Substitute(c.Request().Context(), pharmacyID, id, itemID, auth.ActorFromContext(c.Request().Context()), in)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) Cancel(c echo.Context) error {
	pharmacyID, id, err := pathIDs(c)
	if err != nil {
		return err
	}
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	f, err := h.svc.Cancel(c.Request().Context(), pharmacyID, id, auth.ActorFromContext(c.Request().Context()), req.Reason)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, f)
}

func pathIDs(c echo.Context) (uuid.UUID, uuid.UUID, error) {
	pharmacyID, err := uuid.Parse(c.Param("pharmacyId"))
	if err != nil {
		return uuid.Nil, uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid pharmacy id")
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid fulfillment id")
	}
	return pharmacyID, id, nil
}

func mapError(err error) error {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusBadRequest, ve.Error())
	case errors.Is(err, ErrFulfillmentNotFound), errors.Is(err, ErrPrescriptionNotFound), errors.Is(err, ErrItemNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicateFulfillment):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrItemAlreadyDispensed),
		errors.Is(err, ErrDispenseExceedsOrder), errors.Is(err, ErrEmptyPrescription),
		errors.Is(err, stock.ErrInsufficientStock), errors.Is(err, stock.ErrBatchNotSellable):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
