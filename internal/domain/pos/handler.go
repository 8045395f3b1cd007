package pos

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/rxpos/rxpos/internal/domain/shift"
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
	g := api.Group("/pharmacies/:pharmacyId")
	g.POST("/transactions", h.Checkout)
	g.GET("/transactions", h.ListTransactions)
	g.GET("/transactions/:id", h.GetTransaction)
	g.POST("/transactions/:id/refund", h.Refund, auth.RequireRole("manager", "admin"))
	g.GET("/reports/daily-summary", h.DailySummary, auth.RequireRole("manager", "admin"))
}

func (h *Handler) Checkout(c echo.Context) error {
	pharmacyID, err := uuid.Parse(c.Param("pharmacyId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid pharmacy id")
	}
	var in CheckoutInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	txn, err := h.svc.Checkout(c.Request().Context(), pharmacyID, auth.ActorFromContext(c.Request().Context()), in)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, txn)
}

func (h *Handler) GetTransaction(c echo.Context) error {
	pharmacyID, id, err := pathIDs(c)
	if err != nil {
		return err
	}
	txn, err := h.svc.Get(c.Request().Context(), pharmacyID, id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, txn)
}

func (h *Handler) ListTransactions(c echo.Context) error {
	pharmacyID, err := uuid.Parse(c.Param("pharmacyId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid pharmacy id")
	}
	pg := pagination.FromContext(c)
	txns, total, err := h.svc.List(c.Request().Context(), pharmacyID, pg)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(txns, total, pg.Limit, pg.Offset))
}

func (h *Handler) Refund(c echo.Context) error {
	pharmacyID, id, err := pathIDs(c)
	if err != nil {
		return err
	}
	var in RefundInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	txn, err := h.svc.Refund(c.Request().Context(), pharmacyID, id, auth.ActorFromContext(c.Request().Context()), in)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, txn)
}

func (h *Handler) DailySummary(c echo.Context) error {
	pharmacyID, err := uuid.Parse(c.Param("pharmacyId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid pharmacy id")
	}
	day := time.Now().UTC()
	if raw := c.QueryParam("date"); raw != "" {
		day, err = time.Parse("2006-01-02", raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid date, want YYYY-MM-DD")
		}
	}
	s, err := h.svc.DailySummary(c.Request().Context(), pharmacyID, day)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, s)
}

func pathIDs(c echo.Context) (uuid.UUID, uuid.UUID, error) {
	pharmacyID, err := uuid.Parse(c.Param("pharmacyId"))
	if err != nil {
		return uuid.Nil, uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid pharmacy id")
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid transaction id")
	}
	return pharmacyID, id, nil
}

func mapError(err error) error {
	var (
		ve *ValidationError
		ie *ItemError
	)
	switch {
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrEmptyTransaction), errors.Is(err, ErrPaymentMismatch):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrTransactionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, shift.ErrNoActiveShift):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrAlreadyRefunded), errors.Is(err, ErrRefundExceedsTotal), errors.Is(err, ErrItemAlreadyRefunded):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, stock.ErrInsufficientStock), errors.Is(err, stock.ErrBatchNotSellable):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &ie) && errors.Is(ie.Err, stock.ErrBatchNotFound):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
