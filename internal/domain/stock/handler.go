package stock

import (
	"errors"
	"net/http"
	"strconv"

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
	g.GET("/batches", h.ListBatches)
	g.GET("/batches/:id", h.GetBatch)
	g.GET("/reports/low-stock", h.LowStock)
	g.GET("/reports/expiring-soon", h.ExpiringSoon)

	w := g.Group("", auth.RequireRole("pharmacist", "manager", "admin"))
	w.POST("/batches", h.CreateBatch)
	w.POST("/batches/:id/add-stock", h.AddStock)
	w.POST("/batches/:id/deduct-stock", h.DeductStock)
	w.DELETE("/batches/:id", h.DeleteBatch)

	m := g.Group("", auth.RequireRole("manager", "admin"))
	m.POST("/batches/:id/recall", h.Recall)
	m.POST("/batches/:id/unrecall", h.Unrecall)
	m.POST("/batches/:id/quarantine", h.Quarantine)
	m.POST("/batches/:id/release", h.Release)
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) CreateBatch(c echo.Context) error {
	pharmacyID, err := uuid.Parse(c.Param("pharmacyId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid pharmacy id")
	}
	var in CreateBatchInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	b, err := h.svc.CreateBatch(c.Request().Context(), pharmacyID, auth.ActorFromContext(c.Request().Context()), in)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) GetBatch(c echo.Context) error {
	pharmacyID, id, err := pathIDs(c)
	if err != nil {
		return err
	}
	b, err := h.svc.GetBatch(c.Request().Context(), pharmacyID, id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ListBatches(c echo.Context) error {
	pharmacyID, err := uuid.Parse(c.Param("pharmacyId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid pharmacy id")
	}
	f := ListFilter{
		Status: Status(c.QueryParam("status")),
		Search: c.QueryParam("q"),
	}
	if raw := c.QueryParam("medicine_id"); raw != "" {
		mid, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid medicine_id")
		}
		f.MedicineID = &mid
	}
	pg := pagination.FromContext(c)
	batches, total, err := h.svc.ListBatches(c.Request().Context(), pharmacyID, f, pg)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(batches, total, pg.Limit, pg.Offset))
}

func (h *Handler) AddStock(c echo.Context) error {
	pharmacyID, id, err := pathIDs(c)
	if err != nil {
		return err
	}
	var req quantityRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	b, err := h.svc.AddStock(c.Request().Context(), pharmacyID, id, auth.ActorFromContext(c.Request().Context()), req.Quantity)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) DeductStock(c echo.Context) error {
	pharmacyID, id, err := pathIDs(c)
	if err != nil {
		return err
	}
	var req quantityRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	b, err := h.svc.DeductStock(c.Request().Context(), pharmacyID, id, auth.ActorFromContext(c.Request().Context()), req.Quantity)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) Recall(c echo.Context) error {
	pharmacyID, id, err := pathIDs(c)
	if err != nil {
		return err
	}
	var req reasonRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	b, err := h.svc.Recall(c.Request().Context(), pharmacyID, id, auth.ActorFromContext(c.Request().Context()), req.Reason)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) Unrecall(c echo.Context) error {
	pharmacyID, id, err := pathIDs(c)
	if err != nil {
		return err
	}
	b, err := h.svc.Unrecall(c.Request().Context(), pharmacyID, id, auth.ActorFromContext(c.Request().Context()))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) Quarantine(c echo.Context) error {
	pharmacyID, id, err := pathIDs(c)
	if err != nil {
		return err
	}
	var req reasonRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	b, err := h.svc.Quarantine(c.Request().Context(), pharmacyID, id, auth.ActorFromContext(c.Request().Context()), req.Reason)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) Release(c echo.Context) error {
	pharmacyID, id, err := pathIDs(c)
	if err != nil {
		return err
	}
	b, err := h.svc.Release(c.Request().Context(), pharmacyID, id, auth.ActorFromContext(c.Request().Context()))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) DeleteBatch(c echo.Context) error {
	pharmacyID, id, err := pathIDs(c)
	if err != nil {
		return err
	}
	if err := h.svc.SoftDelete(c.Request().Context(), pharmacyID, id, auth.ActorFromContext(c.Request().Context())); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) LowStock(c echo.Context) error {
	pharmacyID, err := uuid.Parse(c.Param("pharmacyId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid pharmacy id")
	}
	pg := pagination.FromContext(c)
	batches, total, err := h.svc.LowStock(c.Request().Context(), pharmacyID, pg)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(batches, total, pg.Limit, pg.Offset))
}

func (h *Handler) ExpiringSoon(c echo.Context) error {
	pharmacyID, err := uuid.Parse(c.Param("pharmacyId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid pharmacy id")
	}
	withinDays := 30
	if raw := c.QueryParam("within_days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid within_days")
		}
		withinDays = n
	}
	pg := pagination.FromContext(c)
	batches, total, err := h.svc.ExpiringSoon(c.Request().Context(), pharmacyID, withinDays, pg)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(batches, total, pg.Limit, pg.Offset))
}

func pathIDs(c echo.Context) (uuid.UUID, uuid.UUID, error) {
	pharmacyID, err := uuid.Parse(c.Param("pharmacyId"))
	if err != nil {
		return uuid.Nil, uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid pharmacy id")
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid batch id")
	}
	return pharmacyID, id, nil
}

func mapError(err error) error {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusBadRequest, ve.Error())
	case errors.Is(err, ErrBatchNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicateBatch):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrBatchNotSellable):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
