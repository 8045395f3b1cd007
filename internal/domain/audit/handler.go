package audit

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/rxpos/rxpos/internal/platform/auth"
	"github.com/rxpos/rxpos/pkg/pagination"
)

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("auditor", "admin"))
	g.GET("/pharmacies/:pharmacyId/audit-entries", h.ListEntries)
	g.GET("/pharmacies/:pharmacyId/audit-chain/verify", h.VerifyChain)
}

func (h *Handler) ListEntries(c echo.Context) error {
	pharmacyID, err := uuid.Parse(c.Param("pharmacyId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid pharmacy id")
	}
	pg := pagination.FromContext(c)
	entries, total, err := h.svc.List(c.Request().Context(), pharmacyID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(entries, total, pg.Limit, pg.Offset))
}

func (h *Handler) VerifyChain(c echo.Context) error {
	pharmacyID, err := uuid.Parse(c.Param("pharmacyId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid pharmacy id")
	}
	report, err := h.svc.VerifyChain(c.Request().Context(), pharmacyID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !report.Valid {
		// Tampering with historical records is an incident, not a user error.
		h.logger.Error().
			Str("pharmacy_id", pharmacyID.String()).
			Int("faults", len(report.Faults)).
			Msg("audit chain verification failed")
	}
	return c.JSON(http.StatusOK, report)
}
