package outbox

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(ops *echo.Group) {
	ops.GET("/outbox/:trackingID/chain", h.GetChain)
}

func (h *Handler) GetChain(c echo.Context) error {
	trackingID := c.Param("trackingID")
	entries, err := h.svc.Chain(c.Request().Context(), trackingID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if len(entries) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "no outbox chain for tracking id")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"tracking_id": trackingID,
		"entries":     entries,
		"count":       len(entries),
	})
}
