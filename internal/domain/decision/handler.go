package decision

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// Resender pushes a flagged decision back through the submission path. Wired
// to the worker's submit pipeline at startup.
type Resender interface {
	Resend(ctx context.Context, rec *Record) error
}

type Handler struct {
	svc      *Service
	resender Resender
}

func NewHandler(svc *Service, resender Resender) *Handler {
	return &Handler{svc: svc, resender: resender}
}

func (h *Handler) RegisterRoutes(ops *echo.Group) {
	ops.GET("/decisions/utn-fix", h.ListUTNFix)
	ops.GET("/decisions/:trackingID", h.GetActive)
	ops.POST("/decisions/:trackingID/resend", h.Resend)
}

func (h *Handler) ListUTNFix(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	recs, err := h.svc.ListRequiringUTNFix(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if recs == nil {
		recs = []Record{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"decisions": recs, "count": len(recs)})
}

func (h *Handler) GetActive(c echo.Context) error {
	rec, err := h.svc.GetActive(c.Request().Context(), c.Param("trackingID"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "no active decision for tracking id")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) Resend(c echo.Context) error {
	ctx := c.Request().Context()
	rec, err := h.svc.RequestResend(ctx, c.Param("trackingID"))
	if err != nil {
		var ite *InvalidTransitionError
		switch {
		case errors.Is(err, ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "no active decision for tracking id")
		case errors.As(err, &ite):
			return echo.NewHTTPError(http.StatusConflict, ite.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	if err := h.resender.Resend(ctx, rec); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "resend started", "tracking_id": rec.TrackingID})
}
