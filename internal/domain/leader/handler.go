package leader

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	repo      Repository
	staleness time.Duration
}

func NewHandler(repo Repository, staleness time.Duration) *Handler {
	return &Handler{repo: repo, staleness: staleness}
}

func (h *Handler) RegisterRoutes(ops *echo.Group) {
	ops.GET("/leases", h.ListLeases)
}

type leaseView struct {
	Lease
	Live bool `json:"live"`
}

func (h *Handler) ListLeases(c echo.Context) error {
	leases, err := h.repo.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	now := time.Now()
	views := make([]leaseView, 0, len(leases))
	for _, l := range leases {
		views = append(views, leaseView{Lease: l, Live: l.IsLive(now, h.staleness)})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"leases": views, "count": len(views)})
}
