package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// Check probes one pipeline concern for the health endpoint. The probe's
// value is embedded in the payload under Name; a probe error marks the whole
// response unhealthy.
type Check struct {
	Name  string
	Probe func(ctx context.Context) (interface{}, error)
}

// poolReport is the connection-pool slice of the health payload. Claim loops
// and the ops API share one pool; saturation is acquired/max.
type poolReport struct {
	Acquired   int32   `json:"acquired"`
	Idle       int32   `json:"idle"`
	Max        int32   `json:"max"`
	Saturation float64 `json:"saturation"`
}

// HealthHandler reports database reachability plus the pipeline checks wired
// at startup (lease liveness, dead-letter backlog). Any failing piece turns
// the response 503.
func HealthHandler(pool *pgxpool.Pool, checks ...Check) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		body := map[string]interface{}{}
		healthy := true

		if err := pool.Ping(ctx); err != nil {
			healthy = false
			body["database"] = map[string]string{"error": err.Error()}
		} else {
			stat := pool.Stat()
			var saturation float64
			if stat.MaxConns() > 0 {
				saturation = float64(stat.AcquiredConns()) / float64(stat.MaxConns())
			}
			body["pool"] = poolReport{
				Acquired:   stat.AcquiredConns(),
				Idle:       stat.IdleConns(),
				Max:        stat.MaxConns(),
				Saturation: saturation,
			}
		}

		for _, ch := range checks {
			v, err := ch.Probe(ctx)
			if err != nil {
				healthy = false
				body[ch.Name] = map[string]string{"error": err.Error()}
				continue
			}
			body[ch.Name] = v
		}

		status := http.StatusOK
		body["status"] = "healthy"
		if !healthy {
			status = http.StatusServiceUnavailable
			body["status"] = "unhealthy"
		}
		return c.JSON(status, body)
	}
}
