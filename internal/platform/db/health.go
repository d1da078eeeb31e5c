package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireDuration string `json:"acquire_duration"`
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

// HealthHandler pings the store and reports pool statistics when stats is
// non-nil.
func HealthHandler(p Pinger, stats func() *PoolStats) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		body := map[string]interface{}{"status": "healthy"}
		if stats != nil {
			body["pool"] = stats()
		}

		if err := p.Ping(ctx); err != nil {
			body["status"] = "unhealthy"
			body["error"] = err.Error()
			return c.JSON(http.StatusServiceUnavailable, body)
		}
		return c.JSON(http.StatusOK, body)
	}
}
