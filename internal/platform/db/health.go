package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

// HealthReport is the body of the /health/db endpoint.
type HealthReport struct {
	Status            string     `json:"status"`
	Error             string     `json:"error,omitempty"`
	Schema            string     `json:"schema,omitempty"`
	PendingMigrations *int       `json:"pending_migrations,omitempty"`
	Pool              *PoolStats `json:"pool"`
}

func (r *HealthReport) httpStatus() int {
	if r.Status == "healthy" {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}

// HealthHandler pings the database and, when a migrator is given, reports
// how many migrations the schema is missing. Pending migrations mark the
// database as degraded.
func HealthHandler(pool *pgxpool.Pool, migrator *Migrator, schema string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		report := &HealthReport{Status: "healthy", Pool: GetPoolStats(pool)}
		if err := pool.Ping(ctx); err != nil {
			report.Status = "unhealthy"
			report.Error = err.Error()
			return c.JSON(report.httpStatus(), report)
		}

		if migrator != nil {
			report.Schema = schema
			statuses, err := migrator.Status(ctx, schema)
			if err != nil {
				report.Status = "unhealthy"
				report.Error = err.Error()
				return c.JSON(report.httpStatus(), report)
			}
			n := countPending(statuses)
			report.PendingMigrations = &n
			if n > 0 {
				report.Status = "degraded"
			}
		}
		return c.JSON(report.httpStatus(), report)
	}
}

func countPending(statuses []MigrationStatus) int {
	n := 0
	for _, s := range statuses {
		if !s.Applied {
			n++
		}
	}
	return n
}
