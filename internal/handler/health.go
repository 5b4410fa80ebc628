package handler

import (
	"context"
	"net/http"
	"time"

	"cashdrawer/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Health returns a JSON health check response.
// Checks DB and Redis connectivity; never exposes credentials or internals.
func Health(db *gorm.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		dbStatus := "connected"
		sqlDB, err := db.DB()
		if err != nil || sqlDB.PingContext(ctx) != nil {
			dbStatus = "error"
		}

		redisStatus := "connected"
		if rdb.Ping(ctx).Err() != nil {
			redisStatus = "error"
		}

		status := http.StatusOK
		if dbStatus != "connected" || redisStatus != "connected" {
			status = http.StatusServiceUnavailable
		}

		body := gin.H{
			"ok":    status == http.StatusOK,
			"db":    dbStatus,
			"redis": redisStatus,
		}
		if redisStatus == "connected" {
			if n, err := worker.DLQLength(ctx, rdb, worker.QueueReports); err == nil {
				body["report_dlq"] = n
			}
		}
		c.JSON(status, body)
	}
}

// ReportDLQ lists the newest dead-lettered report jobs for an administrator.
func ReportDLQ(rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, limit := pageParams(c, 20)
		entries, err := worker.PeekDLQ(c.Request.Context(), rdb, worker.QueueReports, int64(limit))
		if err != nil {
			respondError(c, err)
			return
		}
		total, _ := worker.DLQLength(c.Request.Context(), rdb, worker.QueueReports)
		c.JSON(http.StatusOK, gin.H{"items": entries, "total": total})
	}
}
