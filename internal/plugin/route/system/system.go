// Package system mounts the health, readiness, maintenance and metrics
// endpoints, and provides the middleware that holds back chat traffic while
// the memory migration is running.
package system

import (
	"net/http"
	"sync/atomic"

	"github.com/chirino/chat-memory/internal/migration"
	registryroute "github.com/chirino/chat-memory/internal/registry/route"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusFunc reports the memory migration status.
type StatusFunc func() migration.Status

var (
	started atomic.Bool
	tracker atomic.Pointer[StatusFunc]
)

// MarkReady signals that the server finished initializing.
func MarkReady() {
	started.Store(true)
}

// TrackMigration makes readiness and the maintenance gate follow fn. Without
// a tracker the migration is considered disabled.
func TrackMigration(fn StatusFunc) {
	if fn == nil {
		tracker.Store(nil)
		return
	}
	tracker.Store(&fn)
}

func migrationStatus() (migration.Status, bool) {
	fn := tracker.Load()
	if fn == nil {
		return migration.Status{}, false
	}
	return (*fn)(), true
}

// Ready reports whether the service should receive traffic.
func Ready() bool {
	if !started.Load() {
		return false
	}
	st, tracked := migrationStatus()
	return !tracked || st.State.Finished()
}

// InMaintenance reports whether chat data is being migrated, or was left
// partially migrated by a failed run.
func InMaintenance() bool {
	st, tracked := migrationStatus()
	if !tracked {
		return false
	}
	return st.InProgress() || (st.State == migration.StateFailed && st.PartiallyMigrated)
}

// MaintenanceResult is the body returned while in maintenance.
type MaintenanceResult struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Note    string `json:"note,omitempty"`
}

var maintenanceResult = MaintenanceResult{
	Title:   "Migrating Chat Memory",
	Message: "An upgrade requires that all non-document memories be migrated. This may take several minutes...",
	Note:    "Note: All document memories will need to be re-imported.",
}

// MaintenanceMiddleware answers 503 while InMaintenance is true.
func MaintenanceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if InMaintenance() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, maintenanceResult)
			return
		}
		c.Next()
	}
}

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 0,
		Type:  registryroute.RouteTypeManagement,
		Loader: func(r gin.IRouter) error {
			// Liveness: process is up
			r.GET("/health", func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"status": "ok"})
			})

			r.GET("/ready", func(c *gin.Context) {
				if Ready() {
					c.JSON(http.StatusOK, gin.H{"status": "ready"})
				} else {
					c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
				}
			})

			r.GET("/maintenanceStatus", func(c *gin.Context) {
				st, tracked := migrationStatus()
				body := gin.H{"inMaintenance": InMaintenance()}
				if tracked {
					body["migration"] = st
				}
				if InMaintenance() {
					body["result"] = maintenanceResult
				}
				c.JSON(http.StatusOK, body)
			})

			r.GET("/metrics", gin.WrapH(promhttp.Handler()))
			return nil
		},
	})
}
