package restapi

import (
	"context"
	"net/http"

	"portfolio_tracker/internal/app/port"
	"portfolio_tracker/internal/app/service"

	"github.com/gin-gonic/gin"
)

// ProxyHandler serves proxy pool observability and control.
type ProxyHandler struct {
	pool      port.ProxyPool
	geo       port.GeoIPResolver
	scheduler *service.Scheduler
	logger    port.Logger
}

// NewProxyHandler creates a new ProxyHandler.
func NewProxyHandler(pool port.ProxyPool, geo port.GeoIPResolver, s *service.Scheduler, l port.Logger) *ProxyHandler {
	return &ProxyHandler{pool: pool, geo: geo, scheduler: s, logger: l}
}

// StatsHandler returns aggregate and per-proxy statistics, enriched with
// cached GeoIP countries where known. Read-only.
func (h *ProxyHandler) StatsHandler(c *gin.Context) {
	perProxy := h.pool.ProxyStats()
	if h.geo != nil {
		for i := range perProxy {
			if country, ok := h.geo.Country(perProxy[i].Host); ok {
				perProxy[i].Country = country
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"pool":    h.pool.Stats(),
		"proxies": perProxy,
	})
}

// ReloadHandler reparses the proxy source and resets pool state.
func (h *ProxyHandler) ReloadHandler(c *gin.Context) {
	if err := h.pool.Reload(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.pool.Stats())
}

// SweepHandler triggers a full proxy health sweep in the background.
func (h *ProxyHandler) SweepHandler(c *gin.Context) {
	go func() {
		stats := h.scheduler.RunHealthSweep(context.Background())
		h.logger.Info("Proxy health sweep finished",
			"working", stats.Working,
			"failed", stats.Failed,
			"unchecked", stats.Unchecked)
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "sweep started"})
}
