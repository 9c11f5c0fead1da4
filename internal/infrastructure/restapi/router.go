package restapi

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter configures the Gin engine with all API routes.
func SetupRouter(wallets *WalletHandler, proxies *ProxyHandler, progressWS *ProgressWSHandler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	router.Use(cors.New(corsConfig))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/wallets", wallets.ListWalletsHandler)
		v1.GET("/wallets/:address", wallets.GetWalletHandler)
		v1.DELETE("/wallets/:address", wallets.RemoveWalletHandler)
		v1.GET("/aggregate", wallets.AggregateHandler)
		v1.GET("/tokens/by-chain", wallets.TokensByChainHandler)
		v1.POST("/store/deduplicate", wallets.DeduplicateHandler)

		v1.POST("/fetch", wallets.StartFetchHandler)
		v1.GET("/fetch/progress", wallets.FetchProgressHandler)

		v1.GET("/proxies/stats", proxies.StatsHandler)
		v1.POST("/proxies/reload", proxies.ReloadHandler)
		v1.POST("/proxies/sweep", proxies.SweepHandler)
	}

	router.GET("/ws/progress", progressWS.Handle)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}
