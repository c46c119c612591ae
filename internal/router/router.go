package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"raisely_sync_v1/internal/controller"
	"raisely_sync_v1/internal/middleware"
)

// InitRoutes 注册所有路由
func InitRoutes(r *gin.Engine,
	webhookCtl *controller.WebhookController,
	syncCtl *controller.SyncController,
	runCtl *controller.RunController) {
	// 1. 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// 2. Webhook 入口 (共享密钥认证)
	webhooks := r.Group("/webhooks", middleware.WebhookAuth())
	{
		// POST /webhooks/raisely
		webhooks.POST("/raisely", webhookCtl.HandleProfileEvent)
	}

	// 3. API 路由组
	api := r.Group("/api/v1")
	{
		// sync 手动触发组 (全部限流)
		sync := api.Group("/sync")
		{
			// POST /api/v1/sync/full
			sync.POST("/full",
				middleware.GlobalSyncRateLimit(middleware.SyncTypeBulk, 0),
				syncCtl.SyncAll)

			// POST /api/v1/sync/campaigns/:campaign
			sync.POST("/campaigns/:campaign",
				middleware.SyncRateLimit(middleware.SyncTypeCampaign, 0),
				syncCtl.SyncCampaign)
		}

		// runs 审计查询组
		runs := api.Group("/runs")
		{
			// GET /api/v1/runs
			runs.GET("", runCtl.ListRuns)
			runs.GET("/:run_id", runCtl.GetRun)
			runs.GET("/:run_id/records", runCtl.ListRecords)
		}
	}
}
