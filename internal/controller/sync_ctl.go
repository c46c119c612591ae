package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"raisely_sync_v1/internal/task"
	"raisely_sync_v1/pkg/raisely"
)

// SyncController 手动同步触发控制器
type SyncController struct {
	resyncTask *task.ResyncTask
}

// NewSyncController 创建同步控制器
func NewSyncController(resyncTask *task.ResyncTask) *SyncController {
	return &SyncController{resyncTask: resyncTask}
}

// ==================== Handler 实现 ====================

// SyncAll 触发全量调和
// @Summary 手动触发全量调和 (后台执行)
// @Tags Sync
// @Param dry_run query bool false "试运行，只报告不写入"
// @Param force query bool false "已存在节点也强制刷新 (默认只补缺失)"
// @Success 200 {object} map[string]interface{}
// @Failure 429 {object} map[string]interface{} "限流中"
// @Router /api/v1/sync/full [post]
func (c *SyncController) SyncAll(ctx *gin.Context) {
	dryRun := ctx.Query("dry_run") == "true"
	force := ctx.Query("force") == "true"
	c.resyncTask.ResyncNow(force, dryRun)

	ctx.JSON(http.StatusOK, gin.H{
		"code":    200,
		"message": "全量调和任务已启动",
		"data":    gin.H{"dry_run": dryRun, "force": force},
	})
}

// SyncCampaign 同步单个战役
// @Summary 手动同步单个战役下的档案 (同步执行，返回汇总)
// @Tags Sync
// @Param campaign path string true "战役名或 slug"
// @Param dry_run query bool false "试运行，只报告不写入"
// @Param force query bool false "已存在节点也强制刷新 (默认只补缺失)"
// @Success 200 {object} map[string]interface{}
// @Failure 429 {object} map[string]interface{} "限流中"
// @Router /api/v1/sync/campaigns/{campaign} [post]
func (c *SyncController) SyncCampaign(ctx *gin.Context) {
	campaign := ctx.Param("campaign")
	if campaign == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": "缺少战役标识"})
		return
	}

	dryRun := ctx.Query("dry_run") == "true"
	force := ctx.Query("force") == "true"

	report, err := c.resyncTask.RunOnce(ctx.Request.Context(), raisely.ProfileFilter{
		Status:   raisely.StatusActive,
		Campaign: campaign,
	}, force, dryRun)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"code": 500, "message": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"code":    200,
		"message": "战役同步完成",
		"data": gin.H{
			"campaign": campaign,
			"dry_run":  dryRun,
			"run_id":   report.RunID,
			"created":  report.Created,
			"updated":  report.Updated,
			"skipped":  report.Skipped,
			"errored":  report.Errored,
		},
	})
}
