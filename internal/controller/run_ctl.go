package controller

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"raisely_sync_v1/internal/repository"
)

// RunController 同步审计查询控制器
type RunController struct {
	logRepo repository.SyncLogRepository
}

// NewRunController 创建审计查询控制器
func NewRunController(logRepo repository.SyncLogRepository) *RunController {
	return &RunController{logRepo: logRepo}
}

// ==================== Handler 实现 ====================

// ListRuns 分页查询同步运行
// @Summary 查询同步运行列表
// @Tags Run
// @Param mode query string false "触发方式 webhook/bulk/cron"
// @Param page query int false "页码"
// @Param page_size query int false "每页条数"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/runs [get]
func (c *RunController) ListRuns(ctx *gin.Context) {
	runs, total, err := c.logRepo.ListRuns(ctx.Request.Context(), repository.RunFilter{
		Mode:     ctx.Query("mode"),
		Page:     parsePage(ctx, "page"),
		PageSize: parsePage(ctx, "page_size"),
	})
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"code": 500, "message": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"code": 200,
		"data": gin.H{"total": total, "runs": runs},
	})
}

// GetRun 查询单次运行
// @Summary 按 run_id 查询单次同步运行
// @Tags Run
// @Param run_id path string true "运行 ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /api/v1/runs/{run_id} [get]
func (c *RunController) GetRun(ctx *gin.Context) {
	run, err := c.logRepo.GetRunByID(ctx.Request.Context(), ctx.Param("run_id"))
	if err != nil {
		ctx.JSON(http.StatusNotFound, gin.H{"code": 404, "message": "运行记录不存在"})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"code": 200, "data": run})
}

// ListRecords 查询运行明细
// @Summary 查询单次运行的档案同步明细
// @Tags Run
// @Param run_id path string true "运行 ID"
// @Param action query string false "按动作筛选 created/updated/skipped/error"
// @Param campaign query string false "按战役名筛选"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/runs/{run_id}/records [get]
func (c *RunController) ListRecords(ctx *gin.Context) {
	records, total, err := c.logRepo.ListRecords(ctx.Request.Context(), repository.RecordFilter{
		RunID:        ctx.Param("run_id"),
		Action:       ctx.Query("action"),
		CampaignName: ctx.Query("campaign"),
		Page:         parsePage(ctx, "page"),
		PageSize:     parsePage(ctx, "page_size"),
	})
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"code": 500, "message": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"code": 200,
		"data": gin.H{"total": total, "records": records},
	})
}

// ==================== 工具函数 ====================

func parsePage(ctx *gin.Context, key string) int {
	n, err := strconv.Atoi(ctx.Query(key))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
