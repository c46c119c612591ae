package controller

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"raisely_sync_v1/internal/service"
	"raisely_sync_v1/pkg/raisely"
	"raisely_sync_v1/pkg/utils"
)

// WebhookController Raisely webhook 接入控制器
type WebhookController struct {
	syncSvc *service.SyncService
}

// NewWebhookController 创建 webhook 控制器
func NewWebhookController(syncSvc *service.SyncService) *WebhookController {
	return &WebhookController{syncSvc: syncSvc}
}

// ==================== Handler 实现 ====================

// HandleProfileEvent 处理档案事件
// @Summary 接收 Raisely 档案 webhook
// @Tags Webhook
// @Accept json
// @Param payload body raisely.WebhookPayload true "webhook 载荷"
// @Success 200 {object} map[string]interface{}
// @Failure 422 {object} map[string]interface{} "载荷缺少档案体"
// @Router /webhooks/raisely [post]
func (c *WebhookController) HandleProfileEvent(ctx *gin.Context) {
	var payload raisely.WebhookPayload
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{
			"code":    400,
			"message": "载荷解析失败",
		})
		return
	}

	// Raisely 对非 2xx 响应会重试，事件 uuid 去重避免重复处理
	if payload.Data.UUID != "" {
		if _, seen := utils.GetCache(webhookDedupKey(payload.Data.UUID)); seen {
			ctx.JSON(http.StatusOK, gin.H{
				"code":    200,
				"message": "事件已处理，忽略重放",
				"data":    gin.H{"event_uuid": payload.Data.UUID},
			})
			return
		}
	}

	profile := payload.Data.ProfilePayload()
	if profile == nil {
		ctx.JSON(http.StatusUnprocessableEntity, gin.H{
			"code":    422,
			"message": "载荷缺少档案体",
		})
		return
	}

	outcome, err := c.syncSvc.SyncWebhookEvent(ctx.Request.Context(), profile, service.SyncOptions{
		EventType: payload.Data.Type,
	})
	if err != nil {
		log.Printf("[WebhookController] 事件 %s 档案 %s 同步失败: %v",
			payload.Data.Type, outcome.RaiselyID, err)
		// 详细原因只进日志，响应体保持简短
		ctx.JSON(http.StatusInternalServerError, gin.H{
			"code":    500,
			"message": "同步失败",
			"data":    gin.H{"raisely_id": outcome.RaiselyID, "action": outcome.Action},
		})
		return
	}

	if payload.Data.UUID != "" {
		utils.SetCache(webhookDedupKey(payload.Data.UUID), string(outcome.Action))
	}

	ctx.JSON(http.StatusOK, gin.H{
		"code":    200,
		"message": "同步完成",
		"data":    outcome,
	})
}

func webhookDedupKey(eventUUID string) string {
	return "webhook:event:" + eventUUID
}
