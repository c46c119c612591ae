package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"raisely_sync_v1/pkg/slugify"
)

// ==================== 同步限流中间件 ====================

// SyncRateLimit 同步限流中间件
// 按战役 + 同步类型维度进行限流
//
// 使用示例:
//
//	router.POST("/api/v1/sync/campaigns/:campaign",
//	    middleware.SyncRateLimit(middleware.SyncTypeCampaign, 0),
//	    controller.TriggerCampaignSync,
//	)
//
// 参数:
//   - syncType: 同步类型
//   - interval: 冷却间隔，0 表示使用默认值
func SyncRateLimit(syncType SyncType, interval time.Duration) gin.HandlerFunc {
	if interval == 0 {
		interval = GetInterval(syncType)
	}

	return func(c *gin.Context) {
		// 获取战役标识
		campaign := c.Param("campaign")
		if campaign == "" {
			campaign = c.Query("campaign")
		}

		var key string
		if campaign != "" {
			slug := slugify.Slugify(campaign)
			if slug == "" {
				c.JSON(http.StatusBadRequest, gin.H{
					"code":    400,
					"message": "无效的战役标识",
				})
				c.Abort()
				return
			}
			key = CampaignSyncKey(slug, syncType)
		} else {
			// 无战役标识，使用全局限流
			key = GlobalSyncKey(syncType)
		}

		// 检查限流
		result := GetLimiter().Check(key, interval)
		if !result.Allowed {
			retryAfter := int(result.RetryAfter.Seconds())
			c.JSON(http.StatusTooManyRequests, gin.H{
				"code":    429,
				"message": formatRetryMessage(result.RetryAfter),
				"data": gin.H{
					"retry_after": retryAfter,
					"sync_type":   syncType,
				},
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// GlobalSyncRateLimit 全局同步限流中间件
// 用于"全量调和"等全局操作
func GlobalSyncRateLimit(syncType SyncType, interval time.Duration) gin.HandlerFunc {
	if interval == 0 {
		interval = GetInterval(syncType)
	}

	return func(c *gin.Context) {
		key := GlobalSyncKey(syncType)

		result := GetLimiter().Check(key, interval)
		if !result.Allowed {
			retryAfter := int(result.RetryAfter.Seconds())
			c.JSON(http.StatusTooManyRequests, gin.H{
				"code":    429,
				"message": formatRetryMessage(result.RetryAfter),
				"data": gin.H{
					"retry_after": retryAfter,
					"sync_type":   syncType,
				},
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// ==================== 辅助函数 ====================

// formatRetryMessage 格式化重试提示信息
func formatRetryMessage(d time.Duration) string {
	seconds := int(d.Seconds())

	if seconds < 60 {
		return fmt.Sprintf("同步冷却中，请 %d 秒后重试", seconds)
	}

	minutes := seconds / 60
	remainingSeconds := seconds % 60

	if remainingSeconds == 0 {
		return fmt.Sprintf("同步冷却中，请 %d 分钟后重试", minutes)
	}

	return fmt.Sprintf("同步冷却中，请 %d 分 %d 秒后重试", minutes, remainingSeconds)
}
