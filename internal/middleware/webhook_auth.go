package middleware

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ==================== Webhook 共享密钥认证 ====================

// WebhookAuthConfig webhook 认证配置
type WebhookAuthConfig struct {
	SharedSecret string // 与 Raisely webhook 配置一致的共享密钥
}

// 全局配置
var webhookConfig = &WebhookAuthConfig{}

// SetWebhookConfig 设置 webhook 认证配置
func SetWebhookConfig(cfg *WebhookAuthConfig) {
	webhookConfig = cfg
}

// webhookSecretEnvelope 只取出载荷里的密钥字段
type webhookSecretEnvelope struct {
	Secret string `json:"secret"`
}

// WebhookAuth Raisely webhook 共享密钥认证中间件
// 密钥优先取 X-Raisely-Secret 请求头；Raisely 默认把密钥放在载荷
// 的 secret 字段，因此头缺失时窥探请求体后原样放回
func WebhookAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if webhookConfig.SharedSecret == "" {
			// 未配置密钥视为配置错误，拒绝所有 webhook
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"code":    503,
				"message": "webhook 密钥未配置",
			})
			c.Abort()
			return
		}

		secret := c.GetHeader("X-Raisely-Secret")
		if secret == "" {
			body, err := io.ReadAll(c.Request.Body)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"code":    400,
					"message": "请求体读取失败",
				})
				c.Abort()
				return
			}
			// 请求体放回去，控制器还要完整解析
			c.Request.Body = io.NopCloser(bytes.NewBuffer(body))

			var envelope webhookSecretEnvelope
			if err := json.Unmarshal(body, &envelope); err == nil {
				secret = envelope.Secret
			}
		}

		if subtle.ConstantTimeCompare([]byte(secret), []byte(webhookConfig.SharedSecret)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    401,
				"message": "webhook 密钥校验失败",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
