package utils

import (
	"time"

	"github.com/go-resty/resty/v2"
)

// NewAPIClient 创建配置好超时和调试模式的 Resty 客户端
// 它是全系统统一的网络请求入口，各 API 封装在此之上挂自己的鉴权头
func NewAPIClient(timeout time.Duration, debug bool) *resty.Client {
	if timeout <= 0 {
		timeout = 20 * time.Second // 全局默认超时
	}

	return resty.New().
		SetDebug(debug).
		SetTimeout(timeout).
		SetHeader("User-Agent", "Raisely-Sync/1.0")
}
