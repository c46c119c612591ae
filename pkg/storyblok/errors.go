package storyblok

import (
	"errors"
	"fmt"
)

// ==========================================
// 错误分类: 调用方按 Kind 分支，而不是翻 response 结构
// ==========================================

// ErrorKind 存储端调用失败的类别
type ErrorKind int

const (
	// KindNotFound 目标故事/目录不存在
	KindNotFound ErrorKind = iota
	// KindConflict 唯一性/校验冲突 (并发创建同一 slug 的典型表现)
	KindConflict
	// KindTransient 瞬时失败 (限流 429 / 5xx / 网络错误)，可重试
	KindTransient
	// KindFatal 其余不可恢复错误 (鉴权失败、请求非法等)
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	default:
		return "fatal"
	}
}

// APIError Storyblok 管理 API 调用错误
type APIError struct {
	Kind   ErrorKind
	Status int    // HTTP 状态码，网络错误时为 0
	Detail string // 响应体摘要或底层错误信息
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("storyblok: %s (status %d): %s", e.Kind, e.Status, e.Detail)
	}
	return fmt.Sprintf("storyblok: %s: %s", e.Kind, e.Detail)
}

// classifyStatus 按 HTTP 状态码归类
func classifyStatus(status int, detail string) *APIError {
	var kind ErrorKind
	switch {
	case status == 404:
		kind = KindNotFound
	case status == 409 || status == 422:
		// Storyblok 对重复 slug 返回 422 (unprocessable entity)
		kind = KindConflict
	case status == 429 || status >= 500:
		kind = KindTransient
	default:
		kind = KindFatal
	}
	return &APIError{Kind: kind, Status: status, Detail: detail}
}

// ==================== 判定辅助 ====================

func isKind(err error, kind ErrorKind) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind == kind
	}
	return false
}

// IsNotFound 是否为"不存在"错误
func IsNotFound(err error) bool { return isKind(err, KindNotFound) }

// IsConflict 是否为唯一性冲突错误
func IsConflict(err error) bool { return isKind(err, KindConflict) }

// IsTransient 是否为瞬时可重试错误
func IsTransient(err error) bool { return isKind(err, KindTransient) }
