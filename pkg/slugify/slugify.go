package slugify

import (
	"regexp"
	"strings"
)

// ==========================================
// Slugify: 显示名称 → 目录/故事地址标识
// ==========================================

var (
	// 仅保留小写字母、数字、空白和连字符
	invalidChars = regexp.MustCompile(`[^a-z0-9\s-]`)
	// 连续空白折叠为单个连字符
	whitespaceRun = regexp.MustCompile(`\s+`)
	// 重复连字符去重
	hyphenRun = regexp.MustCompile(`-{2,}`)
)

// Slugify 将任意显示文本转为确定性 slug
// 规则: 小写 → 去除非法字符 → 空白折叠为连字符 → 连字符去重 → 去首尾连字符
// 纯函数，无 I/O；幂等: Slugify(Slugify(x)) == Slugify(x)
func Slugify(text string) string {
	s := strings.ToLower(text)
	s = invalidChars.ReplaceAllString(s, "")
	s = whitespaceRun.ReplaceAllString(s, "-")
	s = hyphenRun.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
