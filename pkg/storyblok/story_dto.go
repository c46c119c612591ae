package storyblok

// ==========================================
// DTO: 对应 Storyblok 管理 API 的原始 JSON 结构
// ==========================================

// Story 内容树中的一个节点 (目录或故事)
// FullSlug 是从根到本节点的 slug 链，是节点的持久身份键；
// UUID 稳定可跨节点引用，区别于可能随移动变化的数值 ID/路径。
type Story struct {
	ID        int64                  `json:"id"`
	UUID      string                 `json:"uuid"`
	Name      string                 `json:"name"`
	Slug      string                 `json:"slug"`
	FullSlug  string                 `json:"full_slug"`
	IsFolder  bool                   `json:"is_folder"`
	ParentID  int64                  `json:"parent_id"`
	Published bool                   `json:"published"`
	Content   map[string]interface{} `json:"content,omitempty"`
}

// StoryInput 创建/更新节点的请求体
type StoryInput struct {
	Name     string                 `json:"name"`
	Slug     string                 `json:"slug"`
	IsFolder bool                   `json:"is_folder,omitempty"`
	ParentID int64                  `json:"parent_id"`
	Content  map[string]interface{} `json:"content,omitempty"`
}

// ListOptions 有界列表查询参数
type ListOptions struct {
	StartsWith string // full_slug 前缀
	FolderOnly bool   // 仅目录
	PerPage    int    // 单页上限，0 使用默认值
	Page       int    // 页码，0 即第一页
}

// ==================== 内部响应包装 ====================

type storyResp struct {
	Story *Story `json:"story"`
}

type storiesResp struct {
	Stories []Story `json:"stories"`
}

type storyReq struct {
	Story   *StoryInput `json:"story"`
	Publish int         `json:"publish,omitempty"`
}
