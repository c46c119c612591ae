package raisely

// ==========================================
// DTO: 对应 Raisely API / Webhook 的原始 JSON 结构
// ==========================================

// Profile 类型常量 (Raisely 原始值)
const (
	TypeIndividual = "INDIVIDUAL"
	TypeGroup      = "GROUP" // 队伍
	TypeCampaign   = "CAMPAIGN"
)

// Profile 状态常量
const (
	StatusActive = "ACTIVE"
	StatusDraft  = "DRAFT"
)

// Profile 募捐档案 (个人 / 队伍 / 战役)
// Goal 与 Total 为最小货币单位 (分)；浮点是因为部分历史接口返回小数
type Profile struct {
	UUID        string   `json:"uuid"`
	Name        string   `json:"name"`
	Path        string   `json:"path"`
	Type        string   `json:"type"`
	Status      string   `json:"status"`
	Description string   `json:"description"`
	Goal        float64  `json:"goal"`
	Total       float64  `json:"total"`
	URL         string   `json:"url"`
	Parent      *Profile `json:"parent,omitempty"`
}

// IsTeam 是否为队伍档案
func (p *Profile) IsTeam() bool { return p.Type == TypeGroup }

// IsCampaign 是否为战役档案 (仅用于祖先链标注，不作为叶子同步)
func (p *Profile) IsCampaign() bool { return p.Type == TypeCampaign }

// ==================== Webhook ====================

// Webhook 事件类型
const (
	EventProfileCreated = "profile.created"
	EventProfileUpdated = "profile.updated"
)

// WebhookPayload Raisely webhook 外层结构
type WebhookPayload struct {
	Secret string      `json:"secret,omitempty"`
	Data   WebhookData `json:"data"`
}

// WebhookData webhook 内层数据
// 档案体历史上出现过两个字段位置: data.data 与 data.profile，两者都要兼容
type WebhookData struct {
	UUID      string   `json:"uuid"`
	Type      string   `json:"type"`
	CreatedAt string   `json:"createdAt"`
	Data      *Profile `json:"data,omitempty"`
	Profile   *Profile `json:"profile,omitempty"`
}

// ProfilePayload 取出档案体，优先 data.data
func (d *WebhookData) ProfilePayload() *Profile {
	if d.Data != nil {
		return d.Data
	}
	return d.Profile
}

// ==================== 列表响应 ====================

type profilesResp struct {
	Data       []Profile `json:"data"`
	Pagination struct {
		Total  int `json:"total"`
		Pages  int `json:"pages"`
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
	} `json:"pagination"`
}
