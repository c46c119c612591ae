package model

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"raisely_sync_v1/pkg/raisely"
)

// ==================== 归一化档案 ====================

// ProfileKind 引擎内部的档案分类
type ProfileKind string

const (
	KindIndividual ProfileKind = "individual"
	KindTeam       ProfileKind = "team"
	KindCampaign   ProfileKind = "campaign"
)

// ProfileStatus 引擎内部的档案状态
type ProfileStatus string

const (
	StatusActive ProfileStatus = "active"
	StatusDraft  ProfileStatus = "draft"
	StatusOther  ProfileStatus = "other"
)

// 战役名推导的保护参数
const (
	// parentRef 链最大回溯深度 (防环)
	maxParentDepth = 10
	// 推导完全失败时的兜底战役名
	DefaultCampaignName = "General"
)

// SyncProfile 归一化后的档案: 引擎其余部分只消费这个结构
// 金额已在此处一次性从最小货币单位转为主单位 (两位小数)
type SyncProfile struct {
	RaiselyID    string
	Name         string
	Path         string
	Kind         ProfileKind
	Status       ProfileStatus
	Description  string
	TargetAmount float64
	RaisedAmount float64
	URL          string

	// 推导字段
	CampaignName string // 最近的 CAMPAIGN 祖先名 → path 首段 → 默认值
	TeamName     string // 直接父级为队伍时的队伍名，否则为空
}

// Normalize 将 Raisely 原始档案归一化
// name/path 缺失对个人与队伍是 fatal-to-call 级错误
func Normalize(p *raisely.Profile) (*SyncProfile, error) {
	if p == nil {
		return nil, errors.New("档案为空")
	}

	kind := classifyKind(p.Type)
	if kind != KindCampaign {
		if strings.TrimSpace(p.Name) == "" {
			return nil, fmt.Errorf("档案 %s 缺少 name 字段", p.UUID)
		}
		if strings.TrimSpace(p.Path) == "" {
			return nil, fmt.Errorf("档案 %s 缺少 path 字段", p.UUID)
		}
	}

	sp := &SyncProfile{
		RaiselyID:    p.UUID,
		Name:         p.Name,
		Path:         p.Path,
		Kind:         kind,
		Status:       classifyStatus(p.Status),
		Description:  p.Description,
		TargetAmount: MinorToMajor(p.Goal),
		RaisedAmount: MinorToMajor(p.Total),
		URL:          p.URL,
		CampaignName: DeriveCampaignName(p),
	}

	// 直接父级为队伍 → 同步后需并入队伍成员列表
	if kind == KindIndividual && p.Parent != nil && p.Parent.IsTeam() {
		sp.TeamName = p.Parent.Name
	}

	return sp, nil
}

func classifyKind(t string) ProfileKind {
	switch t {
	case raisely.TypeGroup:
		return KindTeam
	case raisely.TypeCampaign:
		return KindCampaign
	default:
		return KindIndividual
	}
}

func classifyStatus(s string) ProfileStatus {
	switch strings.ToUpper(s) {
	case raisely.StatusActive:
		return StatusActive
	case raisely.StatusDraft:
		return StatusDraft
	default:
		return StatusOther
	}
}

// MinorToMajor 最小货币单位 → 主单位，两位小数
// 0 / 缺失 / NaN / Inf 一律归零；仅在归一化入口调用一次
func MinorToMajor(minor float64) float64 {
	if math.IsNaN(minor) || math.IsInf(minor, 0) {
		return 0
	}
	return math.Round(minor) / 100
}

// DeriveCampaignName 推导所属战役名
// 沿 parentRef 链向上找最近的 CAMPAIGN 祖先 (有界回溯，引用只读不保留)，
// 链缺失/耗尽时退回 path 首段，再退回固定默认名
func DeriveCampaignName(p *raisely.Profile) string {
	for cur, depth := p.Parent, 0; cur != nil && depth < maxParentDepth; cur, depth = cur.Parent, depth+1 {
		if cur.IsCampaign() && strings.TrimSpace(cur.Name) != "" {
			return cur.Name
		}
	}

	// 祖先链不可用 → path 首段兜底
	path := strings.Trim(p.Path, "/")
	if path != "" {
		if idx := strings.Index(path, "/"); idx > 0 {
			return path[:idx]
		}
		return path
	}
	return DefaultCampaignName
}
