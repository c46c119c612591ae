package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"raisely_sync_v1/internal/model"
	"raisely_sync_v1/pkg/slugify"
	"raisely_sync_v1/pkg/storyblok"
)

// ==================== 常量 ====================

const (
	// 叶子节点的内容 component 标记
	ComponentFundraiser = "fundraiser"
	ComponentTeam       = "team"
)

// UpsertAction 同步动作结果
type UpsertAction string

const (
	ActionCreated UpsertAction = "created"
	ActionUpdated UpsertAction = "updated"
	ActionSkipped UpsertAction = "skipped"
	ActionError   UpsertAction = "error"
)

// UpsertResult 一次 upsert 的结果
type UpsertResult struct {
	Story  *storyblok.Story
	Action UpsertAction
}

// ==================== FundraiserService 叶子节点幂等写入 ====================

// FundraiserService 按 fullPath 键幂等写入个人/队伍叶子节点
type FundraiserService struct {
	store storyblok.Client
}

// NewFundraiserService 创建叶子节点写入服务
func NewFundraiserService(store storyblok.Client) *FundraiserService {
	return &FundraiserService{store: store}
}

// LeafSlug 档案显示名 → 叶子 slug
func LeafSlug(profile *model.SyncProfile) string {
	return slugify.Slugify(profile.Name)
}

// LeafFullSlug 计算叶子节点的 fullPath (父目录路径 + slug)
func LeafFullSlug(profile *model.SyncProfile, parent *storyblok.Story) string {
	return parent.FullSlug + "/" + LeafSlug(profile)
}

// Find 按 fullPath 查找已存在的叶子节点，带前缀列表兜底 (补偿索引延迟)
// 同路径的目录节点属于硬冲突 (陈旧目录占位)，返回错误而不是静默覆盖
func (s *FundraiserService) Find(ctx context.Context, fullSlug string) (*storyblok.Story, error) {
	return findLeafStory(ctx, s.store, fullSlug)
}

// Upsert 按 fullPath 创建或更新叶子节点，随后按来源状态做发布迁移
// 更新时文档整体替换，仅保留队伍成员列表与 component 标记
func (s *FundraiserService) Upsert(ctx context.Context, profile *model.SyncProfile, parent *storyblok.Story, event *storyblok.Story) (*UpsertResult, error) {
	slug := LeafSlug(profile)
	if slug == "" {
		return nil, fmt.Errorf("档案 %s 名称无法生成有效 slug", profile.RaiselyID)
	}
	fullSlug := parent.FullSlug + "/" + slug

	var existing *storyblok.Story
	found, err := s.Find(ctx, fullSlug)
	switch {
	case err == nil:
		existing = found
	case storyblok.IsNotFound(err):
		// 不存在 → 创建
	default:
		return nil, err
	}

	input := &storyblok.StoryInput{
		Name:     profile.Name,
		Slug:     slug,
		ParentID: parent.ID,
		Content:  s.buildContent(profile, event, existing),
	}

	var story *storyblok.Story
	action := ActionCreated
	if existing != nil {
		action = ActionUpdated
		story, err = s.store.Update(ctx, existing.ID, input)
	} else {
		story, err = s.store.Create(ctx, input)
	}
	if err != nil {
		return nil, fmt.Errorf("写入 %s 失败: %w", fullSlug, err)
	}

	// 内容已落库后才做发布迁移，发布失败不影响数据本身
	s.applyPublishState(ctx, story, profile.Status, existing != nil)

	return &UpsertResult{Story: story, Action: action}, nil
}

// buildContent 构造叶子内容
// existing 非空时保留其 team 成员列表 (并入协议是唯一的修改方) 与 component 标记
func (s *FundraiserService) buildContent(profile *model.SyncProfile, event *storyblok.Story, existing *storyblok.Story) map[string]interface{} {
	component := ComponentFundraiser
	if profile.Kind == model.KindTeam {
		component = ComponentTeam
	}

	team := []string{}
	if existing != nil {
		if kept := stringList(existing.Content, "team"); kept != nil {
			team = kept
		}
		if c, ok := existing.Content["component"].(string); ok && c != "" {
			component = c
		}
	}

	content := map[string]interface{}{
		"component":     component,
		"name":          profile.Name,
		"description":   profile.Description,
		"target_amount": profile.TargetAmount,
		"raised_amount": profile.RaisedAmount,
		"profile_url":   profile.URL,
		"raisely_id":    profile.RaiselyID,
		"team":          team,
		"last_updated":  time.Now().UTC().Format(time.RFC3339),
	}
	if event != nil {
		content["campaign"] = event.UUID
	}
	return content
}

// applyPublishState 按来源状态做发布迁移，尽力而为
//   - Active → 发布 (新建或已存在都尝试)
//   - 非 Active 且节点已存在 → 取消发布
//   - 新建且非 Active → 不动作 (新建节点默认就是草稿)
func (s *FundraiserService) applyPublishState(ctx context.Context, story *storyblok.Story, status model.ProfileStatus, existed bool) {
	switch {
	case status == model.StatusActive:
		if err := s.store.Publish(ctx, story.ID); err != nil {
			log.Printf("[FundraiserService] 发布 %s 失败 (数据已写入，下次同步重试): %v", story.FullSlug, err)
		}
	case existed:
		if err := s.store.Unpublish(ctx, story.ID); err != nil {
			log.Printf("[FundraiserService] 取消发布 %s 失败 (数据已写入): %v", story.FullSlug, err)
		}
	default:
		// 新建的非 Active 节点本来就未发布
	}
}
