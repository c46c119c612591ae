package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"raisely_sync_v1/pkg/slugify"
	"raisely_sync_v1/pkg/storyblok"
)

// ==================== 内容树常量 ====================

const (
	// RootFundraisersSlug 募捐目录树的根
	RootFundraisersSlug = "fundraisers"
	// RootEventsSlug 活动节点树的根
	RootEventsSlug = "events"
	// TeamFolderSlug 每个战役目录下固定的队伍子目录
	TeamFolderSlug = "team"

	// 内容 component 标记
	ComponentCampaignFolder = "campaign-folder"
	ComponentEvent          = "event"

	// 创建冲突后的固定退避时长 (并发解析竞争的恢复路径)
	defaultConflictBackoff = 2 * time.Second

	// 兜底列表查询的单页上限
	lookupPageSize = 100
)

// ==================== TreeService 目录树解析 ====================

// TreeService 解析/创建目录层级: root → 战役目录 → [team 子目录]，以及战役活动节点
// 根目录与战役目录的 id 在实例生命周期内缓存 (运行期内不会变化)；
// team/活动节点按战役变化，不缓存，每次按需查询。
type TreeService struct {
	store storyblok.Client

	// 缓存仅此一处共享可变状态: 每个键只写一次，并发读安全
	mu            sync.RWMutex
	rootFolder    *storyblok.Story            // fundraisers 根目录
	eventsRoot    *storyblok.Story            // events 根目录
	campaignCache map[string]*storyblok.Story // 战役 slug → 目录

	conflictBackoff time.Duration
}

// NewTreeService 创建目录树解析服务
func NewTreeService(store storyblok.Client) *TreeService {
	return &TreeService{
		store:           store,
		campaignCache:   make(map[string]*storyblok.Story),
		conflictBackoff: defaultConflictBackoff,
	}
}

// SetConflictBackoff 覆盖冲突退避时长 (测试用)
func (s *TreeService) SetConflictBackoff(d time.Duration) {
	s.conflictBackoff = d
}

// ==================== 根目录 ====================

// ResolveRoot 解析或创建 fundraisers 根目录
// 根目录不可解析是致命错误: 其余所有节点都依赖它，直接中止本次同步
func (s *TreeService) ResolveRoot(ctx context.Context) (*storyblok.Story, error) {
	s.mu.RLock()
	cached := s.rootFolder
	s.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	root, _, err := s.resolveOrCreateFolder(ctx, "Fundraisers", RootFundraisersSlug, 0, nil)
	if err != nil {
		return nil, fmt.Errorf("根目录 %s 不可用: %w", RootFundraisersSlug, err)
	}

	s.mu.Lock()
	if s.rootFolder == nil {
		s.rootFolder = root
	}
	root = s.rootFolder
	s.mu.Unlock()
	return root, nil
}

func (s *TreeService) resolveEventsRoot(ctx context.Context) (*storyblok.Story, error) {
	s.mu.RLock()
	cached := s.eventsRoot
	s.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	root, _, err := s.resolveOrCreateFolder(ctx, "Events", RootEventsSlug, 0, nil)
	if err != nil {
		return nil, fmt.Errorf("根目录 %s 不可用: %w", RootEventsSlug, err)
	}

	s.mu.Lock()
	if s.eventsRoot == nil {
		s.eventsRoot = root
	}
	root = s.eventsRoot
	s.mu.Unlock()
	return root, nil
}

// ==================== 战役目录 ====================

// CampaignSlug 战役名 → slug，空结果退回默认名的 slug
func CampaignSlug(campaignName string) string {
	slug := slugify.Slugify(campaignName)
	if slug == "" {
		slug = slugify.Slugify(defaultCampaignFallback)
	}
	return slug
}

const defaultCampaignFallback = "general"

// ResolveCampaignFolder 解析或创建战役目录 fundraisers/<slug>
// 首次创建时一并创建 team 子目录 (后续查找假定其存在，绝不延迟补建)
func (s *TreeService) ResolveCampaignFolder(ctx context.Context, campaignName string) (*storyblok.Story, error) {
	slug := CampaignSlug(campaignName)

	s.mu.RLock()
	cached := s.campaignCache[slug]
	s.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	root, err := s.ResolveRoot(ctx)
	if err != nil {
		return nil, err
	}

	fullSlug := RootFundraisersSlug + "/" + slug
	content := map[string]interface{}{"component": ComponentCampaignFolder}
	folder, created, err := s.resolveOrCreateFolder(ctx, campaignName, fullSlug, root.ID, content)
	if err != nil {
		return nil, fmt.Errorf("战役目录 %s 不可用: %w", fullSlug, err)
	}

	if created {
		// team 子目录随战役目录一并创建
		if _, _, err := s.resolveOrCreateFolder(ctx, "Team", fullSlug+"/"+TeamFolderSlug, folder.ID, nil); err != nil {
			return nil, fmt.Errorf("战役 %s 的 team 子目录创建失败: %w", fullSlug, err)
		}
	}

	s.mu.Lock()
	if existing := s.campaignCache[slug]; existing != nil {
		// 并发填充竞争: 解析幂等，两个写者解析到的是同一节点
		folder = existing
	} else {
		s.campaignCache[slug] = folder
	}
	s.mu.Unlock()
	return folder, nil
}

// ResolveTeamFolder 查找战役的 team 子目录 (仅查找，不创建)
func (s *TreeService) ResolveTeamFolder(ctx context.Context, campaign *storyblok.Story) (*storyblok.Story, error) {
	return s.findFolder(ctx, campaign.FullSlug+"/"+TeamFolderSlug)
}

// ==================== 活动节点 ====================

// ResolveOrCreateEvent 解析或创建战役活动节点 events/<slug>
// 仅在新建时尝试补写战役目录的活动反向引用 (尽力而为，失败不致命)
func (s *TreeService) ResolveOrCreateEvent(ctx context.Context, campaignName string) (*storyblok.Story, error) {
	slug := CampaignSlug(campaignName)
	fullSlug := RootEventsSlug + "/" + slug

	// 活动节点是叶子故事，不走目录查找
	if story, err := s.findLeaf(ctx, fullSlug); err == nil {
		return story, nil
	} else if !storyblok.IsNotFound(err) {
		return nil, err
	}

	root, err := s.resolveEventsRoot(ctx)
	if err != nil {
		return nil, err
	}

	created, err := s.store.Create(ctx, &storyblok.StoryInput{
		Name:     campaignName,
		Slug:     slug,
		ParentID: root.ID,
		Content: map[string]interface{}{
			"component": ComponentEvent,
			"name":      campaignName,
		},
	})
	if err != nil {
		if storyblok.IsConflict(err) {
			// 并发创建竞争: 退避后重查一次
			time.Sleep(s.conflictBackoff)
			if story, lerr := s.findLeaf(ctx, fullSlug); lerr == nil {
				return story, nil
			}
		}
		return nil, fmt.Errorf("活动节点 %s 创建失败: %w", fullSlug, err)
	}

	// 新建成功 → 补写战役目录反向引用
	s.patchCampaignEventRef(ctx, campaignName, created.UUID)
	return created, nil
}

// patchCampaignEventRef 战役目录记录活动 UUID 反向引用
// 已引用则跳过；任何失败只记日志 (下次同步会再补)
func (s *TreeService) patchCampaignEventRef(ctx context.Context, campaignName, eventUUID string) {
	campaign, err := s.ResolveCampaignFolder(ctx, campaignName)
	if err != nil {
		log.Printf("[TreeService] 活动反向引用补写失败，战役 %s 不可解析: %v", campaignName, err)
		return
	}

	// 写前按 id 取最新内容，避免覆盖他人修改
	fresh, err := s.store.GetByID(ctx, campaign.ID)
	if err != nil {
		log.Printf("[TreeService] 活动反向引用补写失败，读取目录 %s 出错: %v", campaign.FullSlug, err)
		return
	}

	events := stringList(fresh.Content, "events")
	for _, u := range events {
		if u == eventUUID {
			return
		}
	}

	content := make(map[string]interface{}, len(fresh.Content)+1)
	for k, v := range fresh.Content {
		content[k] = v
	}
	content["events"] = append(append([]string{}, events...), eventUUID)

	if _, err := s.store.Update(ctx, fresh.ID, &storyblok.StoryInput{
		Name:     fresh.Name,
		Slug:     fresh.Slug,
		IsFolder: fresh.IsFolder,
		ParentID: fresh.ParentID,
		Content:  content,
	}); err != nil {
		log.Printf("[TreeService] 活动反向引用补写失败，目录 %s: %v", fresh.FullSlug, err)
	}
}

// ==================== 通用 解析/创建 ====================

// findFolder 两级查找目录: 精确 slug → 有界前缀列表 (补偿索引延迟)
func (s *TreeService) findFolder(ctx context.Context, fullSlug string) (*storyblok.Story, error) {
	story, err := s.store.GetBySlug(ctx, fullSlug)
	if err == nil {
		if !story.IsFolder {
			return nil, fmt.Errorf("路径 %s 已被非目录节点占用", fullSlug)
		}
		return story, nil
	}
	if !storyblok.IsNotFound(err) {
		return nil, err
	}

	// 兜底: 刚创建的节点可能尚未进精确索引，用前缀列表 + 客户端过滤再找一次
	stories, err := s.store.List(ctx, storyblok.ListOptions{
		StartsWith: listPrefix(fullSlug),
		FolderOnly: true,
		PerPage:    lookupPageSize,
	})
	if err != nil {
		return nil, err
	}
	for i := range stories {
		if stories[i].FullSlug == fullSlug && stories[i].IsFolder {
			return &stories[i], nil
		}
	}
	return nil, &storyblok.APIError{Kind: storyblok.KindNotFound, Detail: fmt.Sprintf("folder %q not found", fullSlug)}
}

// findLeaf 两级查找叶子故事
func (s *TreeService) findLeaf(ctx context.Context, fullSlug string) (*storyblok.Story, error) {
	return findLeafStory(ctx, s.store, fullSlug)
}

// findLeafStory 两级查找叶子故事: 精确 slug → 有界前缀列表 (补偿索引延迟)
// 目录树与叶子写入共用同一套查找语义
func findLeafStory(ctx context.Context, store storyblok.Client, fullSlug string) (*storyblok.Story, error) {
	story, err := store.GetBySlug(ctx, fullSlug)
	if err == nil {
		if story.IsFolder {
			return nil, fmt.Errorf("路径 %s 已被目录占用", fullSlug)
		}
		return story, nil
	}
	if !storyblok.IsNotFound(err) {
		return nil, err
	}

	stories, err := store.List(ctx, storyblok.ListOptions{
		StartsWith: listPrefix(fullSlug),
		PerPage:    lookupPageSize,
	})
	if err != nil {
		return nil, err
	}
	for i := range stories {
		if stories[i].FullSlug == fullSlug && !stories[i].IsFolder {
			return &stories[i], nil
		}
	}
	return nil, &storyblok.APIError{Kind: storyblok.KindNotFound, Detail: fmt.Sprintf("story %q not found", fullSlug)}
}

// resolveOrCreateFolder 目录的解析或创建
// 查找两级兜底都未命中才创建；创建冲突说明有并发解析者抢先，
// 固定退避后重查一次，仍未命中才向上传播错误
func (s *TreeService) resolveOrCreateFolder(ctx context.Context, name, fullSlug string, parentID int64, content map[string]interface{}) (*storyblok.Story, bool, error) {
	folder, err := s.findFolder(ctx, fullSlug)
	if err == nil {
		return folder, false, nil
	}
	if !storyblok.IsNotFound(err) {
		return nil, false, err
	}

	slug := fullSlug
	if idx := strings.LastIndex(fullSlug, "/"); idx >= 0 {
		slug = fullSlug[idx+1:]
	}

	created, err := s.store.Create(ctx, &storyblok.StoryInput{
		Name:     name,
		Slug:     slug,
		IsFolder: true,
		ParentID: parentID,
		Content:  content,
	})
	if err == nil {
		return created, true, nil
	}

	if storyblok.IsConflict(err) {
		time.Sleep(s.conflictBackoff)
		if folder, lerr := s.findFolder(ctx, fullSlug); lerr == nil {
			return folder, false, nil
		}
	}
	return nil, false, err
}

// ==================== 工具函数 ====================

// listPrefix 兜底列表查询的前缀: 取父路径，根级节点退回自身
func listPrefix(fullSlug string) string {
	if idx := strings.LastIndex(fullSlug, "/"); idx > 0 {
		return fullSlug[:idx+1]
	}
	return fullSlug
}

// stringList 从内容对象读取字符串列表字段 (缺失/类型不符 → 空列表)
func stringList(content map[string]interface{}, key string) []string {
	if content == nil {
		return nil
	}
	raw, ok := content[key]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
