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

// ==================== TeamService 队伍成员并入 ====================

// TeamService 队伍节点的成员列表并入协议
// 存储端没有原子追加，只能读-改-写: 写前必须重读最新节点，
// 写回时展开保留全部既有字段、仅替换 team 列表。
// 两个并发追加之间的丢失更新由编排层的按队伍串行调度保证 (不在本层解决)。
type TeamService struct {
	store storyblok.Client
	tree  *TreeService
}

// NewTeamService 创建队伍服务
func NewTeamService(store storyblok.Client, tree *TreeService) *TeamService {
	return &TeamService{store: store, tree: tree}
}

// teamFullSlug 队伍节点路径 fundraisers/<战役>/team/<队伍>
func (s *TeamService) teamFullSlug(campaign *storyblok.Story, teamName string) string {
	return campaign.FullSlug + "/" + TeamFolderSlug + "/" + slugify.Slugify(teamName)
}

// ResolveTeamStory 按路径查找队伍节点 (两级兜底查找)
func (s *TeamService) ResolveTeamStory(ctx context.Context, teamName, campaignName string) (*storyblok.Story, error) {
	campaign, err := s.tree.ResolveCampaignFolder(ctx, campaignName)
	if err != nil {
		return nil, err
	}
	return s.tree.findLeaf(ctx, s.teamFullSlug(campaign, teamName))
}

// EnsureTeam 队伍节点不存在时自动创建最小节点
// 自愈用: 成员的 webhook 先于队伍本体到达时，乱序也能建立正确的成员关系
func (s *TeamService) EnsureTeam(ctx context.Context, teamName, campaignName string, event *storyblok.Story) (*storyblok.Story, error) {
	story, err := s.ResolveTeamStory(ctx, teamName, campaignName)
	if err == nil {
		return story, nil
	}
	if !storyblok.IsNotFound(err) {
		return nil, err
	}

	campaign, err := s.tree.ResolveCampaignFolder(ctx, campaignName)
	if err != nil {
		return nil, err
	}
	teamFolder, err := s.tree.ResolveTeamFolder(ctx, campaign)
	if err != nil {
		return nil, fmt.Errorf("战役 %s 缺少 team 子目录: %w", campaign.FullSlug, err)
	}

	slug := slugify.Slugify(teamName)
	content := map[string]interface{}{
		"component": ComponentTeam,
		"name":      teamName,
		"team":      []string{},
	}
	if event != nil {
		content["campaign"] = event.UUID
	}

	log.Printf("[TeamService] 队伍 %q 尚不存在，自动创建最小节点 (乱序事件自愈)", teamName)
	created, err := s.store.Create(ctx, &storyblok.StoryInput{
		Name:     teamName,
		Slug:     slug,
		ParentID: teamFolder.ID,
		Content:  content,
	})
	if err == nil {
		return created, nil
	}

	if storyblok.IsConflict(err) {
		// 并发创建竞争: 退避后重查一次
		time.Sleep(s.tree.conflictBackoff)
		if story, lerr := s.ResolveTeamStory(ctx, teamName, campaignName); lerr == nil {
			return story, nil
		}
	}
	return nil, fmt.Errorf("队伍节点 %q 创建失败: %w", teamName, err)
}

// AddMember 将成员 UUID 并入队伍节点的成员列表，只增不减
// 解析失败向上传播 (是否致命由编排层决定)；写入成功后的发布失败只记日志
func (s *TeamService) AddMember(ctx context.Context, teamName, campaignName, memberUUID string) error {
	node, err := s.ResolveTeamStory(ctx, teamName, campaignName)
	if err != nil {
		return fmt.Errorf("队伍 %q 解析失败: %w", teamName, err)
	}

	// 写前按 id 重读最新节点: 绝不复用调用链早先拿到的快照，
	// 期间其他写者可能已更新该节点
	fresh, err := s.store.GetByID(ctx, node.ID)
	if err != nil {
		return fmt.Errorf("队伍 %q 写前重读失败: %w", teamName, err)
	}

	members := stringList(fresh.Content, "team")
	for _, u := range members {
		if u == memberUUID {
			// 成员已在列表中: 列表不动，但补一次发布
			// (此前某次发布失败时的幂等兜底)
			if err := s.store.Publish(ctx, fresh.ID); err != nil {
				log.Printf("[TeamService] 队伍 %s 补发布失败: %v", fresh.FullSlug, err)
			}
			return nil
		}
	}

	// 追加到列表副本；写回的内容对象是旧内容的展开，仅替换 team，
	// 这样不会覆盖第 2 步重读之后他人对其它字段的并发修改
	next := make([]string, 0, len(members)+1)
	next = append(next, members...)
	next = append(next, memberUUID)

	content := make(map[string]interface{}, len(fresh.Content)+1)
	for k, v := range fresh.Content {
		content[k] = v
	}
	content["team"] = next

	if _, err := s.store.Update(ctx, fresh.ID, &storyblok.StoryInput{
		Name:     fresh.Name,
		Slug:     fresh.Slug,
		ParentID: fresh.ParentID,
		Content:  content,
	}); err != nil {
		return fmt.Errorf("队伍 %q 成员写入失败: %w", teamName, err)
	}

	// 成员已写入，发布失败不回滚
	if err := s.store.Publish(ctx, fresh.ID); err != nil {
		log.Printf("[TeamService] 队伍 %s 发布失败 (成员已写入): %v", fresh.FullSlug, err)
	}
	return nil
}

// TeamKey 批量调度用的串行分组键: 同一键下的成员必须按序逐个处理
func TeamKey(profile *model.SyncProfile) string {
	if profile.TeamName == "" {
		return ""
	}
	return CampaignSlug(profile.CampaignName) + "/" + slugify.Slugify(profile.TeamName)
}
