package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"raisely_sync_v1/pkg/storyblok"
)

// ==================== 试运行存储装饰器 ====================

// dryRunStore 包装真实存储客户端: 读操作透传，写操作不落库，
// 改为打印"将执行"日志并返回合成节点，让引擎逻辑原样跑完。
// 合成节点使用负数 id 与 dry-run 前缀 uuid，避免与真实节点混淆。
type dryRunStore struct {
	backing storyblok.Client

	mu      sync.Mutex
	nextID  int64
	bySlug  map[string]*storyblok.Story // 合成节点: fullSlug → story
	idIndex map[int64]*storyblok.Story  // 所有经手节点: id → story (算子路径用)
}

// NewDryRunStore 创建试运行存储
func NewDryRunStore(backing storyblok.Client) storyblok.Client {
	return &dryRunStore{
		backing: backing,
		nextID:  -1,
		bySlug:  make(map[string]*storyblok.Story),
		idIndex: make(map[int64]*storyblok.Story),
	}
}

func (d *dryRunStore) remember(stories ...*storyblok.Story) {
	for _, st := range stories {
		if st != nil {
			d.idIndex[st.ID] = st
		}
	}
}

// ==================== 读操作 (透传 + 合成节点兜底) ====================

func (d *dryRunStore) GetBySlug(ctx context.Context, fullSlug string) (*storyblok.Story, error) {
	d.mu.Lock()
	if st, ok := d.bySlug[fullSlug]; ok {
		d.mu.Unlock()
		return st, nil
	}
	d.mu.Unlock()

	st, err := d.backing.GetBySlug(ctx, fullSlug)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.remember(st)
	d.mu.Unlock()
	return st, nil
}

func (d *dryRunStore) GetByID(ctx context.Context, id int64) (*storyblok.Story, error) {
	if id < 0 {
		d.mu.Lock()
		defer d.mu.Unlock()
		if st, ok := d.idIndex[id]; ok {
			return st, nil
		}
		return nil, &storyblok.APIError{Kind: storyblok.KindNotFound, Detail: fmt.Sprintf("synthetic story %d not found", id)}
	}

	st, err := d.backing.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.remember(st)
	d.mu.Unlock()
	return st, nil
}

func (d *dryRunStore) List(ctx context.Context, opts storyblok.ListOptions) ([]storyblok.Story, error) {
	stories, err := d.backing.List(ctx, opts)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	for i := range stories {
		d.remember(&stories[i])
	}
	// 合成节点也参与前缀过滤结果
	for _, st := range d.bySlug {
		if opts.StartsWith == "" || strings.HasPrefix(st.FullSlug, opts.StartsWith) {
			if !opts.FolderOnly || st.IsFolder {
				stories = append(stories, *st)
			}
		}
	}
	d.mu.Unlock()
	return stories, nil
}

// ==================== 写操作 (仅报告) ====================

func (d *dryRunStore) Create(ctx context.Context, input *storyblok.StoryInput) (*storyblok.Story, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	fullSlug := input.Slug
	if parent, ok := d.idIndex[input.ParentID]; ok && input.ParentID != 0 {
		fullSlug = parent.FullSlug + "/" + input.Slug
	}

	id := d.nextID
	d.nextID--
	story := &storyblok.Story{
		ID:       id,
		UUID:     fmt.Sprintf("dry-run-%d", -id),
		Name:     input.Name,
		Slug:     input.Slug,
		FullSlug: fullSlug,
		IsFolder: input.IsFolder,
		ParentID: input.ParentID,
		Content:  input.Content,
	}
	d.bySlug[fullSlug] = story
	d.remember(story)

	kind := "故事"
	if input.IsFolder {
		kind = "目录"
	}
	log.Printf("[DryRun] 将创建%s %s", kind, fullSlug)
	return story, nil
}

func (d *dryRunStore) Update(ctx context.Context, id int64, input *storyblok.StoryInput) (*storyblok.Story, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	existing, ok := d.idIndex[id]
	if !ok {
		return nil, &storyblok.APIError{Kind: storyblok.KindNotFound, Detail: fmt.Sprintf("story %d not found", id)}
	}

	updated := *existing
	updated.Name = input.Name
	updated.Content = input.Content
	d.bySlug[updated.FullSlug] = &updated
	d.idIndex[id] = &updated

	log.Printf("[DryRun] 将更新 %s", updated.FullSlug)
	return &updated, nil
}

func (d *dryRunStore) Publish(ctx context.Context, id int64) error {
	log.Printf("[DryRun] 将发布节点 %d", id)
	return nil
}

func (d *dryRunStore) Unpublish(ctx context.Context, id int64) error {
	log.Printf("[DryRun] 将取消发布节点 %d", id)
	return nil
}

func (d *dryRunStore) Delete(ctx context.Context, id int64) error {
	log.Printf("[DryRun] 将删除节点 %d", id)
	return nil
}
