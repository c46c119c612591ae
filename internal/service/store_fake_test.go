package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"raisely_sync_v1/pkg/storyblok"
)

// ==================== 内存假存储 ====================

// fakeStore 测试用内存存储，可注入索引延迟 / 发布失败 / 并发读屏障
type fakeStore struct {
	mu     sync.Mutex
	nextID int64

	stories map[string]*storyblok.Story // fullSlug → story
	byID    map[int64]*storyblok.Story

	// 调用计数
	createCalls int
	updateCalls int
	published   map[int64]int
	unpublished map[int64]int

	// 故障/行为注入
	hiddenSlugs   map[string]bool // 两级查找都不命中
	slugLookupLag map[string]bool // 仅精确查找不命中，List 可见 (索引延迟)
	publishFail   map[int64]bool  // 发布失败
	getByIDBefore func(id int64)  // GetByID 返回前回调 (并发屏障用)
	failAll       bool            // 所有调用返回瞬时错误
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		nextID:        1,
		stories:       make(map[string]*storyblok.Story),
		byID:          make(map[int64]*storyblok.Story),
		published:     make(map[int64]int),
		unpublished:   make(map[int64]int),
		hiddenSlugs:   make(map[string]bool),
		slugLookupLag: make(map[string]bool),
		publishFail:   make(map[int64]bool),
	}
}

// seed 直接种入一个节点 (绕过 Create 计数)
func (f *fakeStore) seed(fullSlug string, isFolder bool, content map[string]interface{}) *storyblok.Story {
	f.mu.Lock()
	defer f.mu.Unlock()

	slug := fullSlug
	if idx := strings.LastIndex(fullSlug, "/"); idx >= 0 {
		slug = fullSlug[idx+1:]
	}
	st := &storyblok.Story{
		ID:       f.nextID,
		UUID:     fmt.Sprintf("uuid-%d", f.nextID),
		Name:     slug,
		Slug:     slug,
		FullSlug: fullSlug,
		IsFolder: isFolder,
		Content:  content,
	}
	f.nextID++
	f.stories[fullSlug] = st
	f.byID[st.ID] = st
	return st
}

func (f *fakeStore) get(fullSlug string) *storyblok.Story {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stories[fullSlug]
}

func (f *fakeStore) transientErr() error {
	return &storyblok.APIError{Kind: storyblok.KindTransient, Status: 500, Detail: "injected failure"}
}

func notFoundErr(what string) error {
	return &storyblok.APIError{Kind: storyblok.KindNotFound, Status: 404, Detail: what + " not found"}
}

// ==================== storyblok.Client 实现 ====================

func (f *fakeStore) GetBySlug(ctx context.Context, fullSlug string) (*storyblok.Story, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, f.transientErr()
	}
	if f.hiddenSlugs[fullSlug] || f.slugLookupLag[fullSlug] {
		return nil, notFoundErr(fullSlug)
	}
	if st, ok := f.stories[fullSlug]; ok {
		cp := *st
		return &cp, nil
	}
	return nil, notFoundErr(fullSlug)
}

func (f *fakeStore) GetByID(ctx context.Context, id int64) (*storyblok.Story, error) {
	f.mu.Lock()
	if f.failAll {
		f.mu.Unlock()
		return nil, f.transientErr()
	}
	st, ok := f.byID[id]
	if !ok {
		f.mu.Unlock()
		return nil, notFoundErr(fmt.Sprintf("story %d", id))
	}
	cp := *st
	hook := f.getByIDBefore
	f.mu.Unlock()

	// 屏障回调在锁外执行，允许多个读者同时停在这里
	if hook != nil {
		hook(id)
	}
	return &cp, nil
}

func (f *fakeStore) List(ctx context.Context, opts storyblok.ListOptions) ([]storyblok.Story, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, f.transientErr()
	}

	var out []storyblok.Story
	for slug, st := range f.stories {
		if f.hiddenSlugs[slug] {
			continue
		}
		if opts.StartsWith != "" && !strings.HasPrefix(slug, opts.StartsWith) {
			continue
		}
		if opts.FolderOnly && !st.IsFolder {
			continue
		}
		out = append(out, *st)
	}
	return out, nil
}

func (f *fakeStore) Create(ctx context.Context, input *storyblok.StoryInput) (*storyblok.Story, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, f.transientErr()
	}
	f.createCalls++

	fullSlug := input.Slug
	if parent, ok := f.byID[input.ParentID]; ok && input.ParentID != 0 {
		fullSlug = parent.FullSlug + "/" + input.Slug
	}

	if _, exists := f.stories[fullSlug]; exists {
		// 冲突即证明节点存在；退避期间"索引追上"，后续查找放行
		delete(f.hiddenSlugs, fullSlug)
		return nil, &storyblok.APIError{Kind: storyblok.KindConflict, Status: 422, Detail: "slug taken"}
	}

	st := &storyblok.Story{
		ID:       f.nextID,
		UUID:     fmt.Sprintf("uuid-%d", f.nextID),
		Name:     input.Name,
		Slug:     input.Slug,
		FullSlug: fullSlug,
		IsFolder: input.IsFolder,
		ParentID: input.ParentID,
		Content:  input.Content,
	}
	f.nextID++
	f.stories[fullSlug] = st
	f.byID[st.ID] = st
	cp := *st
	return &cp, nil
}

func (f *fakeStore) Update(ctx context.Context, id int64, input *storyblok.StoryInput) (*storyblok.Story, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, f.transientErr()
	}
	f.updateCalls++

	st, ok := f.byID[id]
	if !ok {
		return nil, notFoundErr(fmt.Sprintf("story %d", id))
	}
	st.Name = input.Name
	st.Content = input.Content
	cp := *st
	return &cp, nil
}

func (f *fakeStore) Publish(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll || f.publishFail[id] {
		return f.transientErr()
	}
	f.published[id]++
	if st, ok := f.byID[id]; ok {
		st.Published = true
	}
	return nil
}

func (f *fakeStore) Unpublish(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return f.transientErr()
	}
	f.unpublished[id]++
	if st, ok := f.byID[id]; ok {
		st.Published = false
	}
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.byID[id]; ok {
		delete(f.stories, st.FullSlug)
		delete(f.byID, id)
	}
	return nil
}
