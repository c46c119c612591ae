package service

import (
	"context"
	"testing"
)

// ==================== 目录树解析测试 ====================

func newTestTree(store *fakeStore) *TreeService {
	tree := NewTreeService(store)
	tree.SetConflictBackoff(0)
	return tree
}

func TestResolveCampaignFolderCreatesHierarchy(t *testing.T) {
	store := newFakeStore()
	tree := newTestTree(store)
	ctx := context.Background()

	folder, err := tree.ResolveCampaignFolder(ctx, "Fun Run 2026")
	if err != nil {
		t.Fatalf("解析战役目录失败: %v", err)
	}
	if folder.FullSlug != "fundraisers/fun-run-2026" {
		t.Errorf("战役目录路径错误: %s", folder.FullSlug)
	}
	if !folder.IsFolder {
		t.Error("战役节点应为目录")
	}

	// 根目录 + 战役目录 + team 子目录 = 3 次创建
	if store.createCalls != 3 {
		t.Errorf("创建次数不符: %d", store.createCalls)
	}

	// team 子目录随战役目录一并创建，绝不延迟补建
	team := store.get("fundraisers/fun-run-2026/team")
	if team == nil || !team.IsFolder {
		t.Fatal("team 子目录未随战役目录创建")
	}
}

func TestResolutionIdempotent(t *testing.T) {
	store := newFakeStore()
	tree := newTestTree(store)
	ctx := context.Background()

	first, err := tree.ResolveCampaignFolder(ctx, "City2Surf")
	if err != nil {
		t.Fatalf("首次解析失败: %v", err)
	}
	callsAfterFirst := store.createCalls

	// 同实例二次解析: 命中缓存，零创建
	second, err := tree.ResolveCampaignFolder(ctx, "City2Surf")
	if err != nil {
		t.Fatalf("二次解析失败: %v", err)
	}
	if second.FullSlug != first.FullSlug {
		t.Errorf("两次解析路径不一致: %s vs %s", first.FullSlug, second.FullSlug)
	}
	if store.createCalls != callsAfterFirst {
		t.Errorf("二次解析不应有任何创建: %d → %d", callsAfterFirst, store.createCalls)
	}

	// 新实例 (无缓存) 解析: 走存储查找，同样零创建
	fresh := newTestTree(store)
	third, err := fresh.ResolveCampaignFolder(ctx, "City2Surf")
	if err != nil {
		t.Fatalf("新实例解析失败: %v", err)
	}
	if third.FullSlug != first.FullSlug {
		t.Errorf("新实例解析路径不一致: %s", third.FullSlug)
	}
	if store.createCalls != callsAfterFirst {
		t.Errorf("已存在层级不应重复创建: %d → %d", callsAfterFirst, store.createCalls)
	}
}

func TestFallbackListLookup(t *testing.T) {
	store := newFakeStore()
	tree := newTestTree(store)
	ctx := context.Background()

	// 节点存在但精确查找不命中 (索引延迟)；兜底的前缀列表仍能看到
	store.seed("fundraisers", true, nil)
	camp := store.seed("fundraisers/walkathon", true, nil)
	store.seed("fundraisers/walkathon/team", true, nil)
	store.slugLookupLag["fundraisers/walkathon"] = true

	folder, err := tree.ResolveCampaignFolder(ctx, "Walkathon")
	if err != nil {
		t.Fatalf("兜底查找失败: %v", err)
	}
	if folder.ID != camp.ID {
		t.Errorf("命中节点不符: %d", folder.ID)
	}
	if store.createCalls != 0 {
		t.Errorf("索引延迟不应导致重复创建: %d", store.createCalls)
	}
}

func TestConflictRecovery(t *testing.T) {
	store := newFakeStore()
	tree := newTestTree(store)
	ctx := context.Background()

	store.seed("fundraisers", true, nil)
	existing := store.seed("fundraisers/fun-run", true, nil)
	store.seed("fundraisers/fun-run/team", true, nil)

	// 两级查找都不命中 → 尝试创建 → 冲突 → 退避后重查命中
	store.hiddenSlugs["fundraisers/fun-run"] = true

	folder, err := tree.ResolveCampaignFolder(ctx, "Fun Run")
	if err != nil {
		t.Fatalf("冲突恢复路径失败: %v", err)
	}
	if folder.ID != existing.ID {
		t.Errorf("应解析到已存在节点 %d，得到 %d", existing.ID, folder.ID)
	}
}

func TestResolveOrCreateEvent(t *testing.T) {
	store := newFakeStore()
	tree := newTestTree(store)
	ctx := context.Background()

	// 先解析战役目录，活动创建后要补反向引用
	if _, err := tree.ResolveCampaignFolder(ctx, "Fun Run"); err != nil {
		t.Fatalf("战役目录解析失败: %v", err)
	}

	event, err := tree.ResolveOrCreateEvent(ctx, "Fun Run")
	if err != nil {
		t.Fatalf("活动节点解析失败: %v", err)
	}
	if event.FullSlug != "events/fun-run" {
		t.Errorf("活动节点路径错误: %s", event.FullSlug)
	}
	if event.IsFolder {
		t.Error("活动节点应为叶子故事")
	}

	// 战役目录已补活动反向引用
	camp := store.get("fundraisers/fun-run")
	refs := stringList(camp.Content, "events")
	if len(refs) != 1 || refs[0] != event.UUID {
		t.Errorf("活动反向引用未写入: %v", refs)
	}

	// 再次解析: 幂等，无新建，引用不重复
	callsBefore := store.createCalls
	again, err := tree.ResolveOrCreateEvent(ctx, "Fun Run")
	if err != nil {
		t.Fatalf("二次解析失败: %v", err)
	}
	if again.UUID != event.UUID {
		t.Errorf("二次解析得到不同节点: %s", again.UUID)
	}
	if store.createCalls != callsBefore {
		t.Errorf("二次解析不应创建: %d → %d", callsBefore, store.createCalls)
	}
	refs = stringList(store.get("fundraisers/fun-run").Content, "events")
	if len(refs) != 1 {
		t.Errorf("活动引用被重复写入: %v", refs)
	}
}

func TestRootFailureIsFatal(t *testing.T) {
	store := newFakeStore()
	store.failAll = true
	tree := newTestTree(store)

	if _, err := tree.ResolveRoot(context.Background()); err == nil {
		t.Fatal("根目录不可用应返回错误")
	}
	if _, err := tree.ResolveCampaignFolder(context.Background(), "Any"); err == nil {
		t.Fatal("根目录不可用时战役解析应失败")
	}
}

func TestResolveTeamFolderLookupOnly(t *testing.T) {
	store := newFakeStore()
	tree := newTestTree(store)
	ctx := context.Background()

	camp, err := tree.ResolveCampaignFolder(ctx, "Fun Run")
	if err != nil {
		t.Fatalf("战役解析失败: %v", err)
	}

	callsBefore := store.createCalls
	team, err := tree.ResolveTeamFolder(ctx, camp)
	if err != nil {
		t.Fatalf("team 子目录查找失败: %v", err)
	}
	if team.FullSlug != "fundraisers/fun-run/team" {
		t.Errorf("team 子目录路径错误: %s", team.FullSlug)
	}
	if store.createCalls != callsBefore {
		t.Error("ResolveTeamFolder 只查找，不应创建")
	}
}
