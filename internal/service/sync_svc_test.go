package service

import (
	"context"
	"encoding/json"
	"testing"

	"raisely_sync_v1/internal/model"
	"raisely_sync_v1/internal/repository"
	"raisely_sync_v1/pkg/raisely"
)

// ==================== 同步编排测试 ====================

func newTestSync(store *fakeStore) *SyncService {
	svc := NewSyncService(store, nil)
	svc.live.tree.SetConflictBackoff(0)
	svc.dry.tree.SetConflictBackoff(0)
	return svc
}

func individualProfile(uuid, name string, parent *raisely.Profile) *raisely.Profile {
	return &raisely.Profile{
		UUID: uuid, Name: name, Path: "fun-run/" + uuid,
		Type: raisely.TypeIndividual, Status: raisely.StatusActive,
		Goal: 50000, Total: 10000,
		Parent: parent,
	}
}

var campaignParent = &raisely.Profile{Name: "Fun Run", Type: raisely.TypeCampaign}

func teamParent() *raisely.Profile {
	return &raisely.Profile{
		Name: "Team X", Path: "fun-run/team-x", Type: raisely.TypeGroup,
		Status: raisely.StatusActive, Parent: campaignParent,
	}
}

func TestSyncIndividualEndToEnd(t *testing.T) {
	store := newFakeStore()
	svc := newTestSync(store)
	ctx := context.Background()

	outcome, err := svc.SyncProfile(ctx, individualProfile("p1", "Jane Doe", campaignParent), SyncOptions{})
	if err != nil {
		t.Fatalf("同步失败: %v", err)
	}
	if outcome.Action != ActionCreated {
		t.Errorf("动作应为 created: %s", outcome.Action)
	}
	if outcome.FullSlug != "fundraisers/fun-run/jane-doe" {
		t.Errorf("fullPath 错误: %s", outcome.FullSlug)
	}
	if outcome.CampaignName != "Fun Run" {
		t.Errorf("战役名错误: %s", outcome.CampaignName)
	}

	// 层级齐备: 根 + 战役 + team 子目录 + 活动根 + 活动 + 募捐节点
	for _, slug := range []string{
		"fundraisers", "fundraisers/fun-run", "fundraisers/fun-run/team",
		"events", "events/fun-run", "fundraisers/fun-run/jane-doe",
	} {
		if store.get(slug) == nil {
			t.Errorf("节点缺失: %s", slug)
		}
	}

	// Active → 已发布
	leaf := store.get("fundraisers/fun-run/jane-doe")
	if store.published[leaf.ID] != 1 {
		t.Errorf("Active 档案应被发布: %d", store.published[leaf.ID])
	}
}

func TestSyncCampaignKindIsNeverALeaf(t *testing.T) {
	store := newFakeStore()
	svc := newTestSync(store)

	outcome, err := svc.SyncProfile(context.Background(), &raisely.Profile{
		UUID: "c1", Name: "Fun Run", Path: "fun-run", Type: raisely.TypeCampaign,
	}, SyncOptions{})
	if err != nil {
		t.Fatalf("战役档案不应报错: %v", err)
	}
	if outcome.Action != ActionSkipped {
		t.Errorf("战役档案应跳过: %s", outcome.Action)
	}
	if store.createCalls != 0 {
		t.Errorf("战役档案不应触发任何创建: %d", store.createCalls)
	}
}

func TestSyncTeamMemberMergesMembership(t *testing.T) {
	store := newFakeStore()
	svc := newTestSync(store)
	ctx := context.Background()

	outcome, err := svc.SyncProfile(ctx, individualProfile("p1", "Bob", teamParent()), SyncOptions{})
	if err != nil {
		t.Fatalf("同步失败: %v", err)
	}
	if outcome.Action != ActionCreated {
		t.Errorf("动作应为 created: %s", outcome.Action)
	}

	// 队伍节点被自愈创建，且成员引用已并入
	team := store.get("fundraisers/fun-run/team/team-x")
	if team == nil {
		t.Fatal("队伍节点未自愈创建")
	}
	leaf := store.get("fundraisers/fun-run/bob")
	members := stringList(team.Content, "team")
	if len(members) != 1 || members[0] != leaf.UUID {
		t.Errorf("成员引用未并入: %v (期望 %s)", members, leaf.UUID)
	}
}

// TestOrderIndependence 乱序自愈: 成员事件先于队伍本体事件到达，
// 两者都同步后队伍节点与成员关系都正确
func TestOrderIndependence(t *testing.T) {
	store := newFakeStore()
	svc := newTestSync(store)
	ctx := context.Background()

	// 1. 成员先到 → 最小队伍节点自愈创建
	if _, err := svc.SyncProfile(ctx, individualProfile("p1", "Bob", teamParent()), SyncOptions{}); err != nil {
		t.Fatalf("成员先行同步失败: %v", err)
	}

	// 2. 队伍本体后到 → 更新已有节点，成员列表保留
	teamProfile := &raisely.Profile{
		UUID: "t1", Name: "Team X", Path: "fun-run/team-x",
		Type: raisely.TypeGroup, Status: raisely.StatusActive,
		Goal: 100000, Parent: campaignParent,
	}
	outcome, err := svc.SyncProfile(ctx, teamProfile, SyncOptions{})
	if err != nil {
		t.Fatalf("队伍本体同步失败: %v", err)
	}
	if outcome.Action != ActionUpdated {
		t.Errorf("队伍本体应命中自愈节点并更新: %s", outcome.Action)
	}

	team := store.get("fundraisers/fun-run/team/team-x")
	members := stringList(team.Content, "team")
	leaf := store.get("fundraisers/fun-run/bob")
	if len(members) != 1 || members[0] != leaf.UUID {
		t.Errorf("乱序同步后成员关系丢失: %v", members)
	}
	if team.Content["target_amount"] != 1000.00 {
		t.Errorf("队伍本体字段未更新: %v", team.Content["target_amount"])
	}
}

// TestCreatedEventSkipKnob 创建类事件的幂等旋钮:
// 默认已存在即跳过本体，但队伍并入绝不跳过；Force 则强制更新
func TestCreatedEventSkipKnob(t *testing.T) {
	store := newFakeStore()
	svc := newTestSync(store)
	ctx := context.Background()

	profile := individualProfile("p1", "Bob", teamParent())
	if _, err := svc.SyncProfile(ctx, profile, SyncOptions{}); err != nil {
		t.Fatalf("首次同步失败: %v", err)
	}

	// 人为清空队伍成员，验证跳过路径仍会并入
	team := store.get("fundraisers/fun-run/team/team-x")
	store.mu.Lock()
	content := map[string]interface{}{}
	for k, v := range team.Content {
		content[k] = v
	}
	content["team"] = []string{}
	team.Content = content
	store.mu.Unlock()

	outcome, err := svc.SyncProfile(ctx, profile, SyncOptions{EventType: raisely.EventProfileCreated})
	if err != nil {
		t.Fatalf("重放创建事件失败: %v", err)
	}
	if outcome.Action != ActionSkipped {
		t.Errorf("已存在节点的创建事件应跳过: %s", outcome.Action)
	}
	members := stringList(store.get("fundraisers/fun-run/team/team-x").Content, "team")
	if len(members) != 1 {
		t.Errorf("本体跳过时队伍并入也被跳过了: %v", members)
	}

	// Force 覆盖跳过默认
	outcome, err = svc.SyncProfile(ctx, profile, SyncOptions{EventType: raisely.EventProfileCreated, Force: true})
	if err != nil {
		t.Fatalf("强制更新失败: %v", err)
	}
	if outcome.Action != ActionUpdated {
		t.Errorf("Force 应强制更新: %s", outcome.Action)
	}
}

func TestSyncMissingFieldsIsIsolatedError(t *testing.T) {
	store := newFakeStore()
	svc := newTestSync(store)

	outcome, err := svc.SyncProfile(context.Background(), &raisely.Profile{
		UUID: "bad", Type: raisely.TypeIndividual, // 缺 name/path
	}, SyncOptions{})
	if err == nil {
		t.Fatal("必填字段缺失应报错")
	}
	if outcome.Action != ActionError {
		t.Errorf("结果动作应为 error: %s", outcome.Action)
	}
	if store.createCalls != 0 {
		t.Error("校验失败不应触达存储")
	}
}

func TestDryRunPerformsNoMutations(t *testing.T) {
	store := newFakeStore()
	svc := newTestSync(store)

	outcome, err := svc.SyncProfile(context.Background(),
		individualProfile("p1", "Jane", teamParent()), SyncOptions{DryRun: true})
	if err != nil {
		t.Fatalf("dry-run 失败: %v", err)
	}
	if outcome.Action != ActionCreated {
		t.Errorf("dry-run 应报告将创建: %s", outcome.Action)
	}
	if store.createCalls != 0 || store.updateCalls != 0 {
		t.Errorf("dry-run 不应有任何存储写入: create=%d update=%d", store.createCalls, store.updateCalls)
	}
	if len(store.published) != 0 {
		t.Error("dry-run 不应有发布调用")
	}
}

func TestPartitionProfiles(t *testing.T) {
	soloA := individualProfile("a", "A", campaignParent)
	soloB := individualProfile("b", "B", nil)
	teamX := teamParent()
	memberC := individualProfile("c", "C", teamX)
	memberD := individualProfile("d", "D", teamX)
	teamBody := &raisely.Profile{
		UUID: "t1", Name: "Team X", Path: "fun-run/team-x",
		Type: raisely.TypeGroup, Parent: campaignParent,
	}

	groups := partitionProfiles([]*raisely.Profile{soloA, memberC, teamBody, soloB, memberD})

	// 无队伍个人 + 队伍本体 → 并行安全组
	if len(groups.parallel) != 3 {
		t.Errorf("并行组大小不符: %d", len(groups.parallel))
	}
	// 同队成员 → 同一串行组，保持列表顺序
	if len(groups.sequential) != 1 {
		t.Fatalf("串行组数量不符: %d", len(groups.sequential))
	}
	key := groups.order[0]
	seq := groups.sequential[key]
	if len(seq) != 2 || seq[0].UUID != "c" || seq[1].UUID != "d" {
		t.Errorf("串行组顺序错误: %+v", seq)
	}
}

// TestBatchSkipIfFoundDefault 批量调和的幂等默认:
// 已存在节点只补缺失不重写，Force 覆盖
func TestBatchSkipIfFoundDefault(t *testing.T) {
	store := newFakeStore()
	svc := newTestSync(store)
	ctx := context.Background()
	profiles := []*raisely.Profile{individualProfile("p1", "Jane", campaignParent)}

	first := svc.SyncBatch(ctx, profiles, BatchOptions{})
	if first.Created != 1 {
		t.Fatalf("首轮应创建: %+v", first)
	}

	second := svc.SyncBatch(ctx, profiles, BatchOptions{})
	if second.Skipped != 1 || second.Updated != 0 || second.Created != 0 {
		t.Errorf("已存在节点的批量调和应跳过本体: %+v", second)
	}

	forced := svc.SyncBatch(ctx, profiles, BatchOptions{Force: true})
	if forced.Updated != 1 || forced.Skipped != 0 {
		t.Errorf("Force 应强制更新已有节点: %+v", forced)
	}
}

// ==================== 审计记录 ====================

// captureLogRepo 内存审计仓储，捕获写入内容供断言
type captureLogRepo struct {
	runs    []*model.SyncRun
	records []model.SyncRecord
}

func (r *captureLogRepo) CreateRun(ctx context.Context, run *model.SyncRun) error {
	r.runs = append(r.runs, run)
	return nil
}

func (r *captureLogRepo) FinishRun(ctx context.Context, runID string, created, updated, skipped, errored int) error {
	return nil
}

func (r *captureLogRepo) GetRunByID(ctx context.Context, runID string) (*model.SyncRun, error) {
	return nil, nil
}

func (r *captureLogRepo) ListRuns(ctx context.Context, filter repository.RunFilter) ([]model.SyncRun, int64, error) {
	return nil, 0, nil
}

func (r *captureLogRepo) AddRecord(ctx context.Context, record *model.SyncRecord) error {
	r.records = append(r.records, *record)
	return nil
}

func (r *captureLogRepo) AddRecords(ctx context.Context, records []model.SyncRecord) error {
	r.records = append(r.records, records...)
	return nil
}

func (r *captureLogRepo) ListRecords(ctx context.Context, filter repository.RecordFilter) ([]model.SyncRecord, int64, error) {
	return nil, 0, nil
}

// TestWebhookAuditCarriesEventType webhook 审计明细记录原始事件类型
func TestWebhookAuditCarriesEventType(t *testing.T) {
	store := newFakeStore()
	repo := &captureLogRepo{}
	svc := NewSyncService(store, repo)
	svc.live.tree.SetConflictBackoff(0)

	_, err := svc.SyncWebhookEvent(context.Background(),
		individualProfile("p1", "Jane", campaignParent),
		SyncOptions{EventType: raisely.EventProfileUpdated})
	if err != nil {
		t.Fatalf("webhook 同步失败: %v", err)
	}

	if len(repo.records) != 1 {
		t.Fatalf("审计明细数量不符: %d", len(repo.records))
	}
	rec := repo.records[0]
	if rec.Action != string(ActionCreated) {
		t.Errorf("审计动作不符: %s", rec.Action)
	}
	var detail map[string]string
	if err := json.Unmarshal(rec.Detail, &detail); err != nil {
		t.Fatalf("detail 不是合法 JSON: %v", err)
	}
	if detail["event_type"] != raisely.EventProfileUpdated {
		t.Errorf("detail 未记录事件类型: %v", detail)
	}
}

func TestSyncBatchReport(t *testing.T) {
	store := newFakeStore()
	svc := newTestSync(store)

	profiles := []*raisely.Profile{
		individualProfile("p1", "Jane", campaignParent),
		individualProfile("p2", "Bob", teamParent()),
		{UUID: "bad", Type: raisely.TypeIndividual}, // 必填字段缺失
	}

	report := svc.SyncBatch(context.Background(), profiles, BatchOptions{BatchSize: 2})
	if report.Created != 2 {
		t.Errorf("created 计数不符: %d", report.Created)
	}
	if report.Errored != 1 {
		t.Errorf("errored 计数不符: %d", report.Errored)
	}
	if len(report.Outcomes) != 3 {
		t.Errorf("结果明细数量不符: %d", len(report.Outcomes))
	}

	// 单个档案失败不影响其余档案
	if store.get("fundraisers/fun-run/jane") == nil || store.get("fundraisers/fun-run/bob") == nil {
		t.Error("失败档案影响了同批其它档案")
	}
}
