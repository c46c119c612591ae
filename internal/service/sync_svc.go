package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"raisely_sync_v1/internal/model"
	"raisely_sync_v1/internal/repository"
	"raisely_sync_v1/pkg/raisely"
	"raisely_sync_v1/pkg/slugify"
	"raisely_sync_v1/pkg/storyblok"
)

// ==================== 选项与结果 ====================

// SyncOptions 单档案同步选项
type SyncOptions struct {
	// EventType webhook 事件标签 (profile.created / profile.updated)，批量模式为空
	EventType string
	// SkipIfFound 命中已存在节点时跳过本体 (批量调和的默认语义；Force 覆盖)
	SkipIfFound bool
	// Force 创建类事件/批量调和命中已存在节点时，默认跳过本体；置位则强制更新
	Force bool
	// DryRun 引擎逻辑照跑，但所有存储写操作只报告不执行
	DryRun bool
}

// SyncOutcome 单档案同步结果
type SyncOutcome struct {
	RaiselyID    string            `json:"raisely_id"`
	EventType    string            `json:"event_type,omitempty"`
	ProfileName  string            `json:"profile_name"`
	CampaignName string            `json:"campaign_name"`
	Kind         model.ProfileKind `json:"kind"`
	Action       UpsertAction      `json:"action"`
	FullSlug     string            `json:"full_slug"`
	Err          error             `json:"-"`
}

// BatchOptions 批量同步选项
type BatchOptions struct {
	BatchSize   int           // 每批条数，默认 20
	Delay       time.Duration // 批间延迟 (尊重存储端限流的建议性节流)
	Concurrency int           // 并行安全组的并发上限，默认 3
	Force       bool
	DryRun      bool
	Mode        string // 审计用: bulk / cron
}

// BatchReport 批量同步汇总
type BatchReport struct {
	RunID    string        `json:"run_id"`
	Created  int           `json:"created"`
	Updated  int           `json:"updated"`
	Skipped  int           `json:"skipped"`
	Errored  int           `json:"errored"`
	Outcomes []SyncOutcome `json:"outcomes"`
}

// ==================== 引擎装配 ====================

// engine 一套完整的调和组件 (真实或试运行存储之上各装配一套)
type engine struct {
	store       storyblok.Client
	tree        *TreeService
	fundraisers *FundraiserService
	teams       *TeamService
}

func newEngine(store storyblok.Client) *engine {
	tree := NewTreeService(store)
	return &engine{
		store:       store,
		tree:        tree,
		fundraisers: NewFundraiserService(store),
		teams:       NewTeamService(store, tree),
	}
}

// ==================== SyncService 同步编排 ====================

// SyncService 每档案事件的编排者: 分类 → 解析战役 → 解析活动 → 写入 → 队伍并入
// 引擎中唯一知道调用场景 (webhook / 批量) 的组件
type SyncService struct {
	live    *engine
	dry     *engine
	logRepo repository.SyncLogRepository // 可为 nil (审计关闭)
}

// NewSyncService 创建同步编排服务
func NewSyncService(store storyblok.Client, logRepo repository.SyncLogRepository) *SyncService {
	return &SyncService{
		live:    newEngine(store),
		dry:     newEngine(NewDryRunStore(store)),
		logRepo: logRepo,
	}
}

// Tree 暴露目录树服务 (测试与运维工具用)
func (s *SyncService) Tree() *TreeService { return s.live.tree }

func (s *SyncService) engineFor(opts SyncOptions) *engine {
	if opts.DryRun {
		return s.dry
	}
	return s.live
}

// SyncProfile 同步单个档案事件
// 返回的 outcome 总是非空；错误同时挂在 outcome.Err 与返回值上
func (s *SyncService) SyncProfile(ctx context.Context, raw *raisely.Profile, opts SyncOptions) (*SyncOutcome, error) {
	eng := s.engineFor(opts)

	// 1. 分类与归一化 (必填字段缺失 = fatal-to-call)
	sp, err := model.Normalize(raw)
	if err != nil {
		outcome := &SyncOutcome{EventType: opts.EventType, Action: ActionError, Err: err}
		if raw != nil {
			outcome.RaiselyID = raw.UUID
			outcome.ProfileName = raw.Name
		}
		return outcome, err
	}

	outcome := &SyncOutcome{
		RaiselyID:    sp.RaiselyID,
		EventType:    opts.EventType,
		ProfileName:  sp.Name,
		CampaignName: sp.CampaignName,
		Kind:         sp.Kind,
	}

	// 战役档案只用于标注祖先链，从不作为叶子同步
	if sp.Kind == model.KindCampaign {
		outcome.Action = ActionSkipped
		return outcome, nil
	}

	// 2. 解析战役目录 (不可解析 = fatal-to-call)
	campaign, err := eng.tree.ResolveCampaignFolder(ctx, sp.CampaignName)
	if err != nil {
		return s.fail(outcome, err)
	}

	// 3. 解析/创建活动节点
	event, err := eng.tree.ResolveOrCreateEvent(ctx, sp.CampaignName)
	if err != nil {
		return s.fail(outcome, err)
	}

	// 4. 定位父目录: 队伍入 team 子目录，个人直接入战役目录
	parent := campaign
	if sp.Kind == model.KindTeam {
		parent, err = eng.tree.ResolveTeamFolder(ctx, campaign)
		if err != nil {
			return s.fail(outcome, fmt.Errorf("战役 %s 缺少 team 子目录: %w", campaign.FullSlug, err))
		}
	}
	fullSlug := LeafFullSlug(sp, parent)
	outcome.FullSlug = fullSlug

	// 5. 幂等旋钮: 创建类事件或批量调和且未强制时，已存在则跳过本体
	var result *UpsertResult
	if (opts.EventType == raisely.EventProfileCreated || opts.SkipIfFound) && !opts.Force {
		existing, ferr := eng.fundraisers.Find(ctx, fullSlug)
		switch {
		case ferr == nil:
			result = &UpsertResult{Story: existing, Action: ActionSkipped}
		case storyblok.IsNotFound(ferr):
			// 不存在，正常走创建
		default:
			return s.fail(outcome, ferr)
		}
	}

	if result == nil {
		result, err = eng.fundraisers.Upsert(ctx, sp, parent, event)
		if err != nil {
			return s.fail(outcome, err)
		}
	}
	outcome.Action = result.Action

	// 6. 队伍并入: 本体被跳过也绝不跳过成员关系
	if sp.Kind == model.KindIndividual && sp.TeamName != "" {
		if _, err := eng.teams.EnsureTeam(ctx, sp.TeamName, sp.CampaignName, event); err != nil {
			return s.fail(outcome, err)
		}
		if err := eng.teams.AddMember(ctx, sp.TeamName, sp.CampaignName, result.Story.UUID); err != nil {
			return s.fail(outcome, err)
		}
	}

	return outcome, nil
}

func (s *SyncService) fail(outcome *SyncOutcome, err error) (*SyncOutcome, error) {
	outcome.Action = ActionError
	outcome.Err = err
	return outcome, err
}

// SyncWebhookEvent webhook 入口: 同步单档案并落一条审计运行记录
func (s *SyncService) SyncWebhookEvent(ctx context.Context, raw *raisely.Profile, opts SyncOptions) (*SyncOutcome, error) {
	outcome, err := s.SyncProfile(ctx, raw, opts)
	s.persistRun(ctx, model.RunModeWebhook, opts.DryRun, []SyncOutcome{*outcome})
	return outcome, err
}

// ==================== 批量同步 ====================

// batchGroups 一批档案的调度分组
// parallel: 互不相关的节点，可并行写入
// sequential: 同队伍成员，必须按列表顺序逐个处理 —— 这是防止
// 成员并入读-改-写丢失更新的唯一防线
type batchGroups struct {
	parallel   []*raisely.Profile
	sequential map[string][]*raisely.Profile
	order      []string // 串行组首次出现顺序
}

// partitionProfiles 将一批档案划分为并行安全组与按队伍串行组
func partitionProfiles(profiles []*raisely.Profile) *batchGroups {
	groups := &batchGroups{sequential: make(map[string][]*raisely.Profile)}

	for _, p := range profiles {
		if p != nil && p.Type != raisely.TypeGroup && p.Parent != nil && p.Parent.IsTeam() {
			key := CampaignSlug(model.DeriveCampaignName(p)) + "/" + slugify.Slugify(p.Parent.Name)
			if _, seen := groups.sequential[key]; !seen {
				groups.order = append(groups.order, key)
			}
			groups.sequential[key] = append(groups.sequential[key], p)
			continue
		}
		groups.parallel = append(groups.parallel, p)
	}
	return groups
}

// SyncBatch 批量同步: 分批 → 每批内分组调度 → 批间延迟 → 汇总
// 批间协作式检查取消；串行链在取消时做完当前成员再停，
// 避免队伍写入只做一半
func (s *SyncService) SyncBatch(ctx context.Context, profiles []*raisely.Profile, opts BatchOptions) *BatchReport {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 3
	}
	mode := opts.Mode
	if mode == "" {
		mode = model.RunModeBulk
	}

	report := &BatchReport{RunID: uuid.NewString()}
	syncOpts := SyncOptions{SkipIfFound: true, Force: opts.Force, DryRun: opts.DryRun}

	log.Printf("[SyncService] 批量同步开始: %d 个档案, 批大小 %d, 并发 %d, dry-run=%v",
		len(profiles), opts.BatchSize, opts.Concurrency, opts.DryRun)

	for start := 0; start < len(profiles); start += opts.BatchSize {
		if start > 0 {
			// 批间检查取消 + 建议性限流延迟
			select {
			case <-ctx.Done():
				log.Printf("[SyncService] 批量同步在第 %d 条前被取消", start)
				s.finishBatch(ctx, mode, opts.DryRun, report)
				return report
			default:
			}
			if opts.Delay > 0 {
				time.Sleep(opts.Delay)
			}
		}

		end := start + opts.BatchSize
		if end > len(profiles) {
			end = len(profiles)
		}
		s.processBatch(ctx, profiles[start:end], syncOpts, opts.Concurrency, report)
	}

	s.finishBatch(ctx, mode, opts.DryRun, report)
	log.Printf("[SyncService] 批量同步完成: 新建 %d, 更新 %d, 跳过 %d, 失败 %d",
		report.Created, report.Updated, report.Skipped, report.Errored)
	return report
}

// processBatch 处理一批: 并行安全组走信号量并发，串行组每队一条顺序链
func (s *SyncService) processBatch(ctx context.Context, batch []*raisely.Profile, opts SyncOptions, concurrency int, report *BatchReport) {
	groups := partitionProfiles(batch)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	collect := func(outcome *SyncOutcome) {
		mu.Lock()
		defer mu.Unlock()
		report.Outcomes = append(report.Outcomes, *outcome)
		switch outcome.Action {
		case ActionCreated:
			report.Created++
		case ActionUpdated:
			report.Updated++
		case ActionSkipped:
			report.Skipped++
		default:
			report.Errored++
		}
	}

	// 并行安全组: 互不相关的个人与队伍本体
	sem := make(chan struct{}, concurrency)
	for _, p := range groups.parallel {
		profile := p
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			outcome, err := s.SyncProfile(ctx, profile, opts)
			if err != nil {
				log.Printf("[SyncService] 档案 %s(%s) 同步失败: %v", outcome.ProfileName, outcome.RaiselyID, err)
			}
			collect(outcome)
		}()
	}

	// 串行组: 同队成员一次一个、按列表顺序
	for _, key := range groups.order {
		members := groups.sequential[key]
		teamKey := key
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i, member := range members {
				// 当前成员总是做完，取消只在成员间生效
				outcome, err := s.SyncProfile(ctx, member, opts)
				if err != nil {
					log.Printf("[SyncService] 队伍 %s 成员 %s 同步失败: %v", teamKey, outcome.RaiselyID, err)
				}
				collect(outcome)

				if i < len(members)-1 {
					select {
					case <-ctx.Done():
						log.Printf("[SyncService] 队伍 %s 串行链在第 %d 个成员后停止", teamKey, i+1)
						return
					default:
					}
				}
			}
		}()
	}

	wg.Wait()
}

// finishBatch 落审计记录 (审计关闭或写库失败都不影响同步结果)
func (s *SyncService) finishBatch(ctx context.Context, mode string, dryRun bool, report *BatchReport) {
	s.persistReport(ctx, mode, dryRun, report)
}

func (s *SyncService) persistReport(ctx context.Context, mode string, dryRun bool, report *BatchReport) {
	if s.logRepo == nil {
		return
	}

	run := &model.SyncRun{RunID: report.RunID, Mode: mode, DryRun: dryRun}
	if err := s.logRepo.CreateRun(ctx, run); err != nil {
		log.Printf("[SyncService] 审计运行记录写入失败: %v", err)
		return
	}

	records := make([]model.SyncRecord, 0, len(report.Outcomes))
	for _, o := range report.Outcomes {
		rec := model.SyncRecord{
			RunID:        report.RunID,
			RaiselyID:    o.RaiselyID,
			ProfileName:  o.ProfileName,
			CampaignName: o.CampaignName,
			Kind:         string(o.Kind),
			Action:       string(o.Action),
			FullSlug:     o.FullSlug,
		}
		if o.Err != nil {
			rec.Error = o.Err.Error()
		}
		if o.EventType != "" {
			if raw, merr := json.Marshal(map[string]string{"event_type": o.EventType}); merr == nil {
				rec.Detail = datatypes.JSON(raw)
			}
		}
		records = append(records, rec)
	}
	if err := s.logRepo.AddRecords(ctx, records); err != nil {
		log.Printf("[SyncService] 审计明细写入失败: %v", err)
	}
	if err := s.logRepo.FinishRun(ctx, report.RunID, report.Created, report.Updated, report.Skipped, report.Errored); err != nil {
		log.Printf("[SyncService] 审计汇总写入失败: %v", err)
	}
}

// persistRun webhook 单事件审计
func (s *SyncService) persistRun(ctx context.Context, mode string, dryRun bool, outcomes []SyncOutcome) {
	report := &BatchReport{RunID: uuid.NewString(), Outcomes: outcomes}
	for _, o := range outcomes {
		switch o.Action {
		case ActionCreated:
			report.Created++
		case ActionUpdated:
			report.Updated++
		case ActionSkipped:
			report.Skipped++
		default:
			report.Errored++
		}
	}
	s.persistReport(ctx, mode, dryRun, report)
}
