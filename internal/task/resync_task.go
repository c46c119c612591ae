package task

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"raisely_sync_v1/internal/model"
	"raisely_sync_v1/internal/service"
	"raisely_sync_v1/pkg/raisely"
)

// ==================== ResyncTask 定期全量调和任务 ====================

// ResyncTask 定期把 Raisely 侧的活跃档案全量调和到内容树
// 调和策略：
//   - 追平调和：每 6 小时，只补缺失节点，兜住 webhook 丢失/乱序留下的偏差
//   - 全量调和：每日凌晨 3 点，强制刷新已有节点
//   - 首次执行延迟 60 秒，等待 HTTP 服务就绪；Stop 后不再触发
type ResyncTask struct {
	profiles raisely.Client
	syncSvc  *service.SyncService
	cron     *cron.Cron
	cancel   context.CancelFunc

	// 并发控制
	concurrencyLimit int
	batchSize        int
	batchDelay       time.Duration
	firstRunDelay    time.Duration
}

// NewResyncTask 创建全量调和任务
func NewResyncTask(profiles raisely.Client, syncSvc *service.SyncService) *ResyncTask {
	return &ResyncTask{
		profiles:         profiles,
		syncSvc:          syncSvc,
		cron:             cron.New(cron.WithSeconds()),
		concurrencyLimit: 3,
		batchSize:        20,
		batchDelay:       500 * time.Millisecond,
		firstRunDelay:    60 * time.Second,
	}
}

// SetConcurrency 设置并发参数
func (t *ResyncTask) SetConcurrency(limit, batchSize int, delay time.Duration) {
	t.concurrencyLimit = limit
	t.batchSize = batchSize
	t.batchDelay = delay
}

// Start 启动定时任务
func (t *ResyncTask) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	// 首次执行（延迟避开启动高峰，Stop 取消后不再触发）
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(t.firstRunDelay):
		}
		runCtx, done := context.WithTimeout(ctx, 1*time.Hour)
		defer done()
		log.Println("[ResyncTask] 执行首次追平调和...")
		t.resyncAll(runCtx, false, false)
	}()

	// 追平调和：每 6 小时，兜住白天丢失的 webhook
	_, _ = t.cron.AddFunc("0 0 */6 * * *", func() {
		runCtx, done := context.WithTimeout(ctx, 1*time.Hour)
		defer done()
		t.resyncAll(runCtx, false, false)
	})

	// 全量调和：每日凌晨 3 点，强制刷新已有节点
	_, _ = t.cron.AddFunc("0 0 3 * * *", func() {
		runCtx, done := context.WithTimeout(ctx, 2*time.Hour)
		defer done()
		log.Println("[ResyncTask] 开始每日全量调和...")
		t.resyncAll(runCtx, true, false)
	})

	t.cron.Start()
	log.Println("[ResyncTask] 已启动 (追平每6小时/全量每日3点)")
}

// Stop 停止任务，等当前批做完
func (t *ResyncTask) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	ctx := t.cron.Stop()
	<-ctx.Done()
	log.Println("[ResyncTask] 已停止")
}

// resyncAll 拉取活跃档案并批量调和
func (t *ResyncTask) resyncAll(ctx context.Context, force, dryRun bool) {
	report, err := t.RunOnce(ctx, raisely.ProfileFilter{Status: raisely.StatusActive}, force, dryRun)
	if err != nil {
		log.Printf("[ResyncTask] 调和失败: %v", err)
		return
	}
	log.Printf("[ResyncTask] 调和完成: 新建 %d, 更新 %d, 跳过 %d, 失败 %d",
		report.Created, report.Updated, report.Skipped, report.Errored)
}

// RunOnce 执行一轮调和: 按过滤条件拉取档案 → 批量同步 → 返回汇总
// 手动触发与定时触发共用；force 置位时已有节点也强制刷新
func (t *ResyncTask) RunOnce(ctx context.Context, filter raisely.ProfileFilter, force, dryRun bool) (*service.BatchReport, error) {
	profiles, err := t.profiles.ListProfiles(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		log.Println("[ResyncTask] 无符合条件的档案需要调和")
		return &service.BatchReport{}, nil
	}

	return t.syncSvc.SyncBatch(ctx, profiles, service.BatchOptions{
		BatchSize:   t.batchSize,
		Delay:       t.batchDelay,
		Concurrency: t.concurrencyLimit,
		Force:       force,
		DryRun:      dryRun,
		Mode:        model.RunModeCron,
	}), nil
}

// ==================== 手动触发 ====================

// ResyncNow 后台立即执行一轮全量调和
func (t *ResyncTask) ResyncNow(force, dryRun bool) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
		defer cancel()
		t.resyncAll(ctx, force, dryRun)
	}()
}
