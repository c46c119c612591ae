package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"raisely_sync_v1/internal/model"
	"raisely_sync_v1/internal/repository"
	"raisely_sync_v1/internal/service"
	"raisely_sync_v1/pkg/database"
	"raisely_sync_v1/pkg/raisely"
	"raisely_sync_v1/pkg/storyblok"
)

// bulksync 批量同步命令行工具
// 把 Raisely 档案一次性调和进 Storyblok 内容树，供首次迁移与灾后重建使用

var (
	flagType        string
	flagStatus      string
	flagCampaign    string
	flagLimit       int
	flagDryRun      bool
	flagForce       bool
	flagBatchSize   int
	flagDelay       time.Duration
	flagConcurrency int
	flagNoAudit     bool
)

func main() {
	root := &cobra.Command{
		Use:   "bulksync",
		Short: "批量同步 Raisely 档案到 Storyblok",
		Long: `批量拉取 Raisely 档案并调和到 Storyblok 内容树。

需要环境变量 (或 .env):
  STORYBLOK_TOKEN / STORYBLOK_SPACE_ID / RAISELY_API_KEY`,
		RunE: runBulkSync,
	}

	root.Flags().StringVar(&flagType, "type", "", "档案类型 INDIVIDUAL/GROUP (默认全部)")
	root.Flags().StringVar(&flagStatus, "status", raisely.StatusActive, "档案状态 ACTIVE/DRAFT")
	root.Flags().StringVar(&flagCampaign, "campaign", "", "按战役名子串筛选")
	root.Flags().IntVar(&flagLimit, "limit", 0, "最多处理条数 (0 不限)")
	root.Flags().BoolVar(&flagDryRun, "dry-run", false, "只报告将执行的操作，不写入")
	root.Flags().BoolVar(&flagForce, "force", false, "已存在节点也强制更新")
	root.Flags().IntVar(&flagBatchSize, "batch-size", 20, "每批条数")
	root.Flags().DurationVar(&flagDelay, "delay", 500*time.Millisecond, "批间延迟")
	root.Flags().IntVar(&flagConcurrency, "concurrency", 3, "并行组并发上限")
	root.Flags().BoolVar(&flagNoAudit, "no-audit", false, "不写审计库")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runBulkSync(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	store, err := storyblok.New(
		storyblok.WithToken(os.Getenv("STORYBLOK_TOKEN")),
		storyblok.WithSpaceID(os.Getenv("STORYBLOK_SPACE_ID")),
		storyblok.WithRetry(),
	)
	if err != nil {
		return fmt.Errorf("storyblok 客户端初始化失败: %w", err)
	}

	profilesClient, err := raisely.New(
		raisely.WithAPIKey(os.Getenv("RAISELY_API_KEY")),
	)
	if err != nil {
		return fmt.Errorf("raisely 客户端初始化失败: %w", err)
	}

	var logRepo repository.SyncLogRepository
	if !flagNoAudit {
		db := database.InitDB(envOr("DB_DRIVER", "sqlite"), envOr("DB_DSN", "sync_audit.db"),
			&model.SyncRun{}, &model.SyncRecord{})
		logRepo = repository.NewSyncLogRepository(db)
	}

	// Ctrl-C 协作式取消: 当前批做完即停
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Println("拉取 Raisely 档案...")
	profiles, err := profilesClient.ListProfiles(ctx, raisely.ProfileFilter{
		Type:     flagType,
		Status:   flagStatus,
		Campaign: flagCampaign,
		Limit:    flagLimit,
	})
	if err != nil {
		return fmt.Errorf("档案拉取失败: %w", err)
	}
	log.Printf("共 %d 个档案待同步", len(profiles))

	syncSvc := service.NewSyncService(store, logRepo)
	report := syncSvc.SyncBatch(ctx, profiles, service.BatchOptions{
		BatchSize:   flagBatchSize,
		Delay:       flagDelay,
		Concurrency: flagConcurrency,
		Force:       flagForce,
		DryRun:      flagDryRun,
		Mode:        model.RunModeBulk,
	})

	printReport(report)

	if report.Errored > 0 {
		return fmt.Errorf("%d 个档案同步失败", report.Errored)
	}
	return nil
}

// printReport 打印汇总与失败明细
func printReport(report *service.BatchReport) {
	fmt.Println()
	fmt.Println("==================== 同步汇总 ====================")
	fmt.Printf("运行 ID:  %s\n", report.RunID)
	fmt.Printf("新建:     %d\n", report.Created)
	fmt.Printf("更新:     %d\n", report.Updated)
	fmt.Printf("跳过:     %d\n", report.Skipped)
	fmt.Printf("失败:     %d\n", report.Errored)

	if report.Errored > 0 {
		fmt.Println()
		fmt.Println("失败明细:")
		for _, o := range report.Outcomes {
			if o.Err == nil {
				continue
			}
			name := o.ProfileName
			if name == "" {
				name = o.RaiselyID
			}
			fmt.Printf("  - %s: %v\n", name, o.Err)
		}
	}
}

func envOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
