package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"gorm.io/gorm"

	"raisely_sync_v1/internal/controller"
	"raisely_sync_v1/internal/middleware"
	"raisely_sync_v1/internal/model"
	"raisely_sync_v1/internal/repository"
	"raisely_sync_v1/internal/router"
	"raisely_sync_v1/internal/service"
	"raisely_sync_v1/internal/task"
	"raisely_sync_v1/pkg/database"
	"raisely_sync_v1/pkg/raisely"
	"raisely_sync_v1/pkg/storyblok"
)

func main() {
	// 0. 加载 .env (容器环境下直接用环境变量，文件缺失不报错)
	_ = godotenv.Load()

	// 1. 初始化审计数据库
	db := initDatabase()

	// 2. 初始化依赖
	deps := initDependencies(db)

	// 3. 启动定时任务
	initTasks(deps)

	// 4. 初始化路由
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	router.InitRoutes(r, deps.WebhookCtl, deps.SyncCtl, deps.RunCtl)

	// 5. 启动服务
	startServer(r, deps)
}

// ==================== 依赖容器 ====================

// Dependencies 依赖容器
type Dependencies struct {
	DB      *gorm.DB
	LogRepo repository.SyncLogRepository

	Store    storyblok.Client
	Profiles raisely.Client

	SyncSvc    *service.SyncService
	ResyncTask *task.ResyncTask

	WebhookCtl *controller.WebhookController
	SyncCtl    *controller.SyncController
	RunCtl     *controller.RunController
}

// ==================== 初始化函数 ====================

// initDatabase 初始化审计数据库
func initDatabase() *gorm.DB {
	return database.InitDB(
		getEnv("DB_DRIVER", "sqlite"),
		getEnv("DB_DSN", "sync_audit.db"),
		&model.SyncRun{}, &model.SyncRecord{},
	)
}

// initDependencies 初始化所有依赖
func initDependencies(db *gorm.DB) *Dependencies {
	debug := getEnv("GIN_MODE", "") != "release"

	// -------- 外部 API 客户端 --------
	storeOpts := []storyblok.ClientOption{
		storyblok.WithToken(mustEnv("STORYBLOK_TOKEN")),
		storyblok.WithSpaceID(mustEnv("STORYBLOK_SPACE_ID")),
		storyblok.WithRetry(),
	}
	if debug {
		storeOpts = append(storeOpts, storyblok.WithDebug())
	}
	store, err := storyblok.New(storeOpts...)
	if err != nil {
		log.Fatalf("Storyblok 客户端初始化失败: %v", err)
	}

	profileOpts := []raisely.ClientOption{
		raisely.WithAPIKey(mustEnv("RAISELY_API_KEY")),
	}
	if debug {
		profileOpts = append(profileOpts, raisely.WithDebug())
	}
	profiles, err := raisely.New(profileOpts...)
	if err != nil {
		log.Fatalf("Raisely 客户端初始化失败: %v", err)
	}

	// -------- Webhook 认证 --------
	middleware.SetWebhookConfig(&middleware.WebhookAuthConfig{
		SharedSecret: mustEnv("RAISELY_WEBHOOK_SECRET"),
	})

	// -------- 服务与控制器 --------
	logRepo := repository.NewSyncLogRepository(db)
	syncSvc := service.NewSyncService(store, logRepo)
	resyncTask := task.NewResyncTask(profiles, syncSvc)

	return &Dependencies{
		DB:         db,
		LogRepo:    logRepo,
		Store:      store,
		Profiles:   profiles,
		SyncSvc:    syncSvc,
		ResyncTask: resyncTask,
		WebhookCtl: controller.NewWebhookController(syncSvc),
		SyncCtl:    controller.NewSyncController(resyncTask),
		RunCtl:     controller.NewRunController(logRepo),
	}
}

// ==================== 定时任务 ====================

// initTasks 初始化定时任务
func initTasks(deps *Dependencies) {
	if getEnv("RESYNC_ENABLED", "true") != "true" {
		log.Println("定时全量调和已禁用 (RESYNC_ENABLED != true)")
		return
	}

	deps.ResyncTask.Start()
	log.Println("定时任务已启动")
}

// ==================== 服务启动 ====================

// startServer 启动服务
func startServer(r *gin.Engine, deps *Dependencies) {
	port := getEnv("SERVER_PORT", "8080")

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	// 异步启动服务
	go func() {
		log.Printf("服务启动在 :%s", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 先停定时任务 (等当前批做完)，再关 HTTP
	deps.ResyncTask.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("服务强制关闭: %v", err)
	}

	log.Println("服务已退出")
}

// ==================== 工具函数 ====================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func mustEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		log.Fatalf("缺少必需的环境变量 %s", key)
	}
	return value
}
