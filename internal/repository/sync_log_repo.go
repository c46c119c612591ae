package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"raisely_sync_v1/internal/model"
)

// ==================== 接口定义 ====================

// SyncLogRepository 同步审计仓储接口
type SyncLogRepository interface {
	CreateRun(ctx context.Context, run *model.SyncRun) error
	FinishRun(ctx context.Context, runID string, created, updated, skipped, errored int) error
	GetRunByID(ctx context.Context, runID string) (*model.SyncRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.SyncRun, int64, error)

	AddRecord(ctx context.Context, record *model.SyncRecord) error
	AddRecords(ctx context.Context, records []model.SyncRecord) error
	ListRecords(ctx context.Context, filter RecordFilter) ([]model.SyncRecord, int64, error)
}

// ==================== 过滤条件 ====================

// RunFilter 运行记录过滤条件
type RunFilter struct {
	Mode     string // 空表示不筛选
	Page     int
	PageSize int
}

// RecordFilter 档案同步结果过滤条件
type RecordFilter struct {
	RunID        string
	RaiselyID    string
	CampaignName string
	Action       string // created / updated / skipped / error
	Page         int
	PageSize     int
}

// ==================== 仓储实现 ====================

type syncLogRepo struct {
	db *gorm.DB
}

// NewSyncLogRepository 创建同步审计仓储
func NewSyncLogRepository(db *gorm.DB) SyncLogRepository {
	return &syncLogRepo{db: db}
}

func (r *syncLogRepo) CreateRun(ctx context.Context, run *model.SyncRun) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *syncLogRepo) FinishRun(ctx context.Context, runID string, created, updated, skipped, errored int) error {
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&model.SyncRun{}).
		Where("run_id = ?", runID).
		Updates(map[string]interface{}{
			"created_count": created,
			"updated_count": updated,
			"skipped_count": skipped,
			"error_count":   errored,
			"finished_at":   &now,
		}).Error
}

func (r *syncLogRepo) GetRunByID(ctx context.Context, runID string) (*model.SyncRun, error) {
	var run model.SyncRun
	if err := r.db.WithContext(ctx).Where("run_id = ?", runID).First(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *syncLogRepo) ListRuns(ctx context.Context, filter RunFilter) ([]model.SyncRun, int64, error) {
	query := r.db.WithContext(ctx).Model(&model.SyncRun{})
	if filter.Mode != "" {
		query = query.Where("mode = ?", filter.Mode)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var runs []model.SyncRun
	err := applyPaging(query, filter.Page, filter.PageSize).
		Order("started_at DESC").
		Find(&runs).Error
	return runs, total, err
}

func (r *syncLogRepo) AddRecord(ctx context.Context, record *model.SyncRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *syncLogRepo) AddRecords(ctx context.Context, records []model.SyncRecord) error {
	if len(records) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(records, 100).Error
}

func (r *syncLogRepo) ListRecords(ctx context.Context, filter RecordFilter) ([]model.SyncRecord, int64, error) {
	query := r.db.WithContext(ctx).Model(&model.SyncRecord{})
	if filter.RunID != "" {
		query = query.Where("run_id = ?", filter.RunID)
	}
	if filter.RaiselyID != "" {
		query = query.Where("raisely_id = ?", filter.RaiselyID)
	}
	if filter.CampaignName != "" {
		query = query.Where("campaign_name = ?", filter.CampaignName)
	}
	if filter.Action != "" {
		query = query.Where("action = ?", filter.Action)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var records []model.SyncRecord
	err := applyPaging(query, filter.Page, filter.PageSize).
		Order("id DESC").
		Find(&records).Error
	return records, total, err
}

// applyPaging 统一分页 (PageSize<=0 时默认 50，上限 500)
func applyPaging(query *gorm.DB, page, pageSize int) *gorm.DB {
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 500 {
		pageSize = 500
	}
	if page <= 0 {
		page = 1
	}
	return query.Offset((page - 1) * pageSize).Limit(pageSize)
}
