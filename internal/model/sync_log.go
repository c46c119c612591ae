package model

import (
	"time"

	"gorm.io/datatypes"
)

// ==================== 同步审计模型 ====================

// 同步触发方式
const (
	RunModeWebhook = "webhook"
	RunModeBulk    = "bulk"
	RunModeCron    = "cron"
)

// SyncRun 一次同步运行 (批量任务一次一条；webhook 逐事件一条)
type SyncRun struct {
	ID     int64  `gorm:"primaryKey" json:"id"`
	RunID  string `gorm:"size:36;uniqueIndex" json:"run_id"` // UUID
	Mode   string `gorm:"size:16;index" json:"mode"`
	DryRun bool   `json:"dry_run"`

	// 汇总计数
	CreatedCount int `json:"created_count"`
	UpdatedCount int `json:"updated_count"`
	SkippedCount int `json:"skipped_count"`
	ErrorCount   int `json:"error_count"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (SyncRun) TableName() string { return "sync_runs" }

// SyncRecord 单个档案的同步结果
type SyncRecord struct {
	ID    int64  `gorm:"primaryKey" json:"id"`
	RunID string `gorm:"size:36;index" json:"run_id"`

	RaiselyID    string `gorm:"size:64;index" json:"raisely_id"`
	ProfileName  string `gorm:"size:255" json:"profile_name"`
	CampaignName string `gorm:"size:255;index" json:"campaign_name"`
	Kind         string `gorm:"size:16" json:"kind"`
	Action       string `gorm:"size:16;index" json:"action"` // created / updated / skipped / error
	FullSlug     string `gorm:"size:512" json:"full_slug"`

	Error  string         `gorm:"type:text" json:"error,omitempty"`
	Detail datatypes.JSON `json:"detail,omitempty"` // 额外上下文 (原始事件类型等)

	CreatedAt time.Time `json:"created_at"`
}

func (SyncRecord) TableName() string { return "sync_records" }
