package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// GpuJob is one row per submitted unit of work. Admission creates it in
// QUEUED; the scheduler owns the QUEUED<->DISPATCHED transitions; the runner
// owns DISPATCHED->RUNNING->{SUCCEEDED,FAILED}. Rows are never deleted here.
type GpuJob struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID  string    `gorm:"type:varchar(64);not null;index:idx_gpu_jobs_tenant_status,priority:1" json:"tenantId"`
	ProjectID string    `gorm:"type:varchar(64);not null" json:"projectId"`
	CreatedBy string    `gorm:"type:varchar(64)" json:"createdBy"`

	Status JobStatus `gorm:"type:varchar(16);not null;index:idx_gpu_jobs_tenant_status,priority:2;index:idx_gpu_jobs_status" json:"status"`

	GpuPoolRequested GpuPool        `gorm:"type:varchar(16);not null" json:"gpuPoolRequested"`
	GpuPoolAssigned  *GpuPool       `gorm:"type:varchar(16)" json:"gpuPoolAssigned"`
	IsolationLevel   IsolationLevel `gorm:"type:varchar(16);not null" json:"isolationLevel"`

	// Priority is the effective priority (requested + tenant boost),
	// higher schedules sooner.
	Priority int `gorm:"not null;default:0" json:"priority"`
	// DispatchToken is a single-use correlation id; non-null iff the job is
	// DISPATCHED or RUNNING. Pickup must present the matching token.
	DispatchToken    *uuid.UUID `gorm:"type:uuid" json:"-"`
	DispatchAttempts int        `gorm:"not null;default:0" json:"dispatchAttempts"`

	TargetURL    string         `gorm:"type:text;not null" json:"targetUrl"`
	RequestJSON  datatypes.JSON `gorm:"type:jsonb" json:"requestJson"`
	ResponseJSON datatypes.JSON `gorm:"type:jsonb" json:"responseJson,omitempty"`
	Error        string         `gorm:"type:text" json:"error,omitempty"`

	RequestedAt  time.Time  `gorm:"not null;index" json:"requestedAt"`
	DispatchedAt *time.Time `json:"dispatchedAt,omitempty"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (GpuJob) TableName() string {
	return "gpu_jobs"
}
