package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	UsageSubjectGpuJob  = "gpu_job"
	UsageMeterGpuSecond = "gpu_seconds"
)

// UsageRecord is an append-only row written when a job finishes
// successfully. It feeds external billing.
type UsageRecord struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	TenantID    string         `gorm:"type:varchar(64);not null;index" json:"tenantId"`
	ProjectID   string         `gorm:"type:varchar(64);not null" json:"projectId"`
	SubjectType string         `gorm:"type:varchar(32);not null" json:"subjectType"`
	SubjectID   uuid.UUID      `gorm:"type:uuid;not null" json:"subjectId"`
	Meter       string         `gorm:"type:varchar(32);not null" json:"meter"`
	Quantity    float64        `gorm:"not null" json:"quantity"`
	Labels      datatypes.JSON `gorm:"type:jsonb" json:"labels"`
	CreatedAt   time.Time      `json:"createdAt"`
}

func (UsageRecord) TableName() string {
	return "usage_records"
}
