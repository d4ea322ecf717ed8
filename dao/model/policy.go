package model

import "time"

// Default policy values applied when a tenant row is created lazily on
// first reference.
const (
	DefaultPlan              = "free"
	DefaultT4MaxConcurrency  = 1
	DefaultMigMaxConcurrency = 0
	DefaultMaxQueuedJobs     = 50
	DefaultPriorityBoost     = 0
)

// TenantGpuPolicy governs admission (queue-depth cap, priority boost) and
// scheduling (per-tenant concurrency cap per pool). One row per tenant.
type TenantGpuPolicy struct {
	TenantID          string    `gorm:"type:varchar(64);primaryKey" json:"tenantId"`
	Plan              string    `gorm:"type:varchar(32);not null;default:free" json:"plan"`
	T4MaxConcurrency  int       `gorm:"not null;default:1" json:"t4MaxConcurrency"`
	MigMaxConcurrency int       `gorm:"not null;default:0" json:"migMaxConcurrency"`
	MaxQueuedJobs     int       `gorm:"not null;default:50" json:"maxQueuedJobs"`
	PriorityBoost     int       `gorm:"not null;default:0" json:"priorityBoost"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (TenantGpuPolicy) TableName() string {
	return "tenant_gpu_policies"
}

// MaxConcurrency returns the tenant's concurrency cap for the given pool.
func (p *TenantGpuPolicy) MaxConcurrency(pool GpuPool) int {
	if pool == PoolMIG {
		return p.MigMaxConcurrency
	}
	return p.T4MaxConcurrency
}

// DefaultPolicy returns the policy applied to tenants without a stored row.
func DefaultPolicy(tenantID string) *TenantGpuPolicy {
	return &TenantGpuPolicy{
		TenantID:          tenantID,
		Plan:              DefaultPlan,
		T4MaxConcurrency:  DefaultT4MaxConcurrency,
		MigMaxConcurrency: DefaultMigMaxConcurrency,
		MaxQueuedJobs:     DefaultMaxQueuedJobs,
		PriorityBoost:     DefaultPriorityBoost,
	}
}
