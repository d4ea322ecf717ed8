package jobstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/modelops/gpusched/dao/model"
)

type service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) Service {
	return &service{db: db}
}

func (s *service) CreateJob(ctx context.Context, job *model.GpuJob) error {
	return s.db.WithContext(ctx).Create(job).Error
}

func (s *service) GetJob(ctx context.Context, tenantID, projectID string, id uuid.UUID) (*model.GpuJob, error) {
	var job model.GpuJob
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND project_id = ? AND id = ?", tenantID, projectID, id).
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *service) ListJobs(ctx context.Context, tenantID, projectID string, limit int) ([]*model.GpuJob, error) {
	var jobs []*model.GpuJob
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND project_id = ?", tenantID, projectID).
		Order("requested_at DESC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

func (s *service) CountActive(ctx context.Context, tenantID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.GpuJob{}).
		Where("tenant_id = ? AND status IN ?", tenantID, model.ActiveStatuses).
		Count(&count).Error
	return count, err
}

func (s *service) EnsurePolicy(ctx context.Context, tenantID string) (*model.TenantGpuPolicy, error) {
	var policy model.TenantGpuPolicy
	err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&policy).Error
	if err == nil {
		return &policy, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	fresh := model.DefaultPolicy(tenantID)
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(fresh).Error
	if err != nil {
		return nil, err
	}
	return fresh, nil
}

func (s *service) ListPolicies(ctx context.Context) ([]*model.TenantGpuPolicy, error) {
	var policies []*model.TenantGpuPolicy
	// Stable order: the scheduler's tenant scan depends on it.
	err := s.db.WithContext(ctx).Order("tenant_id ASC").Find(&policies).Error
	return policies, err
}

func (s *service) UpsertPolicy(ctx context.Context, policy *model.TenantGpuPolicy) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "tenant_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"plan", "t4_max_concurrency", "mig_max_concurrency",
				"max_queued_jobs", "priority_boost", "updated_at",
			}),
		}).
		Create(policy).Error
}

// classScope narrows a query to one isolation class of a pool. Exclusive
// also matches rows written with the legacy isolated value.
func classScope(tx *gorm.DB, class model.IsolationLevel) *gorm.DB {
	switch class {
	case "":
		return tx
	case model.IsolationExclusive:
		return tx.Where("isolation_level IN ?", []model.IsolationLevel{model.IsolationExclusive, model.IsolationIsolated})
	default:
		return tx.Where("isolation_level = ?", class)
	}
}

func (s *service) inflightScope(ctx context.Context, pool model.GpuPool, class model.IsolationLevel) *gorm.DB {
	tx := s.db.WithContext(ctx).Model(&model.GpuJob{}).
		Where("status IN ? AND gpu_pool_assigned = ?", model.InflightStatuses, pool)
	return classScope(tx, class)
}

func (s *service) InflightTotal(ctx context.Context, pool model.GpuPool, class model.IsolationLevel) (int64, error) {
	var count int64
	err := s.inflightScope(ctx, pool, class).Count(&count).Error
	return count, err
}

func (s *service) InflightByTenant(ctx context.Context, pool model.GpuPool, class model.IsolationLevel) (map[string]int64, error) {
	var rows []struct {
		TenantID string
		Cnt      int64
	}
	err := s.inflightScope(ctx, pool, class).
		Select("tenant_id, COUNT(1) AS cnt").
		Group("tenant_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.TenantID] = r.Cnt
	}
	return counts, nil
}

func (s *service) queuedScope(ctx context.Context, pool model.GpuPool, class model.IsolationLevel) *gorm.DB {
	tx := s.db.WithContext(ctx).Model(&model.GpuJob{}).
		Where("status = ?", model.JobQueued).
		Where("gpu_pool_requested IN ?", []model.GpuPool{pool, model.PoolAuto})
	return classScope(tx, class)
}

func (s *service) HasQueued(ctx context.Context, pool model.GpuPool, class model.IsolationLevel) (bool, error) {
	var count int64
	err := s.queuedScope(ctx, pool, class).Limit(1).Count(&count).Error
	return count > 0, err
}

func (s *service) NextQueuedJob(ctx context.Context, tenantID string, pool model.GpuPool, class model.IsolationLevel) (*model.GpuJob, error) {
	var job model.GpuJob
	err := s.queuedScope(ctx, pool, class).
		Where("tenant_id = ?", tenantID).
		Order("priority DESC, requested_at ASC").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// MarkDispatched is the exactly-once dispatch guard: the transition only
// happens if the job is still QUEUED. Returns false when another actor got
// there first.
func (s *service) MarkDispatched(ctx context.Context, id uuid.UUID, pool model.GpuPool, token uuid.UUID) (bool, error) {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&model.GpuJob{}).
		Where("id = ? AND status = ?", id, model.JobQueued).
		Updates(map[string]any{
			"status":            model.JobDispatched,
			"gpu_pool_assigned": pool,
			"dispatch_token":    token,
			"dispatch_attempts": gorm.Expr("dispatch_attempts + 1"),
			"dispatched_at":     now,
			"updated_at":        now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// RevertDispatch compensates a failed dispatch publish. Conditioned on the
// exact token so a pickup that raced in is not undone.
func (s *service) RevertDispatch(ctx context.Context, id uuid.UUID, token uuid.UUID) error {
	return s.db.WithContext(ctx).Model(&model.GpuJob{}).
		Where("id = ? AND status = ? AND dispatch_token = ?", id, model.JobDispatched, token).
		Updates(map[string]any{
			"status":            model.JobQueued,
			"gpu_pool_assigned": nil,
			"dispatch_token":    nil,
			"dispatched_at":     nil,
			"updated_at":        time.Now(),
		}).Error
}

// RequeueStale resets jobs stuck in DISPATCHED past the timeout. This is
// the only automatic retry path in the system.
func (s *service) RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res := s.db.WithContext(ctx).Model(&model.GpuJob{}).
		Where("status = ? AND dispatched_at < ?", model.JobDispatched, cutoff).
		Updates(map[string]any{
			"status":            model.JobQueued,
			"gpu_pool_assigned": nil,
			"dispatch_token":    nil,
			"dispatched_at":     nil,
			"updated_at":        time.Now(),
		})
	return res.RowsAffected, res.Error
}

// MarkRunning is the pickup guard: only a DISPATCHED job holding the exact
// token transitions to RUNNING. A nil job with nil error means the message
// was stale and must be acked without execution.
func (s *service) MarkRunning(ctx context.Context, id uuid.UUID, token uuid.UUID) (*model.GpuJob, error) {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&model.GpuJob{}).
		Where("id = ? AND status = ? AND dispatch_token = ?", id, model.JobDispatched, token).
		Updates(map[string]any{
			"status":     model.JobRunning,
			"started_at": now,
			"updated_at": now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	var job model.GpuJob
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		return nil, fmt.Errorf("reload job after pickup: %w", err)
	}
	return &job, nil
}

func (s *service) MarkSucceeded(ctx context.Context, id uuid.UUID, response []byte) error {
	now := time.Now()
	return s.db.WithContext(ctx).Model(&model.GpuJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        model.JobSucceeded,
			"response_json": response,
			"finished_at":   now,
			"updated_at":    now,
		}).Error
}

func (s *service) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	now := time.Now()
	return s.db.WithContext(ctx).Model(&model.GpuJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":      model.JobFailed,
			"error":       errMsg,
			"finished_at": now,
			"updated_at":  now,
		}).Error
}

func (s *service) AppendUsage(ctx context.Context, rec *model.UsageRecord) error {
	return s.db.WithContext(ctx).Create(rec).Error
}
