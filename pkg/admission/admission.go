// Package admission validates and enqueues gpu job submissions. It enforces
// the tenant queue-depth cap and priority boost; pool capacity is the
// scheduler's concern and is never checked here.
package admission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"k8s.io/klog/v2"

	"github.com/modelops/gpusched/dao/model"
	"github.com/modelops/gpusched/pkg/bus"
	"github.com/modelops/gpusched/pkg/jobstore"
)

var (
	// ErrInvalidPool and ErrInvalidIsolation reject the request with a
	// client error; no job row is created.
	ErrInvalidPool      = errors.New("gpu_pool_requested must be t4, mig, or auto")
	ErrInvalidIsolation = errors.New("isolation_level must be shared or exclusive")
	ErrMissingTarget    = errors.New("target_url and request_json are required")
	// ErrQueueLimit is the tenant-visible backpressure signal.
	ErrQueueLimit = errors.New("gpu queue limit exceeded for tenant")
)

type SubmitRequest struct {
	TenantID  string
	ProjectID string
	CreatedBy string

	TargetURL      string
	RequestJSON    []byte
	PoolRequested  string
	IsolationLevel string
	Priority       int
}

type Service struct {
	store jobstore.Service
	bus   bus.Publisher
}

func NewService(store jobstore.Service, publisher bus.Publisher) *Service {
	return &Service{store: store, bus: publisher}
}

// Submit runs the admission pipeline: normalize and validate routing
// fields, lazily create the tenant policy, enforce the queue-depth cap,
// apply the priority boost and insert the QUEUED row. The enqueued event is
// advisory; a publish failure is logged and does not fail the submit.
func (s *Service) Submit(ctx context.Context, req *SubmitRequest) (*model.GpuJob, error) {
	if req.TargetURL == "" || len(req.RequestJSON) == 0 {
		return nil, ErrMissingTarget
	}

	pool, err := normalizePool(req.PoolRequested)
	if err != nil {
		return nil, err
	}
	isolation, err := normalizeIsolation(req.IsolationLevel)
	if err != nil {
		return nil, err
	}

	policy, err := s.store.EnsurePolicy(ctx, req.TenantID)
	if err != nil {
		return nil, fmt.Errorf("ensure tenant policy: %w", err)
	}

	active, err := s.store.CountActive(ctx, req.TenantID)
	if err != nil {
		return nil, fmt.Errorf("count active jobs: %w", err)
	}
	if active >= int64(policy.MaxQueuedJobs) {
		return nil, ErrQueueLimit
	}

	job := &model.GpuJob{
		ID:               uuid.New(),
		TenantID:         req.TenantID,
		ProjectID:        req.ProjectID,
		CreatedBy:        req.CreatedBy,
		Status:           model.JobQueued,
		GpuPoolRequested: pool,
		IsolationLevel:   isolation,
		Priority:         req.Priority + policy.PriorityBoost,
		TargetURL:        req.TargetURL,
		RequestJSON:      datatypes.JSON(req.RequestJSON),
		RequestedAt:      time.Now(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	if err := s.bus.Publish(ctx, bus.SubjectEnqueued, bus.EnqueuedEvent{
		TenantID:         job.TenantID,
		ProjectID:        job.ProjectID,
		JobID:            job.ID.String(),
		GpuPoolRequested: string(job.GpuPoolRequested),
		IsolationLevel:   string(job.IsolationLevel),
		Priority:         job.Priority,
	}); err != nil {
		klog.Errorf("publish enqueued event for job %s: %v", job.ID, err)
	}

	return job, nil
}

func normalizePool(requested string) (model.GpuPool, error) {
	pool := model.GpuPool(strings.ToLower(strings.TrimSpace(requested)))
	if pool == "" {
		pool = model.PoolT4
	}
	switch pool {
	case model.PoolT4, model.PoolMIG, model.PoolAuto:
		return pool, nil
	default:
		return "", ErrInvalidPool
	}
}

func normalizeIsolation(requested string) (model.IsolationLevel, error) {
	isolation := model.IsolationLevel(strings.ToLower(strings.TrimSpace(requested)))
	switch isolation {
	case "":
		return model.IsolationShared, nil
	case model.IsolationShared, model.IsolationExclusive:
		return isolation, nil
	case model.IsolationIsolated:
		// Backward-compatible alias.
		return model.IsolationExclusive, nil
	default:
		return "", ErrInvalidIsolation
	}
}
