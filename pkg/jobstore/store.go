// Package jobstore is the persistence layer for gpu jobs, tenant policies
// and the usage ledger. Every state transition that matters for correctness
// (dispatch, pickup, requeue) is a conditional update guarded by the current
// status and, for pickup, the dispatch token, so concurrent schedulers and
// runners stay safe without row locks.
package jobstore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/modelops/gpusched/dao/model"
)

type Service interface {
	// Jobs
	CreateJob(ctx context.Context, job *model.GpuJob) error
	GetJob(ctx context.Context, tenantID, projectID string, id uuid.UUID) (*model.GpuJob, error)
	ListJobs(ctx context.Context, tenantID, projectID string, limit int) ([]*model.GpuJob, error)
	CountActive(ctx context.Context, tenantID string) (int64, error)

	// Policies
	EnsurePolicy(ctx context.Context, tenantID string) (*model.TenantGpuPolicy, error)
	ListPolicies(ctx context.Context) ([]*model.TenantGpuPolicy, error)
	UpsertPolicy(ctx context.Context, policy *model.TenantGpuPolicy) error

	// Scheduling queries. An empty class means "whole pool" (mig has no
	// isolation split); class exclusive also matches legacy isolated rows.
	InflightTotal(ctx context.Context, pool model.GpuPool, class model.IsolationLevel) (int64, error)
	InflightByTenant(ctx context.Context, pool model.GpuPool, class model.IsolationLevel) (map[string]int64, error)
	HasQueued(ctx context.Context, pool model.GpuPool, class model.IsolationLevel) (bool, error)
	NextQueuedJob(ctx context.Context, tenantID string, pool model.GpuPool, class model.IsolationLevel) (*model.GpuJob, error)

	// Dispatch transitions
	MarkDispatched(ctx context.Context, id uuid.UUID, pool model.GpuPool, token uuid.UUID) (bool, error)
	RevertDispatch(ctx context.Context, id uuid.UUID, token uuid.UUID) error
	RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error)

	// Execution transitions
	MarkRunning(ctx context.Context, id uuid.UUID, token uuid.UUID) (*model.GpuJob, error)
	MarkSucceeded(ctx context.Context, id uuid.UUID, response []byte) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error

	// Usage ledger
	AppendUsage(ctx context.Context, rec *model.UsageRecord) error
}
