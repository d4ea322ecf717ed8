package runner

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/modelops/gpusched/dao/model"
	"github.com/modelops/gpusched/pkg/bus"
	"github.com/modelops/gpusched/pkg/metrics"
)

// Store is the slice of the job store the runner needs.
type Store interface {
	MarkRunning(ctx context.Context, id uuid.UUID, token uuid.UUID) (*model.GpuJob, error)
	MarkSucceeded(ctx context.Context, id uuid.UUID, response []byte) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error
	AppendUsage(ctx context.Context, rec *model.UsageRecord) error
}

// Handler processes one dispatch notification. A nil return means the
// message can be acknowledged; handlers must be idempotent because the bus
// may redeliver.
type Handler interface {
	Handle(ctx context.Context, evt bus.DispatchEvent) error
}

// DirectHandler executes jobs in the runner process: token-guarded pickup,
// bounded execution, result + usage recording. Execution failure is
// terminal; the only retry path is the scheduler's stale-dispatch requeue,
// which never fires once the job reached RUNNING.
type DirectHandler struct {
	store       Store
	bus         bus.Publisher
	executor    Executor
	execTimeout time.Duration
}

func NewDirectHandler(store Store, publisher bus.Publisher, executor Executor, execTimeout time.Duration) *DirectHandler {
	return &DirectHandler{
		store:       store,
		bus:         publisher,
		executor:    executor,
		execTimeout: execTimeout,
	}
}

func (h *DirectHandler) Handle(ctx context.Context, evt bus.DispatchEvent) error {
	jobID, err := uuid.Parse(evt.JobID)
	if err != nil {
		klog.Errorf("dispatch event with bad job id %q: %v", evt.JobID, err)
		return nil
	}
	token, err := uuid.Parse(evt.DispatchToken)
	if err != nil {
		klog.Errorf("dispatch event with bad token for job %s: %v", evt.JobID, err)
		return nil
	}

	job, err := h.store.MarkRunning(ctx, jobID, token)
	if err != nil {
		return err
	}
	if job == nil {
		// Stale message: the job was requeued, re-dispatched with a new
		// token, or already picked up.
		klog.V(2).Infof("job %s: stale or already processed", jobID)
		return nil
	}

	start := time.Now()
	execCtx, cancel := context.WithTimeout(ctx, h.execTimeout)
	response, execErr := h.executor.Execute(execCtx, job)
	cancel()
	elapsed := time.Since(start)
	metrics.ExecutionSeconds.Observe(elapsed.Seconds())

	if execErr != nil {
		return h.recordFailure(ctx, job, execErr)
	}
	return h.recordSuccess(ctx, job, response, elapsed)
}

func (h *DirectHandler) recordSuccess(ctx context.Context, job *model.GpuJob, response []byte, elapsed time.Duration) error {
	if err := h.store.MarkSucceeded(ctx, job.ID, response); err != nil {
		return err
	}

	labels, _ := json.Marshal(map[string]any{
		"gpu_pool":  job.GpuPoolAssigned,
		"gpu_class": job.IsolationLevel,
	})
	if err := h.store.AppendUsage(ctx, &model.UsageRecord{
		TenantID:    job.TenantID,
		ProjectID:   job.ProjectID,
		SubjectType: model.UsageSubjectGpuJob,
		SubjectID:   job.ID,
		Meter:       model.UsageMeterGpuSecond,
		Quantity:    elapsed.Seconds(),
		Labels:      labels,
	}); err != nil {
		klog.Errorf("append usage for job %s: %v", job.ID, err)
	}

	h.publishFinished(ctx, bus.FinishedEvent{
		JobID:          job.ID.String(),
		Status:         string(model.JobSucceeded),
		ElapsedSeconds: elapsed.Seconds(),
	})
	metrics.ExecutionsTotal.WithLabelValues("succeeded").Inc()
	klog.Infof("job %s succeeded in %.1fs", job.ID, elapsed.Seconds())
	return nil
}

func (h *DirectHandler) recordFailure(ctx context.Context, job *model.GpuJob, execErr error) error {
	if err := h.store.MarkFailed(ctx, job.ID, execErr.Error()); err != nil {
		return err
	}
	h.publishFinished(ctx, bus.FinishedEvent{
		JobID:  job.ID.String(),
		Status: string(model.JobFailed),
		Error:  execErr.Error(),
	})
	metrics.ExecutionsTotal.WithLabelValues("failed").Inc()
	klog.Errorf("job %s failed: %v", job.ID, execErr)
	return nil
}

func (h *DirectHandler) publishFinished(ctx context.Context, evt bus.FinishedEvent) {
	// Advisory only.
	if err := h.bus.Publish(ctx, bus.SubjectFinished, evt); err != nil {
		klog.Errorf("publish finished event for job %s: %v", evt.JobID, err)
	}
}

// PodHandler delegates execution to a spawned, GPU-scheduled unit: it only
// launches the unit and acknowledges; the unit performs the same
// token-guarded pickup via the runner's oneshot mode.
type PodHandler struct {
	launcher Launcher
}

func NewPodHandler(launcher Launcher) *PodHandler {
	return &PodHandler{launcher: launcher}
}

func (h *PodHandler) Handle(ctx context.Context, evt bus.DispatchEvent) error {
	return h.launcher.Launch(ctx, evt)
}
