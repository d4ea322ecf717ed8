package bus

import (
	"fmt"

	"github.com/modelops/gpusched/dao/model"
)

const (
	// SubjectRoot is the wildcard every gpu.jobs.* subject lives under; the
	// stream is created with it.
	SubjectRoot = "gpu.jobs.>"

	// SubjectEnqueued and SubjectFinished are advisory only; nothing
	// critical consumes them.
	SubjectEnqueued = "gpu.jobs.enqueued"
	SubjectFinished = "gpu.jobs.finished"

	dispatchPrefix = "gpu.jobs.dispatched"
)

// DispatchSubject returns the pool/class-specific dispatch topic. The t4
// pool splits by isolation class; mig does not.
func DispatchSubject(pool model.GpuPool, class model.IsolationLevel) string {
	if pool == model.PoolT4 && class != "" {
		return fmt.Sprintf("%s.%s.%s", dispatchPrefix, pool, class)
	}
	return fmt.Sprintf("%s.%s", dispatchPrefix, pool)
}

// DispatchDurable returns the durable consumer-group name for a runner
// bound to the given pool/class topic.
func DispatchDurable(pool model.GpuPool, class model.IsolationLevel) string {
	if pool == model.PoolT4 && class != "" {
		return fmt.Sprintf("gpu-runner-%s-%s", pool, class)
	}
	return fmt.Sprintf("gpu-runner-%s", pool)
}
