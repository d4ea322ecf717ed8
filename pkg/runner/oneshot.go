package runner

import (
	"context"
	"time"

	"github.com/modelops/gpusched/pkg/bus"
)

// RunOnce is the entrypoint for the spawned execution unit: pick up and
// execute exactly one already-dispatched job, then exit. A stale token is
// not an error; the unit just has nothing to do.
func RunOnce(ctx context.Context, store Store, publisher bus.Publisher, executor Executor, execTimeout time.Duration, jobID, token string) error {
	h := NewDirectHandler(store, publisher, executor, execTimeout)
	return h.Handle(ctx, bus.DispatchEvent{JobID: jobID, DispatchToken: token})
}
