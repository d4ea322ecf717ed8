// Package schedctl runs the single-leader scheduling loop. Replicas race a
// non-blocking advisory mutex each tick; the holder requeues stale
// dispatches and fills each pool under fairness and quota rules, everyone
// else sleeps until the next tick.
package schedctl

import (
	"context"
	"time"

	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"

	"github.com/modelops/gpusched/dao/model"
	"github.com/modelops/gpusched/pkg/bus"
	"github.com/modelops/gpusched/pkg/metrics"
)

// Store is the slice of the job store the scheduler needs.
type Store interface {
	RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error)
	ListPolicies(ctx context.Context) ([]*model.TenantGpuPolicy, error)
	InflightTotal(ctx context.Context, pool model.GpuPool, class model.IsolationLevel) (int64, error)
	InflightByTenant(ctx context.Context, pool model.GpuPool, class model.IsolationLevel) (map[string]int64, error)
	HasQueued(ctx context.Context, pool model.GpuPool, class model.IsolationLevel) (bool, error)
	NextQueuedJob(ctx context.Context, tenantID string, pool model.GpuPool, class model.IsolationLevel) (*model.GpuJob, error)
	MarkDispatched(ctx context.Context, id uuid.UUID, pool model.GpuPool, token uuid.UUID) (bool, error)
	RevertDispatch(ctx context.Context, id uuid.UUID, token uuid.UUID) error
}

// Locker is the cross-process leader gate. TryLock must not block.
type Locker interface {
	TryLock(ctx context.Context) (unlock func(), ok bool, err error)
}

// Capacity holds the operator-supplied slot counts. They are static
// numbers, not derived from hardware telemetry.
type Capacity struct {
	T4SharedSlots    int
	T4ExclusiveSlots int
	MigSlots         int
}

const (
	// Per-tick dispatch bounds, keeping tick latency predictable even with
	// deep queues.
	maxSharedDispatchesPerTick    = 10
	maxExclusiveDispatchesPerTick = 5
	maxMigDispatchesPerTick       = 10
)

type Controller struct {
	store    Store
	bus      bus.Publisher
	locker   Locker
	capacity Capacity

	tick       time.Duration
	staleAfter time.Duration
}

func NewController(store Store, publisher bus.Publisher, locker Locker, capacity Capacity, tick, staleAfter time.Duration) *Controller {
	return &Controller{
		store:      store,
		bus:        publisher,
		locker:     locker,
		capacity:   capacity,
		tick:       tick,
		staleAfter: staleAfter,
	}
}

// Run ticks until the context is cancelled.
func (c *Controller) Run(ctx context.Context) {
	klog.Infof("scheduler started, tick=%s staleAfter=%s capacity=%+v", c.tick, c.staleAfter, c.capacity)
	wait.UntilWithContext(ctx, c.tickOnce, c.tick)
}

func (c *Controller) tickOnce(ctx context.Context) {
	unlock, ok, err := c.locker.TryLock(ctx)
	if err != nil {
		klog.Errorf("acquire scheduler lock: %v", err)
		return
	}
	if !ok {
		// Another replica is leading this tick.
		return
	}
	defer unlock()

	c.requeueStale(ctx)
	c.scheduleT4(ctx)
	c.scheduleMIG(ctx)
}

func (c *Controller) requeueStale(ctx context.Context) {
	n, err := c.store.RequeueStale(ctx, c.staleAfter)
	if err != nil {
		klog.Errorf("requeue stale dispatches: %v", err)
		return
	}
	if n > 0 {
		metrics.StaleRequeuesTotal.Add(float64(n))
		klog.Infof("requeued %d stale dispatched jobs", n)
	}
}

func (c *Controller) scheduleMIG(ctx context.Context) {
	slots := c.capacity.MigSlots
	if slots <= 0 {
		return
	}
	inflight, err := c.store.InflightTotal(ctx, model.PoolMIG, "")
	if err != nil {
		klog.Errorf("count mig inflight: %v", err)
		return
	}
	capacity := slots - int(inflight)
	if capacity <= 0 {
		return
	}
	c.fill(ctx, model.PoolMIG, "", min(capacity, maxMigDispatchesPerTick))
}

// scheduleT4 applies the soft-exclusivity ladder: exclusive and shared jobs
// never run concurrently on the pool. Whichever class is inflight keeps the
// pool for this tick; an idle pool prefers starting an exclusive window.
func (c *Controller) scheduleT4(ctx context.Context) {
	inflightExclusive, err := c.store.InflightTotal(ctx, model.PoolT4, model.IsolationExclusive)
	if err != nil {
		klog.Errorf("count t4 exclusive inflight: %v", err)
		return
	}
	inflightShared, err := c.store.InflightTotal(ctx, model.PoolT4, model.IsolationShared)
	if err != nil {
		klog.Errorf("count t4 shared inflight: %v", err)
		return
	}

	if inflightExclusive > 0 {
		capacity := c.capacity.T4ExclusiveSlots - int(inflightExclusive)
		if capacity > 0 {
			c.fill(ctx, model.PoolT4, model.IsolationExclusive, min(capacity, maxExclusiveDispatchesPerTick))
		}
		return
	}

	if inflightShared > 0 {
		capacity := c.capacity.T4SharedSlots - int(inflightShared)
		if capacity > 0 {
			c.fill(ctx, model.PoolT4, model.IsolationShared, min(capacity, maxSharedDispatchesPerTick))
		}
		return
	}

	// Pool idle: open an exclusive window if anyone wants one.
	queuedExclusive, err := c.store.HasQueued(ctx, model.PoolT4, model.IsolationExclusive)
	if err != nil {
		klog.Errorf("check queued t4 exclusive: %v", err)
		return
	}
	if queuedExclusive {
		c.fill(ctx, model.PoolT4, model.IsolationExclusive, 1)
		return
	}
	c.fill(ctx, model.PoolT4, model.IsolationShared, min(c.capacity.T4SharedSlots, maxSharedDispatchesPerTick))
}

// fill dispatches up to attempts jobs to one pool/class, one at a time.
// Inflight counts are recomputed from the store before every pick so a
// dispatch made earlier in the same tick counts against its tenant.
func (c *Controller) fill(ctx context.Context, pool model.GpuPool, class model.IsolationLevel, attempts int) {
	for i := 0; i < attempts; i++ {
		job, err := c.pickJob(ctx, pool, class)
		if err != nil {
			klog.Errorf("pick job for %s/%s: %v", pool, class, err)
			return
		}
		if job == nil {
			return
		}
		if !c.dispatch(ctx, job, pool, class) {
			return
		}
	}
}

// pickJob scans tenants in stable policy order and returns the first
// under-quota tenant's oldest-highest-priority queued job. The fixed scan
// order favors earlier tenants when many are eligible; that bias is
// accepted and covered by tests.
func (c *Controller) pickJob(ctx context.Context, pool model.GpuPool, class model.IsolationLevel) (*model.GpuJob, error) {
	policies, err := c.store.ListPolicies(ctx)
	if err != nil {
		return nil, err
	}
	inflightByTenant, err := c.store.InflightByTenant(ctx, pool, class)
	if err != nil {
		return nil, err
	}

	for _, policy := range policies {
		if inflightByTenant[policy.TenantID] >= int64(policy.MaxConcurrency(pool)) {
			continue
		}
		job, err := c.store.NextQueuedJob(ctx, policy.TenantID, pool, class)
		if err != nil {
			return nil, err
		}
		if job != nil {
			return job, nil
		}
	}
	return nil, nil
}

// dispatch performs the exactly-once transition and publishes the dispatch
// notification. A lost conditional update (another leader or a concurrent
// requeue won) is a skip, not an error. A failed publish is compensated by
// reverting the row, conditioned on the fresh token.
func (c *Controller) dispatch(ctx context.Context, job *model.GpuJob, pool model.GpuPool, class model.IsolationLevel) bool {
	token := uuid.New()

	ok, err := c.store.MarkDispatched(ctx, job.ID, pool, token)
	if err != nil {
		klog.Errorf("mark job %s dispatched: %v", job.ID, err)
		return false
	}
	if !ok {
		metrics.DispatchConflictsTotal.Inc()
		klog.V(2).Infof("job %s already taken, skipping", job.ID)
		return false
	}

	subject := bus.DispatchSubject(pool, class)
	err = c.bus.Publish(ctx, subject, bus.DispatchEvent{
		JobID:         job.ID.String(),
		DispatchToken: token.String(),
	})
	if err != nil {
		metrics.DispatchPublishFailuresTotal.Inc()
		klog.Errorf("publish dispatch for job %s on %s: %v", job.ID, subject, err)
		if revertErr := c.store.RevertDispatch(ctx, job.ID, token); revertErr != nil {
			klog.Errorf("revert dispatch for job %s: %v", job.ID, revertErr)
		}
		return false
	}

	metrics.DispatchesTotal.WithLabelValues(string(pool), string(class)).Inc()
	klog.V(2).Infof("dispatched job %s tenant %s to %s", job.ID, job.TenantID, subject)
	return true
}
