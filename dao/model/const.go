package model

// GpuPool is a named GPU capacity domain with a fixed slot count.
type GpuPool string

const (
	PoolT4  GpuPool = "t4"
	PoolMIG GpuPool = "mig"
	// PoolAuto is only valid as a requested pool; the scheduler resolves it
	// to a concrete pool at dispatch time.
	PoolAuto GpuPool = "auto"
)

// IsolationLevel selects time-sliced vs. dedicated GPU use.
type IsolationLevel string

const (
	IsolationShared    IsolationLevel = "shared"
	IsolationExclusive IsolationLevel = "exclusive"
	// IsolationIsolated is a legacy alias for exclusive, still accepted on
	// submit and matched by the store's class predicates.
	IsolationIsolated IsolationLevel = "isolated"
)

// JobStatus is the lifecycle state of a GpuJob.
type JobStatus string

const (
	JobQueued     JobStatus = "QUEUED"
	JobDispatched JobStatus = "DISPATCHED"
	JobRunning    JobStatus = "RUNNING"
	JobSucceeded  JobStatus = "SUCCEEDED"
	JobFailed     JobStatus = "FAILED"
)

// ActiveStatuses count against a tenant's queue-depth cap at admission time.
var ActiveStatuses = []JobStatus{JobQueued, JobDispatched}

// InflightStatuses consume pool capacity.
var InflightStatuses = []JobStatus{JobDispatched, JobRunning}

func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}
