package bus

// EnqueuedEvent is published by admission after a job row is created.
type EnqueuedEvent struct {
	TenantID         string `json:"tenant_id"`
	ProjectID        string `json:"project_id"`
	JobID            string `json:"job_id"`
	GpuPoolRequested string `json:"gpu_pool_requested"`
	IsolationLevel   string `json:"isolation_level"`
	Priority         int    `json:"priority"`
}

// DispatchEvent is the work-queue message consumed by runners. The token
// must match the job row for the pickup to count.
type DispatchEvent struct {
	JobID         string `json:"job_id"`
	DispatchToken string `json:"dispatch_token"`
}

// FinishedEvent is advisory completion telemetry.
type FinishedEvent struct {
	JobID          string  `json:"job_id"`
	Status         string  `json:"status"`
	ElapsedSeconds float64 `json:"elapsed_seconds,omitempty"`
	Error          string  `json:"error,omitempty"`
}
