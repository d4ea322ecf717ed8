package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	imrocreq "github.com/imroc/req/v3"

	"github.com/modelops/gpusched/dao/model"
)

// Executor performs the actual work of one job and returns the raw response
// body. Implementations are selected by configuration, not inheritance; all
// of them share the same pickup/report contract in the handler.
type Executor interface {
	Execute(ctx context.Context, job *model.GpuJob) ([]byte, error)
}

// NewExecutor maps the configured executor name to an implementation.
func NewExecutor(name string, timeout time.Duration) (Executor, error) {
	switch name {
	case "http", "":
		return NewHTTPExecutor(timeout), nil
	case "simulate":
		return &SimulateExecutor{Delay: 2 * time.Second}, nil
	default:
		return nil, fmt.Errorf("unknown executor %q", name)
	}
}

// HTTPExecutor posts the job's request_json to its target_url and treats
// any non-2xx as a terminal job failure.
type HTTPExecutor struct {
	client *imrocreq.Client
}

func NewHTTPExecutor(timeout time.Duration) *HTTPExecutor {
	return &HTTPExecutor{
		client: imrocreq.C().SetTimeout(timeout),
	}
}

func (e *HTTPExecutor) Execute(ctx context.Context, job *model.GpuJob) ([]byte, error) {
	resp, err := e.client.R().
		SetContext(ctx).
		SetContentType("application/json").
		SetBody([]byte(job.RequestJSON)).
		Post(job.TargetURL)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", job.TargetURL, err)
	}
	if !resp.IsSuccessState() {
		return nil, fmt.Errorf("call %s: status %s", job.TargetURL, resp.Status)
	}
	return resp.Bytes(), nil
}

// SimulateExecutor echoes the request after a short delay. Dev/demo mode
// only; it lets the whole pipeline run without GPU workloads.
type SimulateExecutor struct {
	Delay time.Duration
}

func (e *SimulateExecutor) Execute(ctx context.Context, job *model.GpuJob) ([]byte, error) {
	select {
	case <-time.After(e.Delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	out, err := json.Marshal(map[string]any{
		"ok":         true,
		"target_url": job.TargetURL,
		"echo":       json.RawMessage(job.RequestJSON),
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
