package runner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelops/gpusched/dao/model"
	"github.com/modelops/gpusched/pkg/bus"
)

type fakeStore struct {
	job *model.GpuJob

	succeededWith []byte
	failedWith    string
	usage         []*model.UsageRecord
}

func (f *fakeStore) MarkRunning(_ context.Context, id, token uuid.UUID) (*model.GpuJob, error) {
	// Same guard as the real conditional update: only a DISPATCHED job
	// holding the exact token can be picked up.
	if f.job == nil || f.job.ID != id || f.job.Status != model.JobDispatched ||
		f.job.DispatchToken == nil || *f.job.DispatchToken != token {
		return nil, nil
	}
	f.job.Status = model.JobRunning
	return f.job, nil
}

func (f *fakeStore) MarkSucceeded(_ context.Context, _ uuid.UUID, response []byte) error {
	f.job.Status = model.JobSucceeded
	f.succeededWith = response
	return nil
}

func (f *fakeStore) MarkFailed(_ context.Context, _ uuid.UUID, errMsg string) error {
	f.job.Status = model.JobFailed
	f.failedWith = errMsg
	return nil
}

func (f *fakeStore) AppendUsage(_ context.Context, rec *model.UsageRecord) error {
	f.usage = append(f.usage, rec)
	return nil
}

type capturePublisher struct {
	finished []bus.FinishedEvent
}

func (p *capturePublisher) Publish(_ context.Context, _ string, event any) error {
	if evt, ok := event.(bus.FinishedEvent); ok {
		p.finished = append(p.finished, evt)
	}
	return nil
}

func dispatchedJob(token uuid.UUID, targetURL string) *model.GpuJob {
	pool := model.PoolT4
	now := time.Now()
	return &model.GpuJob{
		ID:               uuid.New(),
		TenantID:         "acme",
		ProjectID:        "proj-1",
		Status:           model.JobDispatched,
		GpuPoolRequested: pool,
		GpuPoolAssigned:  &pool,
		IsolationLevel:   model.IsolationShared,
		DispatchToken:    &token,
		DispatchedAt:     &now,
		TargetURL:        targetURL,
		RequestJSON:      []byte(`{"prompt":"hi"}`),
		RequestedAt:      now,
	}
}

func TestHandleSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":"done"}`))
	}))
	defer srv.Close()

	token := uuid.New()
	store := &fakeStore{job: dispatchedJob(token, srv.URL)}
	pub := &capturePublisher{}
	h := NewDirectHandler(store, pub, NewHTTPExecutor(5*time.Second), 5*time.Second)

	err := h.Handle(context.Background(), bus.DispatchEvent{
		JobID:         store.job.ID.String(),
		DispatchToken: token.String(),
	})
	require.NoError(t, err)

	assert.Equal(t, model.JobSucceeded, store.job.Status)
	assert.JSONEq(t, `{"result":"done"}`, string(store.succeededWith))

	require.Len(t, store.usage, 1)
	rec := store.usage[0]
	assert.Equal(t, "acme", rec.TenantID)
	assert.Equal(t, model.UsageSubjectGpuJob, rec.SubjectType)
	assert.Equal(t, model.UsageMeterGpuSecond, rec.Meter)
	assert.GreaterOrEqual(t, rec.Quantity, 0.0)

	require.Len(t, pub.finished, 1)
	assert.Equal(t, string(model.JobSucceeded), pub.finished[0].Status)
}

func TestHandleExecutionFailureIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	token := uuid.New()
	store := &fakeStore{job: dispatchedJob(token, srv.URL)}
	pub := &capturePublisher{}
	h := NewDirectHandler(store, pub, NewHTTPExecutor(5*time.Second), 5*time.Second)

	err := h.Handle(context.Background(), bus.DispatchEvent{
		JobID:         store.job.ID.String(),
		DispatchToken: token.String(),
	})
	// nil so the message is acked: failure is terminal, not retried.
	require.NoError(t, err)

	assert.Equal(t, model.JobFailed, store.job.Status)
	assert.True(t, store.job.Status.Terminal())
	assert.NotEmpty(t, store.failedWith)
	assert.Empty(t, store.usage)

	require.Len(t, pub.finished, 1)
	assert.Equal(t, string(model.JobFailed), pub.finished[0].Status)
}

func TestHandleRedeliveredDispatchExecutesOnce(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		_, _ = w.Write([]byte(`{"result":"done"}`))
	}))
	defer srv.Close()

	token := uuid.New()
	store := &fakeStore{job: dispatchedJob(token, srv.URL)}
	pub := &capturePublisher{}
	h := NewDirectHandler(store, pub, NewHTTPExecutor(5*time.Second), 5*time.Second)

	evt := bus.DispatchEvent{
		JobID:         store.job.ID.String(),
		DispatchToken: token.String(),
	}
	require.NoError(t, h.Handle(context.Background(), evt))
	// The bus redelivers the same notification; the token guard makes the
	// second pickup a no-op.
	require.NoError(t, h.Handle(context.Background(), evt))

	assert.Equal(t, 1, hits)
	assert.Len(t, store.usage, 1)
	assert.Len(t, pub.finished, 1)
	assert.True(t, store.job.Status.Terminal())
}

func TestHandleStaleTokenIsNoop(t *testing.T) {
	token := uuid.New()
	store := &fakeStore{job: dispatchedJob(token, "http://unused")}
	h := NewDirectHandler(store, &capturePublisher{}, NewHTTPExecutor(time.Second), time.Second)

	err := h.Handle(context.Background(), bus.DispatchEvent{
		JobID:         store.job.ID.String(),
		DispatchToken: uuid.NewString(),
	})
	require.NoError(t, err)

	// Pickup never happened, nothing recorded.
	assert.Equal(t, model.JobDispatched, store.job.Status)
	assert.Empty(t, store.usage)
}

func TestHandleMalformedEventIsAcked(t *testing.T) {
	store := &fakeStore{}
	h := NewDirectHandler(store, &capturePublisher{}, NewHTTPExecutor(time.Second), time.Second)

	err := h.Handle(context.Background(), bus.DispatchEvent{
		JobID:         "not-a-uuid",
		DispatchToken: uuid.NewString(),
	})
	assert.NoError(t, err)
}

func TestSimulateExecutorEchoes(t *testing.T) {
	job := dispatchedJob(uuid.New(), "http://inference.svc/run")
	e := &SimulateExecutor{Delay: time.Millisecond}

	out, err := e.Execute(context.Background(), job)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true,"target_url":"http://inference.svc/run","echo":{"prompt":"hi"}}`, string(out))
}

func TestSimulateExecutorHonorsContext(t *testing.T) {
	job := dispatchedJob(uuid.New(), "http://inference.svc/run")
	e := &SimulateExecutor{Delay: time.Minute}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := e.Execute(ctx, job)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewExecutorSelection(t *testing.T) {
	e, err := NewExecutor("", time.Second)
	require.NoError(t, err)
	assert.IsType(t, &HTTPExecutor{}, e)

	e, err = NewExecutor("simulate", time.Second)
	require.NoError(t, err)
	assert.IsType(t, &SimulateExecutor{}, e)

	_, err = NewExecutor("fork-bomb", time.Second)
	assert.Error(t, err)
}
