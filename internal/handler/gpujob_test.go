package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/modelops/gpusched/dao/model"
	"github.com/modelops/gpusched/internal/middleware"
	"github.com/modelops/gpusched/internal/resputil"
	"github.com/modelops/gpusched/pkg/admission"
	"github.com/modelops/gpusched/pkg/jobstore"
)

// fakeStore embeds the interface so only the methods the handlers reach
// need bodies.
type fakeStore struct {
	jobstore.Service

	jobs     []*model.GpuJob
	active   int64
	policies []*model.TenantGpuPolicy
	gotLimit int
	upserted *model.TenantGpuPolicy
}

func (f *fakeStore) CreateJob(_ context.Context, job *model.GpuJob) error {
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeStore) GetJob(_ context.Context, tenantID, projectID string, id uuid.UUID) (*model.GpuJob, error) {
	for _, j := range f.jobs {
		if j.ID == id && j.TenantID == tenantID && j.ProjectID == projectID {
			return j, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeStore) ListJobs(_ context.Context, tenantID, _ string, limit int) ([]*model.GpuJob, error) {
	f.gotLimit = limit
	var out []*model.GpuJob
	for _, j := range f.jobs {
		if j.TenantID == tenantID {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeStore) CountActive(context.Context, string) (int64, error) {
	return f.active, nil
}

func (f *fakeStore) EnsurePolicy(_ context.Context, tenantID string) (*model.TenantGpuPolicy, error) {
	return model.DefaultPolicy(tenantID), nil
}

func (f *fakeStore) ListPolicies(context.Context) ([]*model.TenantGpuPolicy, error) {
	return f.policies, nil
}

func (f *fakeStore) UpsertPolicy(_ context.Context, p *model.TenantGpuPolicy) error {
	f.upserted = p
	return nil
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, any) error { return nil }

func newTestRouter(store *fakeStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	admitter := admission.NewService(store, noopPublisher{})
	gpujobMgr := NewGpuJobMgr(admitter, store)
	policyMgr := NewPolicyMgr(store)

	protected := r.Group("/v1")
	protected.Use(middleware.TenancyMiddleware())
	gpujobMgr.RegisterProtected(protected.Group("/gpu-jobs"))

	policyMgr.RegisterAdmin(r.Group("/v1/admin/tenant-gpu-policies"))
	return r
}

func doRequest(r *gin.Engine, method, path, body string, withTenancy bool) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if withTenancy {
		req.Header.Set("X-Tenant-ID", "acme")
		req.Header.Set("X-Project-ID", "proj-1")
		req.Header.Set("X-User-ID", "alice")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) resputil.Response[json.RawMessage] {
	t.Helper()
	var resp resputil.Response[json.RawMessage]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestCreateRequiresTenancy(t *testing.T) {
	r := newTestRouter(&fakeStore{})

	w := doRequest(r, http.MethodPost, "/v1/gpu-jobs", `{"target_url":"http://x","request_json":{}}`, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateGpuJob(t *testing.T) {
	store := &fakeStore{}
	r := newTestRouter(store)

	w := doRequest(r, http.MethodPost, "/v1/gpu-jobs",
		`{"target_url":"http://inference.svc/run","request_json":{"prompt":"hi"},"gpu_pool_requested":"t4"}`, true)
	require.Equal(t, http.StatusCreated, w.Code)

	resp := decodeEnvelope(t, w)
	assert.Equal(t, resputil.OK, resp.Code)
	require.Len(t, store.jobs, 1)
	assert.Equal(t, "acme", store.jobs[0].TenantID)
	assert.Equal(t, "alice", store.jobs[0].CreatedBy)
}

func TestCreateGpuJobInvalidPool(t *testing.T) {
	r := newTestRouter(&fakeStore{})

	w := doRequest(r, http.MethodPost, "/v1/gpu-jobs",
		`{"target_url":"http://x","request_json":{},"gpu_pool_requested":"a100"}`, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, resputil.InvalidRequest, decodeEnvelope(t, w).Code)
}

func TestCreateGpuJobQueueLimit(t *testing.T) {
	store := &fakeStore{active: int64(model.DefaultMaxQueuedJobs)}
	r := newTestRouter(store)

	w := doRequest(r, http.MethodPost, "/v1/gpu-jobs",
		`{"target_url":"http://x","request_json":{}}`, true)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, resputil.QueueLimitExceeded, decodeEnvelope(t, w).Code)
}

func TestListGpuJobsLimitClamp(t *testing.T) {
	store := &fakeStore{}
	r := newTestRouter(store)

	w := doRequest(r, http.MethodGet, "/v1/gpu-jobs?limit=100000", "", true)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, maxListLimit, store.gotLimit)

	w = doRequest(r, http.MethodGet, "/v1/gpu-jobs", "", true)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, defaultListLimit, store.gotLimit)
}

func TestGetGpuJobNotFound(t *testing.T) {
	r := newTestRouter(&fakeStore{})

	w := doRequest(r, http.MethodGet, "/v1/gpu-jobs/"+uuid.NewString(), "", true)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, resputil.JobNotFound, decodeEnvelope(t, w).Code)
}

func TestGetGpuJobBadID(t *testing.T) {
	r := newTestRouter(&fakeStore{})

	w := doRequest(r, http.MethodGet, "/v1/gpu-jobs/not-a-uuid", "", true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpsertPolicy(t *testing.T) {
	store := &fakeStore{}
	r := newTestRouter(store)

	w := doRequest(r, http.MethodPut, "/v1/admin/tenant-gpu-policies/acme",
		`{"plan":"pro","t4MaxConcurrency":4,"migMaxConcurrency":1,"maxQueuedJobs":200,"priorityBoost":10}`, false)
	require.Equal(t, http.StatusOK, w.Code)

	require.NotNil(t, store.upserted)
	assert.Equal(t, "acme", store.upserted.TenantID)
	assert.Equal(t, 4, store.upserted.T4MaxConcurrency)
	assert.Equal(t, 10, store.upserted.PriorityBoost)
}
