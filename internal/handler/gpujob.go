package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"k8s.io/klog/v2"

	"github.com/modelops/gpusched/internal/resputil"
	"github.com/modelops/gpusched/internal/util"
	"github.com/modelops/gpusched/pkg/admission"
	"github.com/modelops/gpusched/pkg/jobstore"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type GpuJobMgr struct {
	admitter *admission.Service
	store    jobstore.Service
}

func NewGpuJobMgr(admitter *admission.Service, store jobstore.Service) Manager {
	return &GpuJobMgr{admitter: admitter, store: store}
}

func (mgr *GpuJobMgr) RegisterPublic(_ *gin.RouterGroup) {}

func (mgr *GpuJobMgr) RegisterProtected(g *gin.RouterGroup) {
	g.POST("", mgr.Create)
	g.GET("", mgr.List)
	g.GET("/:id", mgr.Get)
}

func (mgr *GpuJobMgr) RegisterAdmin(_ *gin.RouterGroup) {}

type (
	CreateGpuJobReq struct {
		TargetURL        string          `json:"target_url" binding:"required"`
		RequestJSON      json.RawMessage `json:"request_json" binding:"required"`
		GpuPoolRequested string          `json:"gpu_pool_requested"`
		IsolationLevel   string          `json:"isolation_level"`
		Priority         int             `json:"priority"`
	}

	ListGpuJobsReq struct {
		Limit int `form:"limit"`
	}
)

// Create submits a job. 400 on invalid routing fields, 429 when the tenant
// is over its queue-depth cap.
func (mgr *GpuJobMgr) Create(c *gin.Context) {
	tenancy := util.GetTenancy(c)

	var req CreateGpuJobReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.HTTPError(c, http.StatusBadRequest, err.Error(), resputil.InvalidRequest)
		return
	}

	job, err := mgr.admitter.Submit(c, &admission.SubmitRequest{
		TenantID:       tenancy.TenantID,
		ProjectID:      tenancy.ProjectID,
		CreatedBy:      tenancy.UserID,
		TargetURL:      req.TargetURL,
		RequestJSON:    req.RequestJSON,
		PoolRequested:  req.GpuPoolRequested,
		IsolationLevel: req.IsolationLevel,
		Priority:       req.Priority,
	})
	switch {
	case errors.Is(err, admission.ErrQueueLimit):
		resputil.HTTPError(c, http.StatusTooManyRequests, err.Error(), resputil.QueueLimitExceeded)
		return
	case errors.Is(err, admission.ErrInvalidPool),
		errors.Is(err, admission.ErrInvalidIsolation),
		errors.Is(err, admission.ErrMissingTarget):
		resputil.HTTPError(c, http.StatusBadRequest, err.Error(), resputil.InvalidRequest)
		return
	case err != nil:
		klog.Errorf("submit gpu job: %v", err)
		resputil.Error(c, "submit gpu job failed", resputil.NotSpecified)
		return
	}

	resputil.Created(c, job)
}

func (mgr *GpuJobMgr) List(c *gin.Context) {
	tenancy := util.GetTenancy(c)

	var req ListGpuJobsReq
	if err := c.ShouldBindQuery(&req); err != nil {
		resputil.HTTPError(c, http.StatusBadRequest, err.Error(), resputil.InvalidRequest)
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	jobs, err := mgr.store.ListJobs(c, tenancy.TenantID, tenancy.ProjectID, limit)
	if err != nil {
		klog.Errorf("list gpu jobs: %v", err)
		resputil.Error(c, "list gpu jobs failed", resputil.NotSpecified)
		return
	}
	resputil.Success(c, jobs)
}

func (mgr *GpuJobMgr) Get(c *gin.Context) {
	tenancy := util.GetTenancy(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		resputil.HTTPError(c, http.StatusBadRequest, "invalid job id", resputil.InvalidRequest)
		return
	}

	job, err := mgr.store.GetJob(c, tenancy.TenantID, tenancy.ProjectID, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		resputil.HTTPError(c, http.StatusNotFound, "gpu job not found", resputil.JobNotFound)
		return
	}
	if err != nil {
		klog.Errorf("get gpu job %s: %v", id, err)
		resputil.Error(c, "get gpu job failed", resputil.NotSpecified)
		return
	}
	resputil.Success(c, job)
}
