package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"

	"github.com/modelops/gpusched/dao/model"
	"github.com/modelops/gpusched/internal/resputil"
	"github.com/modelops/gpusched/pkg/jobstore"
)

// PolicyMgr exposes tenant policy administration. Quota changes take effect
// on the scheduler's next tick, nothing is pushed.
type PolicyMgr struct {
	store jobstore.Service
}

func NewPolicyMgr(store jobstore.Service) Manager {
	return &PolicyMgr{store: store}
}

func (mgr *PolicyMgr) RegisterPublic(_ *gin.RouterGroup)    {}
func (mgr *PolicyMgr) RegisterProtected(_ *gin.RouterGroup) {}

func (mgr *PolicyMgr) RegisterAdmin(g *gin.RouterGroup) {
	g.GET("", mgr.List)
	g.PUT("/:tenantID", mgr.Upsert)
}

type UpsertPolicyReq struct {
	Plan              string `json:"plan"`
	T4MaxConcurrency  int    `json:"t4MaxConcurrency" binding:"gte=0"`
	MigMaxConcurrency int    `json:"migMaxConcurrency" binding:"gte=0"`
	MaxQueuedJobs     int    `json:"maxQueuedJobs" binding:"gte=0"`
	PriorityBoost     int    `json:"priorityBoost" binding:"gte=0"`
}

func (mgr *PolicyMgr) List(c *gin.Context) {
	policies, err := mgr.store.ListPolicies(c)
	if err != nil {
		klog.Errorf("list tenant gpu policies: %v", err)
		resputil.Error(c, "list policies failed", resputil.NotSpecified)
		return
	}
	resputil.Success(c, policies)
}

func (mgr *PolicyMgr) Upsert(c *gin.Context) {
	tenantID := c.Param("tenantID")
	if tenantID == "" {
		resputil.HTTPError(c, http.StatusBadRequest, "missing tenant id", resputil.InvalidRequest)
		return
	}

	var req UpsertPolicyReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.HTTPError(c, http.StatusBadRequest, err.Error(), resputil.InvalidRequest)
		return
	}
	plan := req.Plan
	if plan == "" {
		plan = model.DefaultPlan
	}

	policy := &model.TenantGpuPolicy{
		TenantID:          tenantID,
		Plan:              plan,
		T4MaxConcurrency:  req.T4MaxConcurrency,
		MigMaxConcurrency: req.MigMaxConcurrency,
		MaxQueuedJobs:     req.MaxQueuedJobs,
		PriorityBoost:     req.PriorityBoost,
	}
	if err := mgr.store.UpsertPolicy(c, policy); err != nil {
		klog.Errorf("upsert policy for tenant %s: %v", tenantID, err)
		resputil.Error(c, "upsert policy failed", resputil.NotSpecified)
		return
	}
	resputil.Success(c, policy)
}
