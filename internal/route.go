package internal

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/modelops/gpusched/internal/handler"
	"github.com/modelops/gpusched/internal/middleware"
	"github.com/modelops/gpusched/pkg/admission"
	"github.com/modelops/gpusched/pkg/jobstore"
)

type Backend struct {
	R *gin.Engine
}

// Register wires the HTTP surface: the tenant-facing job API behind the
// tenancy middleware and the policy admin API. Authentication itself is
// handled upstream by the platform gateway.
func Register(admitter *admission.Service, store jobstore.Service) *Backend {
	s := new(Backend)
	s.R = gin.Default()

	// Kubernetes health check
	s.R.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "ok",
		})
	})

	s.registerService(admitter, store)

	return s
}

func (b *Backend) registerService(admitter *admission.Service, store jobstore.Service) {
	gpujobMgr := handler.NewGpuJobMgr(admitter, store)
	policyMgr := handler.NewPolicyMgr(store)

	protectedRouter := b.R.Group("/v1")
	protectedRouter.Use(middleware.TenancyMiddleware())

	gpujobMgr.RegisterProtected(protectedRouter.Group("/gpu-jobs"))

	adminRouter := b.R.Group("/v1/admin")

	policyMgr.RegisterAdmin(adminRouter.Group("/tenant-gpu-policies"))
}
