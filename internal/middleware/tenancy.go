package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/modelops/gpusched/internal/resputil"
	"github.com/modelops/gpusched/internal/util"
)

// TenancyMiddleware trusts the identity headers set by the platform
// gateway after authentication. Requests without a tenant are rejected;
// resolving users to tenants is not this service's job.
func TenancyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenancy := util.Tenancy{
			TenantID:  c.GetHeader("X-Tenant-ID"),
			ProjectID: c.GetHeader("X-Project-ID"),
			UserID:    c.GetHeader("X-User-ID"),
		}
		if tenancy.TenantID == "" || tenancy.ProjectID == "" {
			resputil.HTTPError(c, http.StatusUnauthorized, "missing tenant identity", resputil.InvalidRequest)
			c.Abort()
			return
		}
		util.SetTenancyContext(c, tenancy)
		c.Next()
	}
}
