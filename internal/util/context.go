package util

import "github.com/gin-gonic/gin"

const (
	TenantIDKey  = "x-tenant-id"
	ProjectIDKey = "x-project-id"
	UserIDKey    = "x-user-id"
)

// Tenancy is the per-request identity resolved upstream by the gateway.
type Tenancy struct {
	TenantID  string
	ProjectID string
	UserID    string
}

func SetTenancyContext(c *gin.Context, t Tenancy) {
	c.Set(TenantIDKey, t.TenantID)
	c.Set(ProjectIDKey, t.ProjectID)
	c.Set(UserIDKey, t.UserID)
}

func GetTenancy(c *gin.Context) Tenancy {
	return Tenancy{
		TenantID:  c.GetString(TenantIDKey),
		ProjectID: c.GetString(ProjectIDKey),
		UserID:    c.GetString(UserIDKey),
	}
}
