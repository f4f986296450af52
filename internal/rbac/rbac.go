// Package rbac is the boundary to the permission system. The actual role
// and policy evaluation lives in a separate service; this package only asks
// yes/no questions about a user acting within an organization.
package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Permissions enforced by the schedule API.
const (
	PermissionSchedulesRead   = "workflows.schedules.read"
	PermissionSchedulesManage = "workflows.schedules.manage"
)

// Authorizer answers whether a user may act within an organization.
type Authorizer interface {
	Authorize(ctx context.Context, userID, organizationID, permission string) (bool, error)
}

// HTTPAuthorizer queries the RBAC service. Errors are returned, not
// swallowed: callers must deny on error.
type HTTPAuthorizer struct {
	r *resty.Client
}

func NewHTTPAuthorizer(baseURL, token string, timeout time.Duration) *HTTPAuthorizer {
	r := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout)
	if token != "" {
		r.SetAuthToken(token)
	}
	return &HTTPAuthorizer{r: r}
}

type authorizeRequest struct {
	UserID         string `json:"userId"`
	OrganizationID string `json:"organizationId"`
	Permission     string `json:"permission"`
}

type authorizeResponse struct {
	Allowed bool `json:"allowed"`
}

func (a *HTTPAuthorizer) Authorize(ctx context.Context, userID, organizationID, permission string) (bool, error) {
	var out authorizeResponse
	resp, err := a.r.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(authorizeRequest{UserID: userID, OrganizationID: organizationID, Permission: permission}).
		SetResult(&out).
		Post("/internal/authorize")
	if err != nil {
		return false, err
	}
	if resp.IsError() {
		return false, fmt.Errorf("rbac service returned %s", resp.Status())
	}
	return out.Allowed, nil
}

// AllowAll authorizes everything. For development setups without an RBAC
// service and for tests.
type AllowAll struct{}

func (AllowAll) Authorize(context.Context, string, string, string) (bool, error) {
	return true, nil
}
