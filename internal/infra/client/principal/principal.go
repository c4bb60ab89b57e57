// Package principal is the HTTP client for the directory tier, which owns
// memberships and tenancy. It backs the router's permissions oracle and the
// built-in associations; this service never stores membership itself.
package principal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/openacad/activity-service/internal/domain/model"
	"github.com/openacad/activity-service/internal/errs"
	"github.com/openacad/activity-service/internal/infra/signing"
)

const requestTimeout = 5 * time.Second

type Client struct {
	baseURL string
	signer  *signing.Signer
	http    *http.Client

	// tenants caches principal to tenant; tenancy changes are rare enough
	// that a routing decision may lag a little.
	tenants *lru.Cache[string, string]
}

func NewClient(baseURL string, signer *signing.Signer) *Client {
	tenants, _ := lru.New[string, string](10000)
	return &Client{
		baseURL: baseURL,
		signer:  signer,
		http:    &http.Client{Timeout: requestTimeout},
		tenants: tenants,
	}
}

func (c *Client) TenantOf(ctx context.Context, principalID string) (string, error) {
	if tenant, ok := c.tenants.Get(principalID); ok {
		return tenant, nil
	}
	var out struct {
		TenantAlias string `json:"tenantAlias"`
	}
	if err := c.get(ctx, "/api/principals/"+url.PathEscape(principalID)+"/tenant", &out); err != nil {
		return "", err
	}
	c.tenants.Add(principalID, out.TenantAlias)
	return out.TenantAlias, nil
}

func (c *Client) TenantsInteract(ctx context.Context, a, b string) (bool, error) {
	var out struct {
		Interact bool `json:"interact"`
	}
	path := fmt.Sprintf("/api/tenants/interact?a=%s&b=%s", url.QueryEscape(a), url.QueryEscape(b))
	if err := c.get(ctx, path, &out); err != nil {
		return false, err
	}
	return out.Interact, nil
}

func (c *Client) IsMember(ctx context.Context, principalID, resourceID string) (bool, error) {
	var out struct {
		Member bool `json:"member"`
	}
	path := fmt.Sprintf("/api/resources/%s/members/%s", url.PathEscape(resourceID), url.PathEscape(principalID))
	if err := c.get(ctx, path, &out); err != nil {
		if errs.IsKind(err, errs.KindNotFound) {
			return false, nil
		}
		return false, err
	}
	return out.Member, nil
}

func (c *Client) Members(ctx context.Context, resourceID string) ([]string, error) {
	return c.principals(ctx, "/api/resources/"+url.PathEscape(resourceID)+"/members")
}

func (c *Client) Managers(ctx context.Context, resourceID string) ([]string, error) {
	return c.principals(ctx, "/api/resources/"+url.PathEscape(resourceID)+"/managers")
}

func (c *Client) MembersByRole(ctx context.Context, resourceID, role string) ([]string, error) {
	path := fmt.Sprintf("/api/resources/%s/members?role=%s", url.PathEscape(resourceID), url.QueryEscape(role))
	return c.principals(ctx, path)
}

// ApplyMemberChange commits a role-grant batch on a resource. The directory
// tier interprets the role "false" as a revoke.
func (c *Client) ApplyMemberChange(ctx context.Context, change *model.MemberChangeInfo) error {
	path := "/api/resources/" + url.PathEscape(change.ResourceID) + "/members"
	body, err := json.Marshal(change)
	if err != nil {
		return errs.Internal("could not encode the member change", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return errs.Internal("could not build a directory request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-OpenAcad-Signature", c.signer.SignResource(path, requestTimeout))

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Transient("the directory tier is unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errs.NotFound("the directory has no such resource")
	case resp.StatusCode >= http.StatusInternalServerError:
		return errs.Transient(fmt.Sprintf("the directory tier answered %d", resp.StatusCode), nil)
	case resp.StatusCode >= http.StatusBadRequest:
		return errs.Internal(fmt.Sprintf("the directory rejected the member change with %d", resp.StatusCode), nil)
	}
	return nil
}

func (c *Client) principals(ctx context.Context, path string) ([]string, error) {
	var out struct {
		PrincipalIDs []string `json:"principalIds"`
	}
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.PrincipalIDs, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return errs.Internal("could not build a directory request", err)
	}
	req.Header.Set("X-OpenAcad-Signature", c.signer.SignResource(path, requestTimeout))

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Transient("the directory tier is unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errs.NotFound("the directory has no such row")
	case resp.StatusCode >= http.StatusInternalServerError:
		return errs.Transient(fmt.Sprintf("the directory tier answered %d", resp.StatusCode), nil)
	case resp.StatusCode >= http.StatusBadRequest:
		return errs.Internal(fmt.Sprintf("the directory rejected the request with %d", resp.StatusCode), nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.Internal("undecodable directory response", err)
	}
	return nil
}
