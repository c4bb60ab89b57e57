// Package preview calls the preview-processing tier over HTTP. Requests are
// signed per tenant with a short-lived resource token; the circuit breaker
// sheds load when the tier misbehaves instead of piling up retries.
package preview

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/openacad/activity-service/internal/errs"
	"github.com/openacad/activity-service/internal/infra/signing"
)

const (
	requestTimeout = 10 * time.Second
	tokenTTL       = 30 * time.Second
)

type Job struct {
	TenantAlias string `json:"tenantAlias"`
	ResourceID  string `json:"resourceId"`
	URL         string `json:"url"`
}

type Client struct {
	baseURL string
	signer  *signing.Signer
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

func NewClient(baseURL string, signer *signing.Signer, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		signer:  signer,
		http:    &http.Client{Timeout: requestTimeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "preview",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("preview breaker state changed", "from", from.String(), "to", to.String())
			},
		}),
		logger: logger,
	}
}

// Regenerate asks the preview tier to refresh one resource. Gateway errors
// from the tier surface as internal errors, never as the tier's own status.
func (c *Client) Regenerate(ctx context.Context, job Job) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.post(ctx, job)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return errs.Transient("the preview tier is shedding load", err)
	}
	return err
}

func (c *Client) post(ctx context.Context, job Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return errs.Internal("could not encode the preview job", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/previews/regenerate", bytes.NewReader(body))
	if err != nil {
		return errs.Internal("could not build the preview request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-OpenAcad-Tenant", job.TenantAlias)
	req.Header.Set("X-OpenAcad-Signature", c.signer.SignResource(job.ResourceID, tokenTTL))

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Transient("the preview tier is unreachable", err)
	}
	defer resp.Body.Close()

	// 5xx from the tier, including its own upstream 502s, is our internal
	// failure as far as callers are concerned.
	if resp.StatusCode >= http.StatusInternalServerError {
		return errs.Internal(fmt.Sprintf("the preview tier answered %d", resp.StatusCode), nil)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return errs.Validation("the preview tier rejected the job with %d", resp.StatusCode)
	}
	return nil
}
