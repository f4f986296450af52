package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const executePath = "/internal/workflows/execute"

// Client calls the workflow-execution engine over HTTP. The request timeout
// is a hard bound: a hung engine call surfaces as ErrDispatchFailed instead
// of blocking dispatch ticks indefinitely.
type Client struct {
	r      *resty.Client
	logger *zap.Logger
}

func NewClient(baseURL, token string, timeout time.Duration, logger *zap.Logger) *Client {
	r := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout)
	if token != "" {
		r.SetAuthToken(token)
	}
	return &Client{r: r, logger: logger}
}

type executeRequest struct {
	WorkflowID   string       `json:"workflowId"`
	TriggerEvent TriggerEvent `json:"triggerEvent"`
}

type executeResponse struct {
	ExecutionID string `json:"executionId"`
	Error       string `json:"error,omitempty"`
}

// ExecuteWorkflow asks the engine to start one execution and returns its id.
func (c *Client) ExecuteWorkflow(ctx context.Context, workflowID string, event TriggerEvent) (string, error) {
	var out executeResponse
	resp, err := c.r.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(executeRequest{WorkflowID: workflowID, TriggerEvent: event}).
		SetResult(&out).
		Post(executePath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	if resp.IsError() {
		c.logger.Warn("Execution engine rejected dispatch",
			zap.String("workflow_id", workflowID),
			zap.String("status", resp.Status()),
			zap.String("body", string(resp.Body())))
		return "", fmt.Errorf("%w: engine returned %s", ErrDispatchFailed, resp.Status())
	}
	if out.ExecutionID == "" {
		return "", fmt.Errorf("%w: engine response missing executionId", ErrDispatchFailed)
	}
	return out.ExecutionID, nil
}
