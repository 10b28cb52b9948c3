// Package capability calls the external business-tool service that actually
// filters datasets, manages tickets and renders exports. This process only
// orchestrates; every side effect happens behind this boundary.
package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/finbotics/business-assistant/internal/core/domain"
)

type HTTPExecutor struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewHTTPExecutor(baseURL, token string, timeout time.Duration) *HTTPExecutor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPExecutor{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type actionRequest struct {
	Parameters map[string]any        `json:"parameters"`
	Caller     domain.CallerIdentity `json:"caller"`
}

func (e *HTTPExecutor) Execute(ctx context.Context, action domain.Action, params map[string]any, caller domain.CallerIdentity) (domain.CapabilityResult, error) {
	body, err := json.Marshal(actionRequest{Parameters: params, Caller: caller})
	if err != nil {
		return domain.CapabilityResult{}, fmt.Errorf("marshal action request: %w", err)
	}

	url := e.baseURL + "/v1/actions/" + string(action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return domain.CapabilityResult{}, fmt.Errorf("build action request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return domain.CapabilityResult{}, fmt.Errorf("call %s: %w", action, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return domain.CapabilityResult{}, fmt.Errorf("read %s response: %w", action, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var result domain.CapabilityResult
		if err := json.Unmarshal(raw, &result); err != nil {
			return domain.CapabilityResult{}, fmt.Errorf("decode %s response: %w", action, err)
		}
		return result, nil
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return domain.CapabilityResult{
			Status:  domain.CapabilityPermissionDenied,
			Message: strings.TrimSpace(string(raw)),
		}, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout:
		return domain.CapabilityResult{}, fmt.Errorf("call %s: tool service returned %d: %s", action, resp.StatusCode, strings.TrimSpace(string(raw)))
	default:
		return domain.CapabilityResult{
			Status:  domain.CapabilityError,
			Message: fmt.Sprintf("tool service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))),
		}, nil
	}
}
