package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"realtime-service/internal/metrics"
)

var ErrUserNotFound = errors.New("user not found")

// UserClient is the directory lookup used to enrich authenticated identities
// and to check workspace membership. It is implemented over HTTP against the
// user service and, alternatively, by a read-only database repository.
type UserClient interface {
	GetUserInfo(ctx context.Context, userID, token string) (*UserInfo, error)
	ValidateWorkspaceMember(ctx context.Context, workspaceID, userID, token string) (bool, error)
}

type UserInfo struct {
	UserID       string   `json:"userId"`
	Email        string   `json:"email"`
	Name         string   `json:"name"`
	IsActive     bool     `json:"isActive"`
	WorkspaceIDs []string `json:"workspaceIds"`
}

// WorkspaceValidationResponse represents the response from workspace validation endpoint
type WorkspaceValidationResponse struct {
	WorkspaceID string `json:"workspaceId"`
	UserID      string `json:"userId"`
	Valid       bool   `json:"valid"`
	IsValid     bool   `json:"isValid"`
	IsMember    bool   `json:"isMember"`
}

type userWorkspaceResponse struct {
	WorkspaceID string `json:"workspaceId"`
}

type userClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewUserClient creates a user-service client. baseURL is the API root,
// e.g. "http://user-service:8080/api".
func NewUserClient(baseURL string, timeout time.Duration, logger *zap.Logger, m *metrics.Metrics) UserClient {
	return &userClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger:  logger,
		metrics: m,
	}
}

// GetUserInfo loads the profile and the caller's workspace list. The
// workspace list endpoint is scoped to the bearer token's owner.
func (c *userClient) GetUserInfo(ctx context.Context, userID, token string) (*UserInfo, error) {
	var info UserInfo
	status, err := c.getJSON(ctx, fmt.Sprintf("/users/%s", userID), token, &info)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, ErrUserNotFound
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("get user info failed: status=%d", status)
	}
	if info.UserID == "" {
		info.UserID = userID
	}

	var workspaces []userWorkspaceResponse
	status, err = c.getJSON(ctx, "/workspaces/all", token, &workspaces)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("get user workspaces failed: status=%d", status)
	}

	info.WorkspaceIDs = make([]string, 0, len(workspaces))
	for _, ws := range workspaces {
		if ws.WorkspaceID != "" {
			info.WorkspaceIDs = append(info.WorkspaceIDs, ws.WorkspaceID)
		}
	}
	return &info, nil
}

// ValidateWorkspaceMember checks if a user is a member of a workspace
func (c *userClient) ValidateWorkspaceMember(ctx context.Context, workspaceID, userID, token string) (bool, error) {
	var response WorkspaceValidationResponse
	path := fmt.Sprintf("/workspaces/%s/validate-member/%s", workspaceID, userID)
	status, err := c.getJSON(ctx, path, token, &response)
	if err != nil {
		return false, err
	}

	switch status {
	case http.StatusOK:
	case http.StatusForbidden, http.StatusNotFound:
		// 403 = not a member, 404 = workspace not found
		return false, nil
	default:
		return false, fmt.Errorf("user-service returned status %d", status)
	}

	isValid := response.Valid || response.IsValid || response.IsMember
	c.logger.Debug("Workspace member validation result",
		zap.Bool("is_valid", isValid),
		zap.String("workspace_id", workspaceID),
		zap.String("user_id", userID),
	)
	return isValid, nil
}

// getJSON decodes a 200 body into out and returns the status code. Non-200
// bodies are drained and left to the caller to interpret.
func (c *userClient) getJSON(ctx context.Context, path, token string, out interface{}) (int, error) {
	url := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordExternalAPICall(path, http.MethodGet, 0, time.Since(start), err)
		c.logger.Error("Failed to call user-service", zap.Error(err), zap.String("url", url))
		return 0, fmt.Errorf("failed to call user-service: %w", err)
	}
	defer resp.Body.Close()
	c.metrics.RecordExternalAPICall(path, http.MethodGet, resp.StatusCode, time.Since(start), nil)

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		c.logger.Warn("User-service returned non-200 status",
			zap.Int("status", resp.StatusCode),
			zap.String("url", url),
		)
		return resp.StatusCode, nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}
