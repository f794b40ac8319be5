package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"realtime-service/internal/metrics"
)

func newUserServiceStub(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/users/u1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"userId": "u1", "email": "alice@example.com", "name": "Alice", "isActive": true,
		})
	})
	mux.HandleFunc("/api/workspaces/all", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]interface{}{
			{"workspaceId": "ws1", "workspaceName": "One"},
			{"workspaceId": "ws2", "workspaceName": "Two"},
		})
	})
	mux.HandleFunc("/api/workspaces/ws1/validate-member/u1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"isMember": true})
	})
	mux.HandleFunc("/api/workspaces/ws9/validate-member/u1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	mux.HandleFunc("/api/workspaces/broken/validate-member/u1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestUserClient_GetUserInfo(t *testing.T) {
	srv := newUserServiceStub(t)
	m := metrics.NewWithRegistry(prometheus.NewRegistry(), zap.NewNop())
	c := NewUserClient(srv.URL+"/api", time.Second, zap.NewNop(), m)

	info, err := c.GetUserInfo(context.Background(), "u1", "tok")
	require.NoError(t, err)
	assert.Equal(t, "Alice", info.Name)
	assert.Equal(t, "alice@example.com", info.Email)
	assert.True(t, info.IsActive)
	assert.Equal(t, []string{"ws1", "ws2"}, info.WorkspaceIDs)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExternalAPIRequestsTotal.WithLabelValues("/users/u1", "GET", "200")))
}

func TestUserClient_GetUserInfo_NotFound(t *testing.T) {
	srv := newUserServiceStub(t)
	c := NewUserClient(srv.URL+"/api", time.Second, zap.NewNop(), nil)

	_, err := c.GetUserInfo(context.Background(), "nobody", "tok")
	assert.True(t, errors.Is(err, ErrUserNotFound))
}

func TestUserClient_GetUserInfo_Unreachable(t *testing.T) {
	srv := newUserServiceStub(t)
	url := srv.URL
	srv.Close()

	c := NewUserClient(url+"/api", 200*time.Millisecond, zap.NewNop(), nil)
	_, err := c.GetUserInfo(context.Background(), "u1", "tok")
	assert.Error(t, err)
}

func TestUserClient_ValidateWorkspaceMember(t *testing.T) {
	srv := newUserServiceStub(t)
	c := NewUserClient(srv.URL+"/api", time.Second, zap.NewNop(), nil)
	ctx := context.Background()

	ok, err := c.ValidateWorkspaceMember(ctx, "ws1", "u1", "tok")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.ValidateWorkspaceMember(ctx, "ws9", "u1", "tok")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.ValidateWorkspaceMember(ctx, "broken", "u1", "tok")
	assert.Error(t, err)
}
