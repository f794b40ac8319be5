package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"realtime-service/internal/client"
	"realtime-service/internal/domain"
)

type MockUserClient struct {
	mock.Mock
}

func (m *MockUserClient) GetUserInfo(ctx context.Context, userID, token string) (*client.UserInfo, error) {
	args := m.Called(ctx, userID, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*client.UserInfo), args.Error(1)
}

func (m *MockUserClient) ValidateWorkspaceMember(ctx context.Context, workspaceID, userID, token string) (bool, error) {
	args := m.Called(ctx, workspaceID, userID, token)
	return args.Bool(0), args.Error(1)
}

func TestIdentityResolver_Enriches(t *testing.T) {
	dir := new(MockUserClient)
	dir.On("GetUserInfo", mock.Anything, "u1", "tok").Return(&client.UserInfo{
		UserID: "u1", Name: "Alice", Email: "alice@example.com", IsActive: true, WorkspaceIDs: []string{"ws1"},
	}, nil)

	r := NewIdentityResolver(dir, zap.NewNop())
	identity, err := r.Resolve(context.Background(), &Claims{Subject: "u1"}, "tok")
	require.NoError(t, err)

	assert.Equal(t, "Alice", identity.Name)
	assert.Equal(t, []string{"ws1"}, identity.WorkspaceIDs)
	assert.False(t, identity.Degraded)
	dir.AssertExpectations(t)
}

func TestIdentityResolver_DegradesWhenDirectoryDown(t *testing.T) {
	dir := new(MockUserClient)
	dir.On("GetUserInfo", mock.Anything, "u1", "tok").Return(nil, errors.New("connection refused"))

	r := NewIdentityResolver(dir, zap.NewNop())
	identity, err := r.Resolve(context.Background(), &Claims{Subject: "u1", Name: "from-token"}, "tok")
	require.NoError(t, err)

	assert.True(t, identity.Degraded)
	assert.Equal(t, "u1", identity.UserID)
	assert.Empty(t, identity.WorkspaceIDs)
	assert.Equal(t, "u1", identity.DisplayName())
}

func TestIdentityResolver_RejectsInactiveUser(t *testing.T) {
	dir := new(MockUserClient)
	dir.On("GetUserInfo", mock.Anything, "u1", "tok").Return(&client.UserInfo{UserID: "u1", IsActive: false}, nil)

	r := NewIdentityResolver(dir, zap.NewNop())
	_, err := r.Resolve(context.Background(), &Claims{Subject: "u1"}, "tok")
	assertReason(t, err, ReasonInactiveUser)
}

func TestIdentityResolver_NoDirectoryUsesClaims(t *testing.T) {
	r := NewIdentityResolver(nil, zap.NewNop())
	identity, err := r.Resolve(context.Background(), &Claims{Subject: "u1", Name: "Alice", Workspaces: []string{"ws1"}}, "tok")
	require.NoError(t, err)
	assert.Equal(t, "Alice", identity.Name)
	assert.True(t, identity.HasWorkspace("ws1"))
}

func TestIdentityResolver_IsWorkspaceMember(t *testing.T) {
	dir := new(MockUserClient)
	dir.On("ValidateWorkspaceMember", mock.Anything, "ws2", "u1", "tok").Return(false, nil)
	dir.On("ValidateWorkspaceMember", mock.Anything, "ws3", "u1", "tok").Return(true, nil)
	dir.On("ValidateWorkspaceMember", mock.Anything, "ws4", "u1", "tok").Return(false, errors.New("timeout"))

	r := NewIdentityResolver(dir, zap.NewNop())
	ctx := context.Background()
	identity := domain.Identity{UserID: "u1", WorkspaceIDs: []string{"ws1"}}

	assert.True(t, r.IsWorkspaceMember(ctx, identity, "ws1", "tok"), "known membership skips the directory")
	assert.False(t, r.IsWorkspaceMember(ctx, identity, "ws2", "tok"))
	assert.True(t, r.IsWorkspaceMember(ctx, identity, "ws3", "tok"))
	assert.True(t, r.IsWorkspaceMember(ctx, identity, "ws4", "tok"), "unreachable directory allows the join")

	dir.AssertNotCalled(t, "ValidateWorkspaceMember", mock.Anything, "ws1", "u1", "tok")
}
