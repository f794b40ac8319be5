package auth

import (
	"context"

	"go.uber.org/zap"

	"realtime-service/internal/client"
	"realtime-service/internal/domain"
)

// IdentityResolver enriches verified claims from the user directory. A
// directory failure yields a degraded identity rather than an error; only an
// inactive account is rejected.
type IdentityResolver struct {
	directory client.UserClient
	logger    *zap.Logger
}

func NewIdentityResolver(directory client.UserClient, logger *zap.Logger) *IdentityResolver {
	return &IdentityResolver{directory: directory, logger: logger}
}

func (r *IdentityResolver) Resolve(ctx context.Context, claims *Claims, token string) (domain.Identity, error) {
	if r.directory == nil {
		return domain.Identity{
			UserID:       claims.Subject,
			Name:         claims.Name,
			Email:        claims.Email,
			IsActive:     true,
			WorkspaceIDs: claims.Workspaces,
		}, nil
	}

	info, err := r.directory.GetUserInfo(ctx, claims.Subject, token)
	if err != nil {
		r.logger.Warn("Directory lookup failed, continuing with degraded identity",
			zap.String("user_id", claims.Subject),
			zap.Error(err),
		)
		return domain.Identity{
			UserID:   claims.Subject,
			IsActive: true,
			Degraded: true,
		}, nil
	}

	if !info.IsActive {
		return domain.Identity{}, newAuthError(ReasonInactiveUser, nil)
	}

	name := info.Name
	if name == "" {
		name = claims.Name
	}
	email := info.Email
	if email == "" {
		email = claims.Email
	}
	return domain.Identity{
		UserID:       claims.Subject,
		Name:         name,
		Email:        email,
		IsActive:     true,
		WorkspaceIDs: info.WorkspaceIDs,
	}, nil
}

// IsWorkspaceMember checks membership against the directory. Memberships
// already known from the identity short-circuit the lookup. Without a
// reachable directory the join is allowed.
func (r *IdentityResolver) IsWorkspaceMember(ctx context.Context, identity domain.Identity, workspaceID, token string) bool {
	if identity.HasWorkspace(workspaceID) {
		return true
	}
	if r.directory == nil {
		return true
	}

	ok, err := r.directory.ValidateWorkspaceMember(ctx, workspaceID, identity.UserID, token)
	if err != nil {
		r.logger.Warn("Workspace membership check failed, allowing join",
			zap.String("user_id", identity.UserID),
			zap.String("workspace_id", workspaceID),
			zap.Error(err),
		)
		return true
	}
	return ok
}
