package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"realtime-service/internal/client"
)

// directoryUser and directoryMember map the user service's tables. This
// service only reads them.
type directoryUser struct {
	ID        string `gorm:"primaryKey"`
	Email     string
	Name      string
	IsActive  bool
	DeletedAt *time.Time
}

func (directoryUser) TableName() string {
	return "users"
}

type directoryMember struct {
	WorkspaceID string
	UserID      string
	IsActive    bool
}

func (directoryMember) TableName() string {
	return "workspace_members"
}

// DirectoryRepository answers directory lookups straight from the user
// database. It satisfies client.UserClient; the token argument is unused.
type DirectoryRepository struct {
	db *gorm.DB
}

func NewDirectoryRepository(db *gorm.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

var _ client.UserClient = (*DirectoryRepository)(nil)

func (r *DirectoryRepository) GetUserInfo(ctx context.Context, userID, _ string) (*client.UserInfo, error) {
	var user directoryUser
	err := r.db.WithContext(ctx).
		Where("id = ? AND deleted_at IS NULL", userID).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, client.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	var workspaceIDs []string
	if err := r.db.WithContext(ctx).
		Model(&directoryMember{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("workspace_id").
		Pluck("workspace_id", &workspaceIDs).Error; err != nil {
		return nil, err
	}

	return &client.UserInfo{
		UserID:       user.ID,
		Email:        user.Email,
		Name:         user.Name,
		IsActive:     user.IsActive,
		WorkspaceIDs: workspaceIDs,
	}, nil
}

func (r *DirectoryRepository) ValidateWorkspaceMember(ctx context.Context, workspaceID, userID, _ string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&directoryMember{}).
		Where("workspace_id = ? AND user_id = ? AND is_active = ?", workspaceID, userID, true).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
