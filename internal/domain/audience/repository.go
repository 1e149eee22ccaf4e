package audience

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"marketplace/internal/pkg/apperr"
)

var (
	ErrAlreadyFollowing = errors.New("already following this creator")
	ErrNotFollowing     = errors.New("not following this creator")
	ErrCannotFollowSelf = errors.New("cannot follow yourself")
)

// Follow is a user subscribing to a creator's updates.
type Follow struct {
	ID         string    `gorm:"column:id;primaryKey"`
	FollowerID int64     `gorm:"column:follower_id;uniqueIndex:ux_follow_pair,priority:1"`
	CreatorID  int64     `gorm:"column:creator_id;uniqueIndex:ux_follow_pair,priority:2;index"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

func (Follow) TableName() string { return "follows" }

// GroupMember is membership in a private group.
type GroupMember struct {
	GroupID  int64     `gorm:"column:group_id;primaryKey"`
	UserID   int64     `gorm:"column:user_id;primaryKey"`
	JoinedAt time.Time `gorm:"column:joined_at"`
}

func (GroupMember) TableName() string { return "group_members" }

func Models() []any { return []any{&Follow{}, &GroupMember{}} }

type Repository interface {
	Follow(ctx context.Context, followerID, creatorID int64) error
	Unfollow(ctx context.Context, followerID, creatorID int64) error
	Followers(ctx context.Context, creatorID int64) ([]int64, error)
	// MembersAmong returns which of the candidates belong to the group, in
	// one query.
	MembersAmong(ctx context.Context, groupID int64, candidates []int64) (map[int64]bool, error)
	AddMember(ctx context.Context, groupID, userID int64) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Follow(ctx context.Context, followerID, creatorID int64) error {
	rel := &Follow{
		ID:         uuid.New().String(),
		FollowerID: followerID,
		CreatorID:  creatorID,
		CreatedAt:  time.Now(),
	}
	err := r.db.WithContext(ctx).Create(rel).Error
	if err != nil && apperr.IsUniqueViolation(err) {
		return ErrAlreadyFollowing
	}
	return err
}

func (r *repository) Unfollow(ctx context.Context, followerID, creatorID int64) error {
	result := r.db.WithContext(ctx).
		Where("follower_id = ? AND creator_id = ?", followerID, creatorID).
		Delete(&Follow{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFollowing
	}
	return nil
}

func (r *repository) Followers(ctx context.Context, creatorID int64) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&Follow{}).
		Where("creator_id = ?", creatorID).
		Order("follower_id").
		Pluck("follower_id", &ids).Error
	return ids, err
}

func (r *repository) MembersAmong(ctx context.Context, groupID int64, candidates []int64) (map[int64]bool, error) {
	out := make(map[int64]bool, len(candidates))
	if len(candidates) == 0 {
		return out, nil
	}
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&GroupMember{}).
		Where("group_id = ? AND user_id IN ?", groupID, candidates).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

func (r *repository) AddMember(ctx context.Context, groupID, userID int64) error {
	err := r.db.WithContext(ctx).Create(&GroupMember{GroupID: groupID, UserID: userID, JoinedAt: time.Now()}).Error
	if apperr.IsUniqueViolation(err) {
		return nil
	}
	return err
}
