package audience

import (
	"context"
)

// Service handles following creators.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Follow subscribes followerID to creatorID's updates. Returns
// ErrCannotFollowSelf or ErrAlreadyFollowing.
func (s *Service) Follow(ctx context.Context, followerID, creatorID int64) error {
	if followerID == creatorID {
		return ErrCannotFollowSelf
	}
	return s.repo.Follow(ctx, followerID, creatorID)
}

// Unfollow returns ErrNotFollowing if there was nothing to remove.
func (s *Service) Unfollow(ctx context.Context, followerID, creatorID int64) error {
	return s.repo.Unfollow(ctx, followerID, creatorID)
}

func (s *Service) Followers(ctx context.Context, creatorID int64) ([]int64, error) {
	return s.repo.Followers(ctx, creatorID)
}
