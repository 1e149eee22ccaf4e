package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"marketplace/internal/database"
	"marketplace/internal/feed"
)

type mockAudience struct {
	mock.Mock
}

func (m *mockAudience) Followers(ctx context.Context, creatorID int64) ([]int64, error) {
	args := m.Called(ctx, creatorID)
	ids, _ := args.Get(0).([]int64)
	return ids, args.Error(1)
}

func (m *mockAudience) MembersAmong(ctx context.Context, groupID int64, candidates []int64) (map[int64]bool, error) {
	args := m.Called(ctx, groupID, candidates)
	set, _ := args.Get(0).(map[int64]bool)
	return set, args.Error(1)
}

type mockPusher struct {
	mock.Mock
}

func (m *mockPusher) Push(ctx context.Context, n *Notification) error {
	return m.Called(ctx, n).Error(0)
}

// failingRepo fails every write.
type failingRepo struct {
	Repository
}

func (failingRepo) Create(context.Context, *Notification) error        { return errors.New("db down") }
func (failingRepo) CreateBatch(context.Context, []*Notification) error { return errors.New("db down") }

func setupRepo(t *testing.T) (Repository, *feed.Broker) {
	t.Helper()
	db, err := database.Memory("notification_" + t.Name())
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(Models()...))
	log, _ := test.NewNullLogger()
	broker := feed.NewBroker()
	return NewRepository(db, broker, log), broker
}

func TestNotify_PersistsAndPushes(t *testing.T) {
	repo, broker := setupRepo(t)
	ctx := context.Background()
	log, _ := test.NewNullLogger()

	var got []feed.Event
	sub, _ := broker.Subscribe(ctx, feed.Filter{Tables: []string{feed.TableNotifications}}, func(e feed.Event) { got = append(got, e) })
	defer sub.Unsubscribe()

	pusher := new(mockPusher)
	pusher.On("Push", mock.Anything, mock.MatchedBy(func(n *Notification) bool { return n.UserID == 5 })).Return(errors.New("broker offline"))

	d := NewDispatcher(repo, nil, pusher, log)
	assert.True(t, d.RequestCreated(ctx, 5, 42, "Private yoga"))

	list, total, err := repo.List(ctx, 5, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, TypeRequest, list[0].Type)
	require.NotNil(t, list[0].RelatedID)
	assert.Equal(t, int64(42), *list[0].RelatedID)
	assert.Equal(t, "Private yoga", list[0].GetPayload().Service)
	assert.False(t, list[0].IsRead)

	require.Len(t, got, 1)
	assert.Equal(t, []int64{5}, got[0].UserIDs)
	pusher.AssertExpectations(t)
}

func TestNotify_FailureIsSwallowed(t *testing.T) {
	log, hook := test.NewNullLogger()
	d := NewDispatcher(failingRepo{}, nil, nil, log)

	assert.False(t, d.PaymentReceived(context.Background(), 1, 2, "Camera", 18, "tx-1"))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestBroadcastUpdate_PublicReachesAllFollowers(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()
	log, _ := test.NewNullLogger()

	aud := new(mockAudience)
	aud.On("Followers", mock.Anything, int64(1)).Return([]int64{2, 3, 4}, nil)

	d := NewDispatcher(repo, aud, nil, log)
	assert.Equal(t, 3, d.BroadcastUpdate(ctx, 1, Update{Title: "New class", Message: "Sunday session"}))

	for _, id := range []int64{2, 3, 4} {
		n, err := repo.CountUnreadByType(ctx, id, TypeUpdate)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	}
	aud.AssertNotCalled(t, "MembersAmong", mock.Anything, mock.Anything, mock.Anything)
}

func TestBroadcastUpdate_PrivateFiltersToMembers(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()
	log, _ := test.NewNullLogger()
	group := int64(9)

	aud := new(mockAudience)
	aud.On("Followers", mock.Anything, int64(1)).Return([]int64{2, 3, 4}, nil)
	aud.On("MembersAmong", mock.Anything, group, []int64{2, 3, 4}).Return(map[int64]bool{3: true}, nil).Once()

	d := NewDispatcher(repo, aud, nil, log)
	assert.Equal(t, 1, d.BroadcastUpdate(ctx, 1, Update{Title: "Members only", GroupID: &group, Private: true}))

	n, err := repo.CountUnread(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = repo.CountUnread(ctx, 2)
	require.NoError(t, err)
	assert.Zero(t, n)
	aud.AssertExpectations(t)
}

func TestBroadcastUpdate_MembershipErrorExcludesEveryone(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()
	log, _ := test.NewNullLogger()
	group := int64(9)

	aud := new(mockAudience)
	aud.On("Followers", mock.Anything, int64(1)).Return([]int64{2, 3}, nil)
	aud.On("MembersAmong", mock.Anything, group, mock.Anything).Return(nil, errors.New("timeout"))

	d := NewDispatcher(repo, aud, nil, log)
	assert.Zero(t, d.BroadcastUpdate(ctx, 1, Update{Title: "x", GroupID: &group, Private: true}))

	for _, id := range []int64{2, 3} {
		n, err := repo.CountUnread(ctx, id)
		require.NoError(t, err)
		assert.Zero(t, n)
	}
}

func TestRepository_ReadFlags(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &Notification{UserID: 1, Type: TypeResponse, Title: "a"}))
	require.NoError(t, repo.Create(ctx, &Notification{UserID: 1, Type: TypeResponse, Title: "b"}))
	require.NoError(t, repo.Create(ctx, &Notification{UserID: 1, Type: TypeRequest, Title: "c"}))

	n, err := repo.MarkTypeRead(ctx, 1, TypeResponse)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	unread, err := repo.CountUnread(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)

	list, _, err := repo.List(ctx, 1, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.ErrorContains(t, repo.MarkAsRead(ctx, list[0].ID, 2), "not found")
	require.NoError(t, repo.MarkAsRead(ctx, list[0].ID, 1))

	all, err := repo.MarkAllAsRead(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, all)
}

func TestCleaner_RunOnce(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()
	log, _ := test.NewNullLogger()

	require.NoError(t, repo.Create(ctx, &Notification{UserID: 1, Type: TypeRequest, Title: "old", CreatedAt: time.Now().AddDate(0, 0, -100)}))
	require.NoError(t, repo.Create(ctx, &Notification{UserID: 1, Type: TypeRequest, Title: "new"}))

	deleted, err := NewCleaner(repo, log).RunOnce(ctx, 90)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, total, err := repo.List(ctx, 1, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}
