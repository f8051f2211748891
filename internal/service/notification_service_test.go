package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-offline-core/internal/connectivity"
	"github.com/noah-isme/sma-offline-core/internal/models"
	"github.com/noah-isme/sma-offline-core/internal/remotetest"
	appErrors "github.com/noah-isme/sma-offline-core/pkg/errors"
)

func newNotificationFixture() (*NotificationService, *fakeQueue) {
	queue := newFakeQueue()
	svc := NewNotificationService(newFakeStore(), queue, remotetest.NewMemory(), connectivity.Static(false), nil, nil)
	return svc, queue
}

func notify(recipient, title string) CreateNotificationRequest {
	return CreateNotificationRequest{
		SchoolID:    "school-1",
		RecipientID: recipient,
		Title:       title,
		Body:        "body of " + title,
		Kind:        "fee_reminder",
	}
}

func TestNotificationCreateAndList(t *testing.T) {
	svc, queue := newNotificationFixture()
	ctx := context.Background()

	created, err := svc.Create(ctx, notify("u1", "Fees due"))
	require.NoError(t, err)
	assert.False(t, created.Read)
	assert.Equal(t, 1, queue.depth())

	list, err := svc.List(ctx, "school-1", models.NotificationFilter{RecipientID: "u1"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Fees due", list[0].Title)
}

func TestNotificationMarkRead(t *testing.T) {
	svc, _ := newNotificationFixture()
	ctx := context.Background()

	created, err := svc.Create(ctx, notify("u1", "Fees due"))
	require.NoError(t, err)

	read, err := svc.MarkRead(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, read.Read)
	require.NotNil(t, read.ReadAt)

	// Marking again is a no-op with the original timestamp.
	again, err := svc.MarkRead(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, read.ReadAt.Unix(), again.ReadAt.Unix())

	_, err = svc.MarkRead(ctx, "ghost")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestNotificationUnreadCountAndMarkAll(t *testing.T) {
	svc, _ := newNotificationFixture()
	ctx := context.Background()

	_, err := svc.Create(ctx, notify("u1", "First"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, notify("u1", "Second"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, notify("u2", "Other recipient"))
	require.NoError(t, err)

	count, err := svc.UnreadCount(ctx, "school-1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	marked, err := svc.MarkAllRead(ctx, "school-1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, marked)

	count, err = svc.UnreadCount(ctx, "school-1", "u1")
	require.NoError(t, err)
	assert.Zero(t, count)

	// The other recipient's unread state is untouched.
	count, err = svc.UnreadCount(ctx, "school-1", "u2")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNotificationDelete(t *testing.T) {
	svc, queue := newNotificationFixture()
	ctx := context.Background()

	created, err := svc.Create(ctx, notify("u1", "Fees due"))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, created.ID))
	entry := queue.last()
	require.NotNil(t, entry)
	assert.Equal(t, models.SyncOpDelete, entry.Operation)

	list, err := svc.List(ctx, "school-1", models.NotificationFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}
