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

func newAttendanceFixture(online bool) (*AttendanceService, *fakeStore, *fakeQueue) {
	store := newFakeStore()
	queue := newFakeQueue()
	svc := NewAttendanceService(store, queue, remotetest.NewMemory(), connectivity.Static(online), nil, nil)
	return svc, store, queue
}

func mark(studentID, date, value string) MarkAttendanceRequest {
	return MarkAttendanceRequest{
		SchoolID:  "school-1",
		StudentID: studentID,
		ClassName: "JSS1",
		Date:      date,
		Mark:      value,
	}
}

func TestAttendanceMark(t *testing.T) {
	svc, store, queue := newAttendanceFixture(false)

	att, err := svc.Mark(context.Background(), mark("s1", "2026-08-28", models.AttendancePresent))
	require.NoError(t, err)
	assert.Equal(t, models.AttendancePresent, att.Mark)
	assert.Equal(t, models.SyncStatusPending, att.SyncStatus)
	assert.Equal(t, 1, store.count(models.CollectionAttendance))
	assert.Equal(t, 1, queue.depth())
}

func TestAttendanceMarkRejectsUnknownValue(t *testing.T) {
	svc, _, queue := newAttendanceFixture(false)

	_, err := svc.Mark(context.Background(), mark("s1", "2026-08-28", "sleeping"))
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	assert.Zero(t, queue.depth())
}

func TestAttendanceRemarkSameDayReplaces(t *testing.T) {
	svc, store, queue := newAttendanceFixture(false)
	ctx := context.Background()

	first, err := svc.Mark(ctx, mark("s1", "2026-08-28", models.AttendanceAbsent))
	require.NoError(t, err)
	second, err := svc.Mark(ctx, mark("s1", "2026-08-28", models.AttendanceLate))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, store.count(models.CollectionAttendance))
	assert.Equal(t, 2, queue.depth())

	entry := queue.last()
	require.NotNil(t, entry)
	assert.Equal(t, models.SyncOpUpdate, entry.Operation)

	// A different day is a fresh record.
	third, err := svc.Mark(ctx, mark("s1", "2026-08-29", models.AttendancePresent))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
	assert.Equal(t, 2, store.count(models.CollectionAttendance))
}

func TestAttendanceBulkMarkIsolatesBadRows(t *testing.T) {
	svc, store, _ := newAttendanceFixture(false)

	result, err := svc.BulkMark(context.Background(), []MarkAttendanceRequest{
		mark("s1", "2026-08-28", models.AttendancePresent),
		mark("s2", "2026-08-28", "invalid"),
		mark("s3", "2026-08-28", models.AttendanceExcused),
	})
	require.NoError(t, err)
	assert.Len(t, result.Marked, 2)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 2, result.Errors[0].Row)
	assert.Equal(t, 2, store.count(models.CollectionAttendance))
}

func TestAttendanceListAndStudentHistory(t *testing.T) {
	svc, _, _ := newAttendanceFixture(false)
	ctx := context.Background()

	_, err := svc.Mark(ctx, mark("s1", "2026-08-27", models.AttendancePresent))
	require.NoError(t, err)
	_, err = svc.Mark(ctx, mark("s1", "2026-08-28", models.AttendanceAbsent))
	require.NoError(t, err)
	_, err = svc.Mark(ctx, mark("s2", "2026-08-28", models.AttendancePresent))
	require.NoError(t, err)

	absents, err := svc.List(ctx, "school-1", models.AttendanceFilter{Mark: models.AttendanceAbsent})
	require.NoError(t, err)
	require.Len(t, absents, 1)
	assert.Equal(t, "s1", absents[0].StudentID)

	history, err := svc.ForStudent(ctx, "s1", models.AttendanceFilter{})
	require.NoError(t, err)
	assert.Len(t, history, 2)

	ranged, err := svc.ForStudent(ctx, "s1", models.AttendanceFilter{DateFrom: "2026-08-28"})
	require.NoError(t, err)
	assert.Len(t, ranged, 1)
}
