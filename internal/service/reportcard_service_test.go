package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-offline-core/internal/connectivity"
	"github.com/noah-isme/sma-offline-core/internal/models"
	"github.com/noah-isme/sma-offline-core/internal/remotetest"
	appErrors "github.com/noah-isme/sma-offline-core/pkg/errors"
)

func newReportCardFixture() (*ReportCardService, *fakeStore) {
	store := newFakeStore()
	svc := NewReportCardService(store, newFakeQueue(), remotetest.NewMemory(), connectivity.Static(false), nil, nil)
	return svc, store
}

func cardFor(studentID string, average float64) CreateReportCardRequest {
	return CreateReportCardRequest{
		SchoolID:  "school-1",
		StudentID: studentID,
		ClassName: "JSS1",
		Term:      "2026-T1",
		Scores: []models.SubjectScore{
			{Subject: "Mathematics", Score: average},
			{Subject: "English", Score: average},
		},
	}
}

func TestReportCardCreateComputesTotals(t *testing.T) {
	svc, _ := newReportCardFixture()

	rc, err := svc.Create(context.Background(), CreateReportCardRequest{
		SchoolID:  "school-1",
		StudentID: "s1",
		ClassName: "JSS1",
		Term:      "2026-T1",
		Scores: []models.SubjectScore{
			{Subject: "Mathematics", Score: 80},
			{Subject: "English", Score: 70},
			{Subject: "Science", Score: 90},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 240.0, rc.Total)
	assert.InDelta(t, 80.0, rc.Average, 0.001)
	assert.Zero(t, rc.Position)
}

func TestReportCardGetFallsBackToRemote(t *testing.T) {
	store := newFakeStore()
	backend := remotetest.NewMemory()
	svc := NewReportCardService(store, newFakeQueue(), backend, connectivity.Static(true), nil, nil)
	ctx := context.Background()

	rc := models.ReportCard{
		ID:        "rc-remote",
		SchoolID:  "school-1",
		StudentID: "s1",
		ClassName: "JSS1",
		Term:      "2026-T1",
		Scores:    []models.SubjectScore{{Subject: "Mathematics", Score: 80}},
		Total:     80,
		Average:   80,
	}
	data, err := json.Marshal(rc)
	require.NoError(t, err)
	backend.Seed(models.CollectionReportCards, remoteRecord("rc-remote", "school-1", data))

	got, err := svc.Get(ctx, "school-1", "rc-remote")
	require.NoError(t, err)
	assert.Equal(t, 80.0, got.Total)
	assert.Equal(t, models.SyncStatusSynced, got.SyncStatus)

	env, err := store.Get(ctx, models.CollectionReportCards, "rc-remote")
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Equal(t, models.SyncStatusSynced, env.SyncStatus)

	_, err = svc.Get(ctx, "school-1", "ghost")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestReportCardCreateRequiresScores(t *testing.T) {
	svc, _ := newReportCardFixture()

	_, err := svc.Create(context.Background(), CreateReportCardRequest{
		SchoolID:  "school-1",
		StudentID: "s1",
		ClassName: "JSS1",
		Term:      "2026-T1",
	})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestComputePositionsSharesTies(t *testing.T) {
	svc, _ := newReportCardFixture()
	ctx := context.Background()

	_, err := svc.Create(ctx, cardFor("s1", 90))
	require.NoError(t, err)
	_, err = svc.Create(ctx, cardFor("s2", 90))
	require.NoError(t, err)
	_, err = svc.Create(ctx, cardFor("s3", 75))
	require.NoError(t, err)

	ranked, err := svc.ComputePositions(ctx, "school-1", "JSS1", "2026-T1")
	require.NoError(t, err)
	require.Len(t, ranked, 3)

	// Two students tied on 90 share position 1; the next takes 3.
	assert.Equal(t, 1, ranked[0].Position)
	assert.Equal(t, 1, ranked[1].Position)
	assert.Equal(t, 3, ranked[2].Position)
	assert.Equal(t, "s3", ranked[2].StudentID)
	for _, rc := range ranked {
		assert.Equal(t, 3, rc.ClassSize)
	}
}

func TestComputePositionsScopesClassAndTerm(t *testing.T) {
	svc, _ := newReportCardFixture()
	ctx := context.Background()

	_, err := svc.Create(ctx, cardFor("s1", 80))
	require.NoError(t, err)
	other := cardFor("s2", 95)
	other.ClassName = "JSS2"
	_, err = svc.Create(ctx, other)
	require.NoError(t, err)

	ranked, err := svc.ComputePositions(ctx, "school-1", "JSS1", "2026-T1")
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Equal(t, "s1", ranked[0].StudentID)

	_, err = svc.ComputePositions(ctx, "school-1", "JSS3", "2026-T1")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestRecordScoreReplacesSameSubject(t *testing.T) {
	svc, store := newReportCardFixture()
	ctx := context.Background()

	score := RecordScoreRequest{
		SchoolID:  "school-1",
		StudentID: "s1",
		ClassName: "JSS1",
		Term:      "2026-T1",
		Subject:   "Mathematics",
		Score:     60,
		MaxScore:  100,
	}
	first, err := svc.RecordScore(ctx, score)
	require.NoError(t, err)

	score.Score = 75
	second, err := svc.RecordScore(ctx, score)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 75.0, second.Score)
	assert.Equal(t, 1, store.count(models.CollectionExams))

	score.Subject = "English"
	third, err := svc.RecordScore(ctx, score)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
	assert.Equal(t, 2, store.count(models.CollectionExams))
}

func TestRecordScoreRejectsOverMax(t *testing.T) {
	svc, _ := newReportCardFixture()

	_, err := svc.RecordScore(context.Background(), RecordScoreRequest{
		SchoolID:  "school-1",
		StudentID: "s1",
		ClassName: "JSS1",
		Term:      "2026-T1",
		Subject:   "Mathematics",
		Score:     120,
		MaxScore:  100,
	})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestExamsForFilters(t *testing.T) {
	svc, _ := newReportCardFixture()
	ctx := context.Background()

	base := RecordScoreRequest{
		SchoolID:  "school-1",
		StudentID: "s1",
		ClassName: "JSS1",
		Term:      "2026-T1",
		Subject:   "Mathematics",
		Score:     60,
		MaxScore:  100,
	}
	_, err := svc.RecordScore(ctx, base)
	require.NoError(t, err)
	base.Subject = "English"
	_, err = svc.RecordScore(ctx, base)
	require.NoError(t, err)

	math, err := svc.ExamsFor(ctx, "s1", models.ExamFilter{Subject: "Mathematics"})
	require.NoError(t, err)
	require.Len(t, math, 1)
	assert.Equal(t, "Mathematics", math[0].Subject)

	all, err := svc.ExamsFor(ctx, "s1", models.ExamFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
