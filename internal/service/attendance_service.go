package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-offline-core/internal/connectivity"
	"github.com/noah-isme/sma-offline-core/internal/localstore"
	"github.com/noah-isme/sma-offline-core/internal/models"
	"github.com/noah-isme/sma-offline-core/internal/remote"
	appErrors "github.com/noah-isme/sma-offline-core/pkg/errors"
)

// MarkAttendanceRequest records one student's mark for one day. Marking
// the same student and date twice replaces the earlier mark.
type MarkAttendanceRequest struct {
	SchoolID  string `json:"school_id" validate:"required"`
	StudentID string `json:"student_id" validate:"required"`
	ClassName string `json:"class_name" validate:"required"`
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	Mark      string `json:"mark" validate:"required,oneof=present absent late excused"`
	Note      string `json:"note"`
	MarkedBy  string `json:"marked_by"`
}

// BulkMarkResult reports a whole-class register submission.
type BulkMarkResult struct {
	Marked []models.Attendance `json:"marked"`
	Errors []ImportRowError    `json:"errors"`
}

// AttendanceService handles the daily register.
type AttendanceService struct {
	base
	validator *validator.Validate
}

// NewAttendanceService constructs the attendance service.
func NewAttendanceService(store recordStore, queue mutationQueue, remoteStore remote.Store, conn connectivity.Provider, validate *validator.Validate, logger *zap.Logger) *AttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	return &AttendanceService{
		base:      newBase(store, queue, remoteStore, conn, logger),
		validator: validate,
	}
}

// List returns the register for a school, local-first.
func (s *AttendanceService) List(ctx context.Context, schoolID string, filter models.AttendanceFilter) ([]models.Attendance, error) {
	envs, err := s.store.GetAllByIndex(ctx, models.CollectionAttendance, models.IndexBySchool, schoolID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance")
	}
	local := make([]models.Attendance, 0, len(envs))
	for _, env := range envs {
		var att models.Attendance
		if err := json.Unmarshal(env.Data, &att); err != nil {
			s.logger.Warn("skipping undecodable attendance record", zap.String("id", env.ID), zap.Error(err))
			continue
		}
		att.SyncStatus = env.SyncStatus
		if filter.Matches(att) {
			local = append(local, att)
		}
	}

	if !s.conn.Online() {
		return local, nil
	}

	rctx, cancel := s.remoteCtx(ctx)
	defer cancel()
	records, err := s.remote.Select(rctx, models.CollectionAttendance, schoolID, attendanceRemoteFilter(filter))
	if err != nil {
		s.logger.Debug("remote attendance list failed, serving local", zap.Error(err))
		return local, nil
	}
	out := make([]models.Attendance, 0, len(records))
	for _, rec := range records {
		var att models.Attendance
		if err := json.Unmarshal(rec.Data, &att); err != nil {
			continue
		}
		att.SyncStatus = models.SyncStatusSynced
		if env, err := attendanceEnvelope(att); err == nil {
			s.refreshLocal(ctx, env)
		}
		out = append(out, att)
	}
	return out, nil
}

// ForStudent returns a student's attendance history from the by-student
// index.
func (s *AttendanceService) ForStudent(ctx context.Context, studentID string, filter models.AttendanceFilter) ([]models.Attendance, error) {
	envs, err := s.store.GetAllByIndex(ctx, models.CollectionAttendance, models.IndexByStudent, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance")
	}
	out := make([]models.Attendance, 0, len(envs))
	for _, env := range envs {
		var att models.Attendance
		if err := json.Unmarshal(env.Data, &att); err != nil {
			continue
		}
		att.SyncStatus = env.SyncStatus
		if filter.Matches(att) {
			out = append(out, att)
		}
	}
	return out, nil
}

// Mark records one attendance mark. A mark already present for the same
// student and date is replaced in place so the register stays one row per
// student per day.
func (s *AttendanceService) Mark(ctx context.Context, req MarkAttendanceRequest) (*models.Attendance, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance payload")
	}

	now := nowUTC()
	att := models.Attendance{
		ID:         uuid.NewString(),
		SchoolID:   req.SchoolID,
		StudentID:  req.StudentID,
		ClassName:  req.ClassName,
		Date:       req.Date,
		Mark:       req.Mark,
		Note:       req.Note,
		MarkedBy:   req.MarkedBy,
		CreatedAt:  now,
		UpdatedAt:  now,
		SyncStatus: models.SyncStatusPending,
	}
	op := models.SyncOpCreate

	if existing := s.findMark(ctx, req.StudentID, req.Date); existing != nil {
		att.ID = existing.ID
		att.CreatedAt = existing.CreatedAt
		op = models.SyncOpUpdate
	}

	env, err := attendanceEnvelope(att)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "encode attendance")
	}
	synced, err := s.writeThrough(ctx, models.CollectionAttendance, env, op)
	if err != nil {
		return nil, err
	}
	if synced {
		att.SyncStatus = models.SyncStatusSynced
	}
	return &att, nil
}

// BulkMark submits a whole-class register. Invalid rows are reported with
// their position and do not abort the batch.
func (s *AttendanceService) BulkMark(ctx context.Context, rows []MarkAttendanceRequest) (*BulkMarkResult, error) {
	result := &BulkMarkResult{}
	for i, row := range rows {
		att, err := s.Mark(ctx, row)
		if err != nil {
			if appErrors.Is(err, appErrors.ErrQueueWrite) {
				return result, err
			}
			result.Errors = append(result.Errors, ImportRowError{
				Row:     i + 1,
				Message: fmt.Sprintf("row %d: %v", i+1, err),
			})
			continue
		}
		result.Marked = append(result.Marked, *att)
	}
	return result, nil
}

// Delete removes one attendance mark.
func (s *AttendanceService) Delete(ctx context.Context, id string) error {
	env, err := s.store.Get(ctx, models.CollectionAttendance, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance")
	}
	if env == nil {
		return appErrors.Clone(appErrors.ErrNotFound, "attendance record not found")
	}
	return s.deleteThrough(ctx, models.CollectionAttendance, id, env.Data)
}

// findMark looks up an existing mark for a student and date so Mark can
// replace instead of duplicate.
func (s *AttendanceService) findMark(ctx context.Context, studentID, date string) *models.Attendance {
	envs, err := s.store.GetAllByIndex(ctx, models.CollectionAttendance, models.IndexByStudent, studentID)
	if err != nil {
		return nil
	}
	for _, env := range envs {
		var att models.Attendance
		if json.Unmarshal(env.Data, &att) != nil {
			continue
		}
		if att.Date == date {
			att.SyncStatus = env.SyncStatus
			return &att
		}
	}
	return nil
}

func attendanceRemoteFilter(filter models.AttendanceFilter) remote.Filter {
	f := remote.Filter{Eq: map[string]string{}}
	if filter.StudentID != "" {
		f.Eq["student_id"] = filter.StudentID
	}
	if filter.ClassName != "" {
		f.Eq["class_name"] = filter.ClassName
	}
	if filter.Mark != "" {
		f.Eq["mark"] = filter.Mark
	}
	if filter.DateFrom != "" || filter.DateTo != "" {
		f.DateField = "date"
		f.From = filter.DateFrom
		f.To = filter.DateTo
	}
	return f
}

func attendanceEnvelope(att models.Attendance) (localstore.Envelope, error) {
	data, err := json.Marshal(att)
	if err != nil {
		return localstore.Envelope{}, err
	}
	return localstore.Envelope{
		Collection: models.CollectionAttendance,
		ID:         att.ID,
		SchoolID:   att.SchoolID,
		StudentID:  att.StudentID,
		SyncStatus: att.SyncStatus,
		Data:       data,
		CreatedAt:  att.CreatedAt,
		UpdatedAt:  att.UpdatedAt,
	}, nil
}
