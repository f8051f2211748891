package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-offline-core/internal/connectivity"
	"github.com/noah-isme/sma-offline-core/internal/localstore"
	"github.com/noah-isme/sma-offline-core/internal/models"
	"github.com/noah-isme/sma-offline-core/internal/remote"
	appErrors "github.com/noah-isme/sma-offline-core/pkg/errors"
)

// CreateStudentRequest holds payload for registering students.
type CreateStudentRequest struct {
	SchoolID        string `json:"school_id" validate:"required"`
	AdmissionNumber string `json:"admission_number" validate:"required"`
	FullName        string `json:"full_name" validate:"required"`
	Gender          string `json:"gender" validate:"required,oneof=M F"`
	DateOfBirth     string `json:"date_of_birth" validate:"omitempty,datetime=2006-01-02"`
	ClassName       string `json:"class_name" validate:"required"`
	GuardianName    string `json:"guardian_name"`
	GuardianPhone   string `json:"guardian_phone" validate:"omitempty,e164"`
	Address         string `json:"address"`
}

// UpdateStudentRequest holds the patch for an existing student. Nil
// fields are left untouched.
type UpdateStudentRequest struct {
	AdmissionNumber *string `json:"admission_number" validate:"omitempty,min=1"`
	FullName        *string `json:"full_name" validate:"omitempty,min=1"`
	Gender          *string `json:"gender" validate:"omitempty,oneof=M F"`
	DateOfBirth     *string `json:"date_of_birth" validate:"omitempty,datetime=2006-01-02"`
	ClassName       *string `json:"class_name" validate:"omitempty,min=1"`
	GuardianName    *string `json:"guardian_name"`
	GuardianPhone   *string `json:"guardian_phone" validate:"omitempty,e164"`
	Address         *string `json:"address"`
	Active          *bool   `json:"active"`
}

// ImportRowError reports one rejected row of a bulk import.
type ImportRowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// ImportResult summarises a bulk import: valid rows succeed independently
// of invalid ones.
type ImportResult struct {
	Created []models.Student `json:"created"`
	Errors  []ImportRowError `json:"errors"`
}

// StudentService handles student use-cases with local-first semantics.
type StudentService struct {
	base
	validator *validator.Validate
}

// NewStudentService constructs the student service.
func NewStudentService(store recordStore, queue mutationQueue, remoteStore remote.Store, conn connectivity.Provider, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	return &StudentService{
		base:      newBase(store, queue, remoteStore, conn, logger),
		validator: validate,
	}
}

// List returns the school's students. The local by-school index answers
// first; when online, the remote result replaces it and refreshes the
// local store. A remote failure silently falls back to the local answer.
func (s *StudentService) List(ctx context.Context, schoolID string, filter models.StudentFilter) ([]models.Student, error) {
	envs, err := s.store.GetAllByIndex(ctx, models.CollectionStudents, models.IndexBySchool, schoolID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	local := make([]models.Student, 0, len(envs))
	for _, env := range envs {
		var st models.Student
		if err := json.Unmarshal(env.Data, &st); err != nil {
			s.logger.Warn("skipping undecodable student record", zap.String("id", env.ID), zap.Error(err))
			continue
		}
		st.SyncStatus = env.SyncStatus
		if filter.Matches(st) {
			local = append(local, st)
		}
	}

	if !s.conn.Online() {
		return local, nil
	}

	rctx, cancel := s.remoteCtx(ctx)
	defer cancel()
	records, err := s.remote.Select(rctx, models.CollectionStudents, schoolID, studentRemoteFilter(filter))
	if err != nil {
		s.logger.Debug("remote student list failed, serving local", zap.Error(err))
		return local, nil
	}

	out := make([]models.Student, 0, len(records))
	for _, rec := range records {
		var st models.Student
		if err := json.Unmarshal(rec.Data, &st); err != nil {
			s.logger.Warn("skipping undecodable remote student", zap.String("id", rec.ID), zap.Error(err))
			continue
		}
		st.SyncStatus = models.SyncStatusSynced
		if env, err := studentEnvelope(st); err == nil {
			s.refreshLocal(ctx, env)
		}
		out = append(out, st)
	}
	return out, nil
}

// Get returns one student, local first, refreshing from the remote store
// when online. NotFound only when both sides miss.
func (s *StudentService) Get(ctx context.Context, schoolID, id string) (*models.Student, error) {
	env, err := s.store.Get(ctx, models.CollectionStudents, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if env != nil {
		var st models.Student
		if err := json.Unmarshal(env.Data, &st); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "corrupt student record")
		}
		st.SyncStatus = env.SyncStatus
		return &st, nil
	}

	if !s.conn.Online() {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}

	rctx, cancel := s.remoteCtx(ctx)
	defer cancel()
	records, err := s.remote.Select(rctx, models.CollectionStudents, schoolID, remote.Filter{Eq: map[string]string{"id": id}})
	if err != nil || len(records) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}
	var st models.Student
	if err := json.Unmarshal(records[0].Data, &st); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "corrupt remote student record")
	}
	st.SyncStatus = models.SyncStatusSynced
	if refreshed, err := studentEnvelope(st); err == nil {
		s.refreshLocal(ctx, refreshed)
	}
	return &st, nil
}

// Create registers a student: local write and queue entry always, remote
// write only as a best-effort when online.
func (s *StudentService) Create(ctx context.Context, req CreateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}

	now := nowUTC()
	student := models.Student{
		ID:              uuid.NewString(),
		SchoolID:        req.SchoolID,
		AdmissionNumber: req.AdmissionNumber,
		FullName:        req.FullName,
		Gender:          req.Gender,
		DateOfBirth:     req.DateOfBirth,
		ClassName:       req.ClassName,
		GuardianName:    req.GuardianName,
		GuardianPhone:   req.GuardianPhone,
		Address:         req.Address,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
		SyncStatus:      models.SyncStatusPending,
	}

	env, err := studentEnvelope(student)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "encode student")
	}
	synced, err := s.writeThrough(ctx, models.CollectionStudents, env, models.SyncOpCreate)
	if err != nil {
		return nil, err
	}
	if synced {
		student.SyncStatus = models.SyncStatusSynced
	}
	return &student, nil
}

// Update merges the patch into the existing local record. A missing
// record is an error: update requires something to update.
func (s *StudentService) Update(ctx context.Context, id string, req UpdateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student patch")
	}

	env, err := s.store.Get(ctx, models.CollectionStudents, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if env == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}
	var student models.Student
	if err := json.Unmarshal(env.Data, &student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "corrupt student record")
	}

	applyString(&student.AdmissionNumber, req.AdmissionNumber)
	applyString(&student.FullName, req.FullName)
	applyString(&student.Gender, req.Gender)
	applyString(&student.DateOfBirth, req.DateOfBirth)
	applyString(&student.ClassName, req.ClassName)
	applyString(&student.GuardianName, req.GuardianName)
	applyString(&student.GuardianPhone, req.GuardianPhone)
	applyString(&student.Address, req.Address)
	if req.Active != nil {
		student.Active = *req.Active
	}
	student.UpdatedAt = nowUTC()
	student.SyncStatus = models.SyncStatusPending

	updated, err := studentEnvelope(student)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "encode student")
	}
	synced, err := s.writeThrough(ctx, models.CollectionStudents, updated, models.SyncOpUpdate)
	if err != nil {
		return nil, err
	}
	if synced {
		student.SyncStatus = models.SyncStatusSynced
	}
	return &student, nil
}

// Delete removes the student locally and queues the remote delete.
func (s *StudentService) Delete(ctx context.Context, id string) error {
	env, err := s.store.Get(ctx, models.CollectionStudents, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if env == nil {
		return appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}
	return s.deleteThrough(ctx, models.CollectionStudents, id, env.Data)
}

// BulkImport registers many students at once. Invalid rows are reported
// with their position and do not abort the batch; every valid row is
// independently durable the moment its create returns.
func (s *StudentService) BulkImport(ctx context.Context, schoolID string, rows []CreateStudentRequest) (*ImportResult, error) {
	result := &ImportResult{}
	for i, row := range rows {
		row.SchoolID = schoolID
		student, err := s.Create(ctx, row)
		if err != nil {
			if appErrors.Is(err, appErrors.ErrQueueWrite) {
				// Local durability is gone; continuing would silently
				// lose the rest of the batch too.
				return result, err
			}
			result.Errors = append(result.Errors, ImportRowError{
				Row:     i + 1,
				Message: fmt.Sprintf("row %d: %v", i+1, err),
			})
			continue
		}
		result.Created = append(result.Created, *student)
	}
	return result, nil
}

func applyString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func studentRemoteFilter(filter models.StudentFilter) remote.Filter {
	f := remote.Filter{Eq: map[string]string{}}
	if filter.ClassName != "" {
		f.Eq["class_name"] = filter.ClassName
	}
	if filter.Active != nil {
		f.Eq["active"] = strconv.FormatBool(*filter.Active)
	}
	if filter.Search != "" {
		f.Search = filter.Search
		f.SearchFields = []string{"full_name", "admission_number"}
	}
	return f
}

func studentEnvelope(st models.Student) (localstore.Envelope, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return localstore.Envelope{}, err
	}
	return localstore.Envelope{
		Collection: models.CollectionStudents,
		ID:         st.ID,
		SchoolID:   st.SchoolID,
		SyncStatus: st.SyncStatus,
		Data:       data,
		CreatedAt:  st.CreatedAt,
		UpdatedAt:  st.UpdatedAt,
	}, nil
}
