package service

import (
	"context"
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-offline-core/internal/connectivity"
	"github.com/noah-isme/sma-offline-core/internal/localstore"
	"github.com/noah-isme/sma-offline-core/internal/models"
	"github.com/noah-isme/sma-offline-core/internal/remote"
	appErrors "github.com/noah-isme/sma-offline-core/pkg/errors"
)

// CreateParentRequest registers a guardian account.
type CreateParentRequest struct {
	SchoolID string `json:"school_id" validate:"required"`
	FullName string `json:"full_name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Phone    string `json:"phone" validate:"omitempty,e164"`
}

// UpdateParentRequest patches a parent account.
type UpdateParentRequest struct {
	FullName *string `json:"full_name" validate:"omitempty,min=1"`
	Email    *string `json:"email" validate:"omitempty,email"`
	Phone    *string `json:"phone" validate:"omitempty,e164"`
	Active   *bool   `json:"active"`
}

// ParentService handles guardian accounts and their student links.
type ParentService struct {
	base
	validator *validator.Validate
}

// NewParentService constructs the parent service.
func NewParentService(store recordStore, queue mutationQueue, remoteStore remote.Store, conn connectivity.Provider, validate *validator.Validate, logger *zap.Logger) *ParentService {
	if validate == nil {
		validate = validator.New()
	}
	return &ParentService{
		base:      newBase(store, queue, remoteStore, conn, logger),
		validator: validate,
	}
}

// List returns the school's parent accounts, local-first.
func (s *ParentService) List(ctx context.Context, schoolID string, filter models.ParentFilter) ([]models.ParentAccount, error) {
	envs, err := s.store.GetAllByIndex(ctx, models.CollectionParentAccounts, models.IndexBySchool, schoolID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list parents")
	}
	local := make([]models.ParentAccount, 0, len(envs))
	for _, env := range envs {
		var parent models.ParentAccount
		if err := json.Unmarshal(env.Data, &parent); err != nil {
			s.logger.Warn("skipping undecodable parent record", zap.String("id", env.ID), zap.Error(err))
			continue
		}
		parent.SyncStatus = env.SyncStatus
		if filter.Matches(parent) {
			local = append(local, parent)
		}
	}

	if !s.conn.Online() {
		return local, nil
	}

	rctx, cancel := s.remoteCtx(ctx)
	defer cancel()
	f := remote.Filter{Eq: map[string]string{}}
	if filter.Search != "" {
		f.Search = filter.Search
		f.SearchFields = []string{"full_name", "email", "phone"}
	}
	records, err := s.remote.Select(rctx, models.CollectionParentAccounts, schoolID, f)
	if err != nil {
		s.logger.Debug("remote parent list failed, serving local", zap.Error(err))
		return local, nil
	}
	out := make([]models.ParentAccount, 0, len(records))
	for _, rec := range records {
		var parent models.ParentAccount
		if err := json.Unmarshal(rec.Data, &parent); err != nil {
			continue
		}
		parent.SyncStatus = models.SyncStatusSynced
		if env, err := parentEnvelope(parent); err == nil {
			s.refreshLocal(ctx, env)
		}
		if filter.Matches(parent) {
			out = append(out, parent)
		}
	}
	return out, nil
}

// Get returns one parent account, local first, refreshing from the
// remote store when online. NotFound only when both sides miss.
func (s *ParentService) Get(ctx context.Context, schoolID, id string) (*models.ParentAccount, error) {
	parent, err := s.localParent(ctx, id)
	if err == nil {
		return parent, nil
	}
	if !appErrors.Is(err, appErrors.ErrNotFound) {
		return nil, err
	}

	if !s.conn.Online() {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "parent not found")
	}

	rctx, cancel := s.remoteCtx(ctx)
	defer cancel()
	records, rerr := s.remote.Select(rctx, models.CollectionParentAccounts, schoolID, remote.Filter{Eq: map[string]string{"id": id}})
	if rerr != nil || len(records) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "parent not found")
	}
	var fetched models.ParentAccount
	if err := json.Unmarshal(records[0].Data, &fetched); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "corrupt remote parent record")
	}
	fetched.SyncStatus = models.SyncStatusSynced
	if refreshed, err := parentEnvelope(fetched); err == nil {
		s.refreshLocal(ctx, refreshed)
	}
	return &fetched, nil
}

func (s *ParentService) localParent(ctx context.Context, id string) (*models.ParentAccount, error) {
	env, err := s.store.Get(ctx, models.CollectionParentAccounts, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load parent")
	}
	if env == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "parent not found")
	}
	var parent models.ParentAccount
	if err := json.Unmarshal(env.Data, &parent); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "corrupt parent record")
	}
	parent.SyncStatus = env.SyncStatus
	return &parent, nil
}

// Create registers a parent account.
func (s *ParentService) Create(ctx context.Context, req CreateParentRequest) (*models.ParentAccount, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid parent payload")
	}

	now := nowUTC()
	parent := models.ParentAccount{
		ID:         uuid.NewString(),
		SchoolID:   req.SchoolID,
		FullName:   req.FullName,
		Email:      req.Email,
		Phone:      req.Phone,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
		SyncStatus: models.SyncStatusPending,
	}
	env, err := parentEnvelope(parent)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "encode parent")
	}
	synced, err := s.writeThrough(ctx, models.CollectionParentAccounts, env, models.SyncOpCreate)
	if err != nil {
		return nil, err
	}
	if synced {
		parent.SyncStatus = models.SyncStatusSynced
	}
	return &parent, nil
}

// Update patches a parent account.
func (s *ParentService) Update(ctx context.Context, id string, req UpdateParentRequest) (*models.ParentAccount, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid parent patch")
	}

	parent, err := s.localParent(ctx, id)
	if err != nil {
		return nil, err
	}
	applyString(&parent.FullName, req.FullName)
	applyString(&parent.Email, req.Email)
	applyString(&parent.Phone, req.Phone)
	if req.Active != nil {
		parent.Active = *req.Active
	}
	parent.UpdatedAt = nowUTC()
	parent.SyncStatus = models.SyncStatusPending

	env, err := parentEnvelope(*parent)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "encode parent")
	}
	synced, err := s.writeThrough(ctx, models.CollectionParentAccounts, env, models.SyncOpUpdate)
	if err != nil {
		return nil, err
	}
	if synced {
		parent.SyncStatus = models.SyncStatusSynced
	}
	return parent, nil
}

// Delete removes a parent account together with its student links.
func (s *ParentService) Delete(ctx context.Context, id string) error {
	env, err := s.store.Get(ctx, models.CollectionParentAccounts, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load parent")
	}
	if env == nil {
		return appErrors.Clone(appErrors.ErrNotFound, "parent not found")
	}

	links, err := s.store.GetAllByIndex(ctx, models.CollectionParentStudentLinks, models.IndexByParent, id)
	if err == nil {
		for _, link := range links {
			if derr := s.deleteThrough(ctx, models.CollectionParentStudentLinks, link.ID, link.Data); derr != nil {
				s.logger.Warn("parent link cleanup failed", zap.String("link_id", link.ID), zap.Error(derr))
			}
		}
	}
	return s.deleteThrough(ctx, models.CollectionParentAccounts, id, env.Data)
}

// LinkStudent connects a parent to a student. Linking an already linked
// pair returns the existing link unchanged.
func (s *ParentService) LinkStudent(ctx context.Context, parentID, studentID, relation string) (*models.ParentStudentLink, error) {
	parent, err := s.localParent(ctx, parentID)
	if err != nil {
		return nil, err
	}
	studentEnv, err := s.store.Get(ctx, models.CollectionStudents, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if studentEnv == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}

	if existing := s.findLink(ctx, parentID, studentID); existing != nil {
		return existing, nil
	}

	now := nowUTC()
	link := models.ParentStudentLink{
		ID:         uuid.NewString(),
		SchoolID:   parent.SchoolID,
		ParentID:   parentID,
		StudentID:  studentID,
		Relation:   relation,
		CreatedAt:  now,
		UpdatedAt:  now,
		SyncStatus: models.SyncStatusPending,
	}
	env, err := linkEnvelope(link)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "encode link")
	}
	synced, err := s.writeThrough(ctx, models.CollectionParentStudentLinks, env, models.SyncOpCreate)
	if err != nil {
		return nil, err
	}
	if synced {
		link.SyncStatus = models.SyncStatusSynced
	}
	return &link, nil
}

// UnlinkStudent removes the link between a parent and a student.
func (s *ParentService) UnlinkStudent(ctx context.Context, parentID, studentID string) error {
	link := s.findLink(ctx, parentID, studentID)
	if link == nil {
		return appErrors.Clone(appErrors.ErrNotFound, "link not found")
	}
	env, err := s.store.Get(ctx, models.CollectionParentStudentLinks, link.ID)
	if err != nil || env == nil {
		return appErrors.Clone(appErrors.ErrNotFound, "link not found")
	}
	return s.deleteThrough(ctx, models.CollectionParentStudentLinks, link.ID, env.Data)
}

// StudentsOf returns the students reachable from a parent account as a
// denormalized view assembled from the local store.
func (s *ParentService) StudentsOf(ctx context.Context, parentID string) ([]models.LinkedStudent, error) {
	envs, err := s.store.GetAllByIndex(ctx, models.CollectionParentStudentLinks, models.IndexByParent, parentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list links")
	}
	out := make([]models.LinkedStudent, 0, len(envs))
	for _, env := range envs {
		var link models.ParentStudentLink
		if json.Unmarshal(env.Data, &link) != nil {
			continue
		}
		ls := models.LinkedStudent{
			LinkID:    link.ID,
			StudentID: link.StudentID,
			Relation:  link.Relation,
		}
		if stEnv, err := s.store.Get(ctx, models.CollectionStudents, link.StudentID); err == nil && stEnv != nil {
			var st models.Student
			if json.Unmarshal(stEnv.Data, &st) == nil {
				ls.FullName = st.FullName
				ls.AdmissionNumber = st.AdmissionNumber
				ls.ClassName = st.ClassName
			}
		}
		out = append(out, ls)
	}
	return out, nil
}

func (s *ParentService) findLink(ctx context.Context, parentID, studentID string) *models.ParentStudentLink {
	envs, err := s.store.GetAllByIndex(ctx, models.CollectionParentStudentLinks, models.IndexByParent, parentID)
	if err != nil {
		return nil
	}
	for _, env := range envs {
		var link models.ParentStudentLink
		if json.Unmarshal(env.Data, &link) != nil {
			continue
		}
		if link.StudentID == studentID {
			link.SyncStatus = env.SyncStatus
			return &link
		}
	}
	return nil
}

func parentEnvelope(parent models.ParentAccount) (localstore.Envelope, error) {
	data, err := json.Marshal(parent)
	if err != nil {
		return localstore.Envelope{}, err
	}
	return localstore.Envelope{
		Collection: models.CollectionParentAccounts,
		ID:         parent.ID,
		SchoolID:   parent.SchoolID,
		SyncStatus: parent.SyncStatus,
		Data:       data,
		CreatedAt:  parent.CreatedAt,
		UpdatedAt:  parent.UpdatedAt,
	}, nil
}

func linkEnvelope(link models.ParentStudentLink) (localstore.Envelope, error) {
	data, err := json.Marshal(link)
	if err != nil {
		return localstore.Envelope{}, err
	}
	return localstore.Envelope{
		Collection: models.CollectionParentStudentLinks,
		ID:         link.ID,
		SchoolID:   link.SchoolID,
		StudentID:  link.StudentID,
		ParentID:   link.ParentID,
		SyncStatus: link.SyncStatus,
		Data:       data,
		CreatedAt:  link.CreatedAt,
		UpdatedAt:  link.UpdatedAt,
	}, nil
}
