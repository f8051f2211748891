package service

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-offline-core/internal/connectivity"
	"github.com/noah-isme/sma-offline-core/internal/localstore"
	"github.com/noah-isme/sma-offline-core/internal/models"
	"github.com/noah-isme/sma-offline-core/internal/remote"
	appErrors "github.com/noah-isme/sma-offline-core/pkg/errors"
)

// RecordScoreRequest captures one exam result.
type RecordScoreRequest struct {
	SchoolID  string  `json:"school_id" validate:"required"`
	StudentID string  `json:"student_id" validate:"required"`
	ClassName string  `json:"class_name" validate:"required"`
	Term      string  `json:"term" validate:"required"`
	Subject   string  `json:"subject" validate:"required"`
	Score     float64 `json:"score" validate:"gte=0"`
	MaxScore  float64 `json:"max_score" validate:"required,gt=0"`
	ExamType  string  `json:"exam_type"`
}

// CreateReportCardRequest assembles a term report for one student.
type CreateReportCardRequest struct {
	SchoolID  string                `json:"school_id" validate:"required"`
	StudentID string                `json:"student_id" validate:"required"`
	ClassName string                `json:"class_name" validate:"required"`
	Term      string                `json:"term" validate:"required"`
	Scores    []models.SubjectScore `json:"scores" validate:"required,min=1,dive"`
	Remark    string                `json:"remark"`
}

// ReportCardService handles exam results and term report cards.
type ReportCardService struct {
	base
	validator *validator.Validate
}

// NewReportCardService constructs the report card service.
func NewReportCardService(store recordStore, queue mutationQueue, remoteStore remote.Store, conn connectivity.Provider, validate *validator.Validate, logger *zap.Logger) *ReportCardService {
	if validate == nil {
		validate = validator.New()
	}
	return &ReportCardService{
		base:      newBase(store, queue, remoteStore, conn, logger),
		validator: validate,
	}
}

// RecordScore stores one exam result. A score already recorded for the
// same student, term, subject and exam type is replaced.
func (s *ReportCardService) RecordScore(ctx context.Context, req RecordScoreRequest) (*models.Exam, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid score payload")
	}
	if req.Score > req.MaxScore {
		return nil, appErrors.Clone(appErrors.ErrValidation, "score exceeds max score")
	}

	now := nowUTC()
	exam := models.Exam{
		ID:         uuid.NewString(),
		SchoolID:   req.SchoolID,
		StudentID:  req.StudentID,
		ClassName:  req.ClassName,
		Term:       req.Term,
		Subject:    req.Subject,
		Score:      req.Score,
		MaxScore:   req.MaxScore,
		ExamType:   req.ExamType,
		CreatedAt:  now,
		UpdatedAt:  now,
		SyncStatus: models.SyncStatusPending,
	}
	op := models.SyncOpCreate
	if existing := s.findExam(ctx, req); existing != nil {
		exam.ID = existing.ID
		exam.CreatedAt = existing.CreatedAt
		op = models.SyncOpUpdate
	}

	env, err := examEnvelope(exam)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "encode exam")
	}
	synced, err := s.writeThrough(ctx, models.CollectionExams, env, op)
	if err != nil {
		return nil, err
	}
	if synced {
		exam.SyncStatus = models.SyncStatusSynced
	}
	return &exam, nil
}

// ExamsFor returns a student's exam results from the by-student index.
func (s *ReportCardService) ExamsFor(ctx context.Context, studentID string, filter models.ExamFilter) ([]models.Exam, error) {
	envs, err := s.store.GetAllByIndex(ctx, models.CollectionExams, models.IndexByStudent, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list exams")
	}
	out := make([]models.Exam, 0, len(envs))
	for _, env := range envs {
		var exam models.Exam
		if err := json.Unmarshal(env.Data, &exam); err != nil {
			continue
		}
		exam.SyncStatus = env.SyncStatus
		if filter.Matches(exam) {
			out = append(out, exam)
		}
	}
	return out, nil
}

// List returns the school's report cards, local-first, with student
// details denormalized.
func (s *ReportCardService) List(ctx context.Context, schoolID string, filter models.ReportCardFilter) ([]models.ReportCard, error) {
	cards, err := s.localCards(ctx, schoolID)
	if err != nil {
		return nil, err
	}

	if s.conn.Online() {
		rctx, cancel := s.remoteCtx(ctx)
		records, rerr := s.remote.Select(rctx, models.CollectionReportCards, schoolID, reportCardRemoteFilter(filter))
		cancel()
		if rerr != nil {
			s.logger.Debug("remote report card list failed, serving local", zap.Error(rerr))
		} else {
			cards = cards[:0]
			for _, rec := range records {
				var rc models.ReportCard
				if err := json.Unmarshal(rec.Data, &rc); err != nil {
					continue
				}
				rc.SyncStatus = models.SyncStatusSynced
				if env, err := reportCardEnvelope(rc); err == nil {
					s.refreshLocal(ctx, env)
				}
				cards = append(cards, rc)
			}
		}
	}

	out := make([]models.ReportCard, 0, len(cards))
	for _, rc := range cards {
		if filter.Matches(rc) {
			out = append(out, rc)
		}
	}
	s.denormalize(ctx, out)
	return out, nil
}

// Get returns one report card, local first, refreshing from the remote
// store when online. NotFound only when both sides miss.
func (s *ReportCardService) Get(ctx context.Context, schoolID, id string) (*models.ReportCard, error) {
	env, err := s.store.Get(ctx, models.CollectionReportCards, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report card")
	}
	var rc models.ReportCard
	switch {
	case env != nil:
		if err := json.Unmarshal(env.Data, &rc); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "corrupt report card record")
		}
		rc.SyncStatus = env.SyncStatus
	case s.conn.Online():
		rctx, cancel := s.remoteCtx(ctx)
		records, rerr := s.remote.Select(rctx, models.CollectionReportCards, schoolID, remote.Filter{Eq: map[string]string{"id": id}})
		cancel()
		if rerr != nil || len(records) == 0 {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "report card not found")
		}
		if err := json.Unmarshal(records[0].Data, &rc); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "corrupt remote report card record")
		}
		rc.SyncStatus = models.SyncStatusSynced
		if refreshed, err := reportCardEnvelope(rc); err == nil {
			s.refreshLocal(ctx, refreshed)
		}
	default:
		return nil, appErrors.Clone(appErrors.ErrNotFound, "report card not found")
	}
	cards := []models.ReportCard{rc}
	s.denormalize(ctx, cards)
	return &cards[0], nil
}

// Create assembles a report card. Total and average come from the scores;
// position is assigned later by ComputePositions once the class is
// complete.
func (s *ReportCardService) Create(ctx context.Context, req CreateReportCardRequest) (*models.ReportCard, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid report card payload")
	}

	now := nowUTC()
	rc := models.ReportCard{
		ID:         uuid.NewString(),
		SchoolID:   req.SchoolID,
		StudentID:  req.StudentID,
		ClassName:  req.ClassName,
		Term:       req.Term,
		Scores:     req.Scores,
		Remark:     req.Remark,
		CreatedAt:  now,
		UpdatedAt:  now,
		SyncStatus: models.SyncStatusPending,
	}
	recomputeTotals(&rc)

	env, err := reportCardEnvelope(rc)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "encode report card")
	}
	synced, err := s.writeThrough(ctx, models.CollectionReportCards, env, models.SyncOpCreate)
	if err != nil {
		return nil, err
	}
	if synced {
		rc.SyncStatus = models.SyncStatusSynced
	}
	return &rc, nil
}

// Delete removes a report card.
func (s *ReportCardService) Delete(ctx context.Context, id string) error {
	env, err := s.store.Get(ctx, models.CollectionReportCards, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report card")
	}
	if env == nil {
		return appErrors.Clone(appErrors.ErrNotFound, "report card not found")
	}
	return s.deleteThrough(ctx, models.CollectionReportCards, id, env.Data)
}

// ComputePositions ranks a class's report cards for a term by average,
// highest first. Equal averages share the same position and the next
// distinct average skips past them, so two students on 90.0 both take
// position 1 and the next takes 3. Every touched card is re-queued.
func (s *ReportCardService) ComputePositions(ctx context.Context, schoolID, className, term string) ([]models.ReportCard, error) {
	cards, err := s.localCards(ctx, schoolID)
	if err != nil {
		return nil, err
	}
	class := cards[:0]
	for _, rc := range cards {
		if rc.ClassName == className && rc.Term == term {
			class = append(class, rc)
		}
	}
	if len(class) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no report cards for class and term")
	}

	sort.SliceStable(class, func(i, j int) bool {
		return class[i].Average > class[j].Average
	})

	size := len(class)
	for i := range class {
		position := i + 1
		if i > 0 && class[i].Average == class[i-1].Average {
			position = class[i-1].Position
		}
		class[i].Position = position
		class[i].ClassSize = size
		class[i].UpdatedAt = nowUTC()
		class[i].SyncStatus = models.SyncStatusPending

		env, err := reportCardEnvelope(class[i])
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "encode report card")
		}
		synced, err := s.writeThrough(ctx, models.CollectionReportCards, env, models.SyncOpUpdate)
		if err != nil {
			return nil, err
		}
		if synced {
			class[i].SyncStatus = models.SyncStatusSynced
		}
	}
	s.denormalize(ctx, class)
	return class, nil
}

func (s *ReportCardService) localCards(ctx context.Context, schoolID string) ([]models.ReportCard, error) {
	envs, err := s.store.GetAllByIndex(ctx, models.CollectionReportCards, models.IndexBySchool, schoolID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list report cards")
	}
	cards := make([]models.ReportCard, 0, len(envs))
	for _, env := range envs {
		var rc models.ReportCard
		if err := json.Unmarshal(env.Data, &rc); err != nil {
			s.logger.Warn("skipping undecodable report card record", zap.String("id", env.ID), zap.Error(err))
			continue
		}
		rc.SyncStatus = env.SyncStatus
		cards = append(cards, rc)
	}
	return cards, nil
}

func (s *ReportCardService) findExam(ctx context.Context, req RecordScoreRequest) *models.Exam {
	envs, err := s.store.GetAllByIndex(ctx, models.CollectionExams, models.IndexByStudent, req.StudentID)
	if err != nil {
		return nil
	}
	for _, env := range envs {
		var exam models.Exam
		if json.Unmarshal(env.Data, &exam) != nil {
			continue
		}
		if exam.Term == req.Term && exam.Subject == req.Subject && exam.ExamType == req.ExamType {
			return &exam
		}
	}
	return nil
}

func (s *ReportCardService) denormalize(ctx context.Context, cards []models.ReportCard) {
	for i := range cards {
		env, err := s.store.Get(ctx, models.CollectionStudents, cards[i].StudentID)
		if err != nil || env == nil {
			continue
		}
		var st models.Student
		if json.Unmarshal(env.Data, &st) != nil {
			continue
		}
		cards[i].StudentName = st.FullName
		cards[i].AdmissionNumber = st.AdmissionNumber
	}
}

func recomputeTotals(rc *models.ReportCard) {
	rc.Total = 0
	for _, score := range rc.Scores {
		rc.Total += score.Score
	}
	if len(rc.Scores) > 0 {
		rc.Average = rc.Total / float64(len(rc.Scores))
	}
}

func reportCardRemoteFilter(filter models.ReportCardFilter) remote.Filter {
	f := remote.Filter{Eq: map[string]string{}}
	if filter.StudentID != "" {
		f.Eq["student_id"] = filter.StudentID
	}
	if filter.ClassName != "" {
		f.Eq["class_name"] = filter.ClassName
	}
	if filter.Term != "" {
		f.Eq["term"] = filter.Term
	}
	return f
}

func examEnvelope(exam models.Exam) (localstore.Envelope, error) {
	data, err := json.Marshal(exam)
	if err != nil {
		return localstore.Envelope{}, err
	}
	return localstore.Envelope{
		Collection: models.CollectionExams,
		ID:         exam.ID,
		SchoolID:   exam.SchoolID,
		StudentID:  exam.StudentID,
		SyncStatus: exam.SyncStatus,
		Data:       data,
		CreatedAt:  exam.CreatedAt,
		UpdatedAt:  exam.UpdatedAt,
	}, nil
}

func reportCardEnvelope(rc models.ReportCard) (localstore.Envelope, error) {
	rc.StudentName = ""
	rc.AdmissionNumber = ""
	data, err := json.Marshal(rc)
	if err != nil {
		return localstore.Envelope{}, err
	}
	return localstore.Envelope{
		Collection: models.CollectionReportCards,
		ID:         rc.ID,
		SchoolID:   rc.SchoolID,
		StudentID:  rc.StudentID,
		SyncStatus: rc.SyncStatus,
		Data:       data,
		CreatedAt:  rc.CreatedAt,
		UpdatedAt:  rc.UpdatedAt,
	}, nil
}
