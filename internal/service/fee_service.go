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

// CreateFeeRequest raises a charge against a student.
type CreateFeeRequest struct {
	SchoolID  string  `json:"school_id" validate:"required"`
	StudentID string  `json:"student_id" validate:"required"`
	Category  string  `json:"category" validate:"required"`
	Term      string  `json:"term" validate:"required"`
	Amount    float64 `json:"amount" validate:"required,gt=0"`
	DueDate   string  `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
}

// UpdateFeeRequest patches a fee. Amount changes recompute the balance
// against payments already received.
type UpdateFeeRequest struct {
	Category *string  `json:"category" validate:"omitempty,min=1"`
	Term     *string  `json:"term" validate:"omitempty,min=1"`
	Amount   *float64 `json:"amount" validate:"omitempty,gt=0"`
	DueDate  *string  `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
}

// PaymentRequest records money received against a fee. ReceiptContent is
// the pre-rendered receipt blob; rendering stays outside this layer.
type PaymentRequest struct {
	Amount          float64 `json:"amount" validate:"required,gt=0"`
	Method          string  `json:"method" validate:"required,oneof=cash transfer pos cheque"`
	ReceivedBy      string  `json:"received_by"`
	ReceiptMimeType string  `json:"receipt_mime_type"`
	ReceiptContent  []byte  `json:"receipt_content"`
}

// FeeService handles fee and payment use-cases.
type FeeService struct {
	base
	validator *validator.Validate
}

// NewFeeService constructs the fee service.
func NewFeeService(store recordStore, queue mutationQueue, remoteStore remote.Store, conn connectivity.Provider, validate *validator.Validate, logger *zap.Logger) *FeeService {
	if validate == nil {
		validate = validator.New()
	}
	return &FeeService{
		base:      newBase(store, queue, remoteStore, conn, logger),
		validator: validate,
	}
}

// List returns the school's fees with student name and admission number
// denormalized from the student records. Local-first, remote refresh when
// online.
func (s *FeeService) List(ctx context.Context, schoolID string, filter models.FeeFilter) ([]models.Fee, error) {
	fees, err := s.localFees(ctx, schoolID)
	if err != nil {
		return nil, err
	}

	if s.conn.Online() {
		rctx, cancel := s.remoteCtx(ctx)
		records, rerr := s.remote.Select(rctx, models.CollectionFees, schoolID, feeRemoteFilter(filter))
		cancel()
		if rerr != nil {
			s.logger.Debug("remote fee list failed, serving local", zap.Error(rerr))
		} else {
			fees = fees[:0]
			for _, rec := range records {
				var fee models.Fee
				if err := json.Unmarshal(rec.Data, &fee); err != nil {
					s.logger.Warn("skipping undecodable remote fee", zap.String("id", rec.ID), zap.Error(err))
					continue
				}
				fee.SyncStatus = models.SyncStatusSynced
				if env, err := feeEnvelope(fee); err == nil {
					s.refreshLocal(ctx, env)
				}
				fees = append(fees, fee)
			}
		}
	}

	s.denormalizeStudents(ctx, fees)
	out := make([]models.Fee, 0, len(fees))
	for _, fee := range fees {
		if filter.Matches(fee) {
			out = append(out, fee)
		}
	}
	return out, nil
}

// Get returns one fee with its payments, local first.
func (s *FeeService) Get(ctx context.Context, schoolID, id string) (*models.Fee, error) {
	fee, err := s.localFee(ctx, id)
	if err != nil {
		return nil, err
	}
	if fee == nil {
		if !s.conn.Online() {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "fee not found")
		}
		rctx, cancel := s.remoteCtx(ctx)
		defer cancel()
		records, rerr := s.remote.Select(rctx, models.CollectionFees, schoolID, remote.Filter{Eq: map[string]string{"id": id}})
		if rerr != nil || len(records) == 0 {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "fee not found")
		}
		fee = &models.Fee{}
		if err := json.Unmarshal(records[0].Data, fee); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "corrupt remote fee record")
		}
		fee.SyncStatus = models.SyncStatusSynced
		if env, err := feeEnvelope(*fee); err == nil {
			s.refreshLocal(ctx, env)
		}
	}
	s.denormalizeStudents(ctx, []models.Fee{*fee})
	return fee, nil
}

// Create raises a new fee. Balance starts at the full amount.
func (s *FeeService) Create(ctx context.Context, req CreateFeeRequest) (*models.Fee, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid fee payload")
	}

	now := nowUTC()
	fee := models.Fee{
		ID:         uuid.NewString(),
		SchoolID:   req.SchoolID,
		StudentID:  req.StudentID,
		Category:   req.Category,
		Term:       req.Term,
		Amount:     req.Amount,
		Balance:    req.Amount,
		Status:     models.FeeStatusPending,
		DueDate:    req.DueDate,
		CreatedAt:  now,
		UpdatedAt:  now,
		SyncStatus: models.SyncStatusPending,
	}

	env, err := feeEnvelope(fee)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "encode fee")
	}
	synced, err := s.writeThrough(ctx, models.CollectionFees, env, models.SyncOpCreate)
	if err != nil {
		return nil, err
	}
	if synced {
		fee.SyncStatus = models.SyncStatusSynced
	}
	return &fee, nil
}

// Update patches a fee and recomputes balance and status when the amount
// changes.
func (s *FeeService) Update(ctx context.Context, id string, req UpdateFeeRequest) (*models.Fee, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid fee patch")
	}

	fee, err := s.localFee(ctx, id)
	if err != nil {
		return nil, err
	}
	if fee == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "fee not found")
	}

	applyString(&fee.Category, req.Category)
	applyString(&fee.Term, req.Term)
	applyString(&fee.DueDate, req.DueDate)
	if req.Amount != nil {
		if *req.Amount < fee.Paid {
			return nil, appErrors.Clone(appErrors.ErrValidation, "amount cannot be below what was already paid")
		}
		fee.Amount = *req.Amount
	}
	recomputeFee(fee)
	fee.UpdatedAt = nowUTC()
	fee.SyncStatus = models.SyncStatusPending

	env, err := feeEnvelope(*fee)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "encode fee")
	}
	synced, err := s.writeThrough(ctx, models.CollectionFees, env, models.SyncOpUpdate)
	if err != nil {
		return nil, err
	}
	if synced {
		fee.SyncStatus = models.SyncStatusSynced
	}
	return fee, nil
}

// Delete removes the fee locally and queues the remote delete.
func (s *FeeService) Delete(ctx context.Context, id string) error {
	env, err := s.store.Get(ctx, models.CollectionFees, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load fee")
	}
	if env == nil {
		return appErrors.Clone(appErrors.ErrNotFound, "fee not found")
	}
	return s.deleteThrough(ctx, models.CollectionFees, id, env.Data)
}

// ProcessPayment appends a payment to the fee, settles the balance, moves
// the status along pending -> partial -> paid, and stores the receipt blob
// as its own record so it syncs independently. Overpayment is rejected.
func (s *FeeService) ProcessPayment(ctx context.Context, feeID string, req PaymentRequest) (*models.Fee, *models.Receipt, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}

	fee, err := s.localFee(ctx, feeID)
	if err != nil {
		return nil, nil, err
	}
	if fee == nil {
		return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "fee not found")
	}
	if fee.Status == models.FeeStatusPaid {
		return nil, nil, appErrors.Clone(appErrors.ErrConflict, "fee is already settled")
	}
	if req.Amount > fee.Balance {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "payment exceeds outstanding balance")
	}

	now := nowUTC()
	payment := models.Payment{
		ID:         uuid.NewString(),
		Amount:     req.Amount,
		Method:     req.Method,
		PaidAt:     now,
		ReceivedBy: req.ReceivedBy,
	}
	fee.Payments = append(fee.Payments, payment)
	fee.Paid += req.Amount
	recomputeFee(fee)
	fee.UpdatedAt = now
	fee.SyncStatus = models.SyncStatusPending

	env, err := feeEnvelope(*fee)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "encode fee")
	}
	synced, err := s.writeThrough(ctx, models.CollectionFees, env, models.SyncOpUpdate)
	if err != nil {
		return nil, nil, err
	}
	if synced {
		fee.SyncStatus = models.SyncStatusSynced
	}

	var receipt *models.Receipt
	if len(req.ReceiptContent) > 0 {
		receipt, err = s.storeReceipt(ctx, fee, payment, req)
		if err != nil {
			// The payment is already durable; a lost receipt blob is
			// recoverable by re-rendering.
			s.logger.Warn("receipt store failed", zap.String("fee_id", fee.ID), zap.Error(err))
		}
	}
	return fee, receipt, nil
}

// Summary aggregates the school's fee position from the local store.
func (s *FeeService) Summary(ctx context.Context, schoolID string) (*models.FeeSummary, error) {
	fees, err := s.localFees(ctx, schoolID)
	if err != nil {
		return nil, err
	}
	summary := &models.FeeSummary{}
	for _, fee := range fees {
		summary.TotalBilled += fee.Amount
		summary.TotalCollected += fee.Paid
		summary.TotalOutstand += fee.Balance
		switch fee.Status {
		case models.FeeStatusPending:
			summary.CountPending++
		case models.FeeStatusPartial:
			summary.CountPartial++
		case models.FeeStatusPaid:
			summary.CountPaid++
		}
	}
	return summary, nil
}

// FeesForStudent returns a student's fees from the by-student index.
func (s *FeeService) FeesForStudent(ctx context.Context, studentID string) ([]models.Fee, error) {
	envs, err := s.store.GetAllByIndex(ctx, models.CollectionFees, models.IndexByStudent, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list fees")
	}
	fees := make([]models.Fee, 0, len(envs))
	for _, env := range envs {
		var fee models.Fee
		if err := json.Unmarshal(env.Data, &fee); err != nil {
			continue
		}
		fee.SyncStatus = env.SyncStatus
		fees = append(fees, fee)
	}
	s.denormalizeStudents(ctx, fees)
	return fees, nil
}

func (s *FeeService) storeReceipt(ctx context.Context, fee *models.Fee, payment models.Payment, req PaymentRequest) (*models.Receipt, error) {
	now := nowUTC()
	receipt := models.Receipt{
		ID:         uuid.NewString(),
		SchoolID:   fee.SchoolID,
		FeeID:      fee.ID,
		PaymentID:  payment.ID,
		MimeType:   req.ReceiptMimeType,
		Content:    req.ReceiptContent,
		CreatedAt:  now,
		UpdatedAt:  now,
		SyncStatus: models.SyncStatusPending,
	}
	data, err := json.Marshal(receipt)
	if err != nil {
		return nil, err
	}
	env := localstore.Envelope{
		Collection: models.CollectionReceipts,
		ID:         receipt.ID,
		SchoolID:   receipt.SchoolID,
		FeeID:      receipt.FeeID,
		SyncStatus: receipt.SyncStatus,
		Data:       data,
		CreatedAt:  receipt.CreatedAt,
		UpdatedAt:  receipt.UpdatedAt,
	}
	synced, err := s.writeThrough(ctx, models.CollectionReceipts, env, models.SyncOpCreate)
	if err != nil {
		return nil, err
	}
	if synced {
		receipt.SyncStatus = models.SyncStatusSynced
	}
	return &receipt, nil
}

func (s *FeeService) localFees(ctx context.Context, schoolID string) ([]models.Fee, error) {
	envs, err := s.store.GetAllByIndex(ctx, models.CollectionFees, models.IndexBySchool, schoolID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list fees")
	}
	fees := make([]models.Fee, 0, len(envs))
	for _, env := range envs {
		var fee models.Fee
		if err := json.Unmarshal(env.Data, &fee); err != nil {
			s.logger.Warn("skipping undecodable fee record", zap.String("id", env.ID), zap.Error(err))
			continue
		}
		fee.SyncStatus = env.SyncStatus
		fees = append(fees, fee)
	}
	return fees, nil
}

func (s *FeeService) localFee(ctx context.Context, id string) (*models.Fee, error) {
	env, err := s.store.Get(ctx, models.CollectionFees, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load fee")
	}
	if env == nil {
		return nil, nil
	}
	var fee models.Fee
	if err := json.Unmarshal(env.Data, &fee); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "corrupt fee record")
	}
	fee.SyncStatus = env.SyncStatus
	return &fee, nil
}

// denormalizeStudents fills StudentName and AdmissionNumber from the
// student records. Misses are left blank rather than failing the read.
func (s *FeeService) denormalizeStudents(ctx context.Context, fees []models.Fee) {
	names := map[string]*models.Student{}
	for i := range fees {
		student, ok := names[fees[i].StudentID]
		if !ok {
			env, err := s.store.Get(ctx, models.CollectionStudents, fees[i].StudentID)
			if err == nil && env != nil {
				var st models.Student
				if json.Unmarshal(env.Data, &st) == nil {
					student = &st
				}
			}
			names[fees[i].StudentID] = student
		}
		if student != nil {
			fees[i].StudentName = student.FullName
			fees[i].AdmissionNumber = student.AdmissionNumber
		}
	}
}

func recomputeFee(fee *models.Fee) {
	fee.Balance = fee.Amount - fee.Paid
	switch {
	case fee.Paid <= 0:
		fee.Status = models.FeeStatusPending
	case fee.Balance <= 0:
		fee.Status = models.FeeStatusPaid
		fee.Balance = 0
	default:
		fee.Status = models.FeeStatusPartial
	}
}

func feeRemoteFilter(filter models.FeeFilter) remote.Filter {
	f := remote.Filter{Eq: map[string]string{}}
	if filter.StudentID != "" {
		f.Eq["student_id"] = filter.StudentID
	}
	if filter.Status != "" {
		f.Eq["status"] = filter.Status
	}
	if filter.Term != "" {
		f.Eq["term"] = filter.Term
	}
	if filter.DueFrom != "" || filter.DueTo != "" {
		f.DateField = "due_date"
		f.From = filter.DueFrom
		f.To = filter.DueTo
	}
	// Search also covers the denormalized student name and admission
	// number, which the remote snapshot does not carry. It is applied
	// locally after denormalization instead of being pushed down.
	return f
}

func feeEnvelope(fee models.Fee) (localstore.Envelope, error) {
	data, err := json.Marshal(fee)
	if err != nil {
		return localstore.Envelope{}, err
	}
	return localstore.Envelope{
		Collection: models.CollectionFees,
		ID:         fee.ID,
		SchoolID:   fee.SchoolID,
		StudentID:  fee.StudentID,
		SyncStatus: fee.SyncStatus,
		Data:       data,
		CreatedAt:  fee.CreatedAt,
		UpdatedAt:  fee.UpdatedAt,
	}, nil
}
