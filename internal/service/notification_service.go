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

// CreateNotificationRequest delivers a message to one recipient.
type CreateNotificationRequest struct {
	SchoolID    string `json:"school_id" validate:"required"`
	RecipientID string `json:"recipient_id" validate:"required"`
	Title       string `json:"title" validate:"required"`
	Body        string `json:"body" validate:"required"`
	Kind        string `json:"kind"`
}

// NotificationService handles in-app notifications and read state.
type NotificationService struct {
	base
	validator *validator.Validate
}

// NewNotificationService constructs the notification service.
func NewNotificationService(store recordStore, queue mutationQueue, remoteStore remote.Store, conn connectivity.Provider, validate *validator.Validate, logger *zap.Logger) *NotificationService {
	if validate == nil {
		validate = validator.New()
	}
	return &NotificationService{
		base:      newBase(store, queue, remoteStore, conn, logger),
		validator: validate,
	}
}

// List returns the school's notifications, local-first, refreshed from
// the remote store when online.
func (s *NotificationService) List(ctx context.Context, schoolID string, filter models.NotificationFilter) ([]models.Notification, error) {
	local, err := s.localNotifications(ctx, schoolID, filter)
	if err != nil {
		return nil, err
	}
	if !s.conn.Online() {
		return local, nil
	}

	rctx, cancel := s.remoteCtx(ctx)
	defer cancel()
	f := remote.Filter{Eq: map[string]string{}}
	if filter.RecipientID != "" {
		f.Eq["recipient_id"] = filter.RecipientID
	}
	if filter.Kind != "" {
		f.Eq["kind"] = filter.Kind
	}
	records, err := s.remote.Select(rctx, models.CollectionNotifications, schoolID, f)
	if err != nil {
		s.logger.Debug("remote notification list failed, serving local", zap.Error(err))
		return local, nil
	}
	out := make([]models.Notification, 0, len(records))
	for _, rec := range records {
		var n models.Notification
		if err := json.Unmarshal(rec.Data, &n); err != nil {
			continue
		}
		n.SyncStatus = models.SyncStatusSynced
		if env, err := notificationEnvelope(n); err == nil {
			s.refreshLocal(ctx, env)
		}
		if filter.Matches(n) {
			out = append(out, n)
		}
	}
	return out, nil
}

// Create delivers a notification.
func (s *NotificationService) Create(ctx context.Context, req CreateNotificationRequest) (*models.Notification, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid notification payload")
	}

	now := nowUTC()
	n := models.Notification{
		ID:          uuid.NewString(),
		SchoolID:    req.SchoolID,
		RecipientID: req.RecipientID,
		Title:       req.Title,
		Body:        req.Body,
		Kind:        req.Kind,
		CreatedAt:   now,
		UpdatedAt:   now,
		SyncStatus:  models.SyncStatusPending,
	}
	env, err := notificationEnvelope(n)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "encode notification")
	}
	synced, err := s.writeThrough(ctx, models.CollectionNotifications, env, models.SyncOpCreate)
	if err != nil {
		return nil, err
	}
	if synced {
		n.SyncStatus = models.SyncStatusSynced
	}
	return &n, nil
}

// MarkRead flags one notification as read. Already-read notifications are
// returned unchanged.
func (s *NotificationService) MarkRead(ctx context.Context, id string) (*models.Notification, error) {
	n, err := s.localNotification(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.Read {
		return n, nil
	}
	now := nowUTC()
	n.Read = true
	n.ReadAt = &now
	n.UpdatedAt = now
	n.SyncStatus = models.SyncStatusPending

	env, err := notificationEnvelope(*n)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "encode notification")
	}
	synced, err := s.writeThrough(ctx, models.CollectionNotifications, env, models.SyncOpUpdate)
	if err != nil {
		return nil, err
	}
	if synced {
		n.SyncStatus = models.SyncStatusSynced
	}
	return n, nil
}

// MarkAllRead flags every unread notification for a recipient and returns
// how many it touched.
func (s *NotificationService) MarkAllRead(ctx context.Context, schoolID, recipientID string) (int, error) {
	unread, err := s.localNotifications(ctx, schoolID, models.NotificationFilter{RecipientID: recipientID, Unread: true})
	if err != nil {
		return 0, err
	}
	count := 0
	for _, n := range unread {
		if _, err := s.MarkRead(ctx, n.ID); err != nil {
			if appErrors.Is(err, appErrors.ErrQueueWrite) {
				return count, err
			}
			s.logger.Warn("mark read failed", zap.String("id", n.ID), zap.Error(err))
			continue
		}
		count++
	}
	return count, nil
}

// UnreadCount returns how many unread notifications a recipient has.
func (s *NotificationService) UnreadCount(ctx context.Context, schoolID, recipientID string) (int, error) {
	unread, err := s.localNotifications(ctx, schoolID, models.NotificationFilter{RecipientID: recipientID, Unread: true})
	if err != nil {
		return 0, err
	}
	return len(unread), nil
}

// Delete removes a notification.
func (s *NotificationService) Delete(ctx context.Context, id string) error {
	env, err := s.store.Get(ctx, models.CollectionNotifications, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load notification")
	}
	if env == nil {
		return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
	}
	return s.deleteThrough(ctx, models.CollectionNotifications, id, env.Data)
}

func (s *NotificationService) localNotifications(ctx context.Context, schoolID string, filter models.NotificationFilter) ([]models.Notification, error) {
	envs, err := s.store.GetAllByIndex(ctx, models.CollectionNotifications, models.IndexBySchool, schoolID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	out := make([]models.Notification, 0, len(envs))
	for _, env := range envs {
		var n models.Notification
		if err := json.Unmarshal(env.Data, &n); err != nil {
			s.logger.Warn("skipping undecodable notification record", zap.String("id", env.ID), zap.Error(err))
			continue
		}
		n.SyncStatus = env.SyncStatus
		if filter.Matches(n) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *NotificationService) localNotification(ctx context.Context, id string) (*models.Notification, error) {
	env, err := s.store.Get(ctx, models.CollectionNotifications, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load notification")
	}
	if env == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "notification not found")
	}
	var n models.Notification
	if err := json.Unmarshal(env.Data, &n); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "corrupt notification record")
	}
	n.SyncStatus = env.SyncStatus
	return &n, nil
}

func notificationEnvelope(n models.Notification) (localstore.Envelope, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return localstore.Envelope{}, err
	}
	return localstore.Envelope{
		Collection: models.CollectionNotifications,
		ID:         n.ID,
		SchoolID:   n.SchoolID,
		SyncStatus: n.SyncStatus,
		Data:       data,
		CreatedAt:  n.CreatedAt,
		UpdatedAt:  n.UpdatedAt,
	}, nil
}
