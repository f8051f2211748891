package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/sma-offline-core/internal/localstore"
	"github.com/noah-isme/sma-offline-core/internal/models"
	appErrors "github.com/noah-isme/sma-offline-core/pkg/errors"
)

// AuthService persists the current session and a credential snapshot so
// the app can restore identity and validate a login with no network.
// Auth state is local-only: it never enters the sync queue.
type AuthService struct {
	store        recordStore
	logger       *zap.Logger
	sessionSlack time.Duration
}

// NewAuthService constructs the auth service. sessionSlack extends how
// long past token expiry an offline login is still accepted.
func NewAuthService(store recordStore, sessionSlack time.Duration, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{store: store, logger: logger, sessionSlack: sessionSlack}
}

// CacheSession stores the session produced by an online login, plus a
// bcrypt hash of the password used, keyed by user id, so a later offline
// login can validate against it.
func (s *AuthService) CacheSession(ctx context.Context, session models.Session, password string) error {
	if session.UserID == "" || session.Email == "" {
		return appErrors.Clone(appErrors.ErrValidation, "session missing user identity")
	}
	session.CachedAt = nowUTC()
	if session.ExpiresAt.IsZero() && session.AccessToken != "" {
		if exp := tokenExpiry(session.AccessToken); exp != nil {
			session.ExpiresAt = *exp
		}
	}

	env, err := sessionEnvelope(session)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "encode session")
	}
	if err := s.store.Put(ctx, env); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "persist session")
	}

	if password == "" {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "hash credential")
	}
	cred := models.OfflineCredential{
		UserID:       session.UserID,
		SchoolID:     session.SchoolID,
		Email:        session.Email,
		PasswordHash: string(hash),
		UpdatedAt:    nowUTC(),
	}
	credEnv, err := credentialEnvelope(cred)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "encode credential")
	}
	if err := s.store.Put(ctx, credEnv); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "persist credential")
	}
	return nil
}

// CurrentSession returns the cached session, or NotFound when nobody is
// logged in.
func (s *AuthService) CurrentSession(ctx context.Context) (*models.Session, error) {
	env, err := s.store.Get(ctx, models.CollectionAuthState, models.AuthStateKey)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	if env == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no cached session")
	}
	var session models.Session
	if err := json.Unmarshal(env.Data, &session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "corrupt session record")
	}
	return &session, nil
}

// OfflineLogin validates email and password against the cached credential
// snapshot and re-issues the cached session. The cached session resolves
// the email to a user id, and the session must not be expired beyond the
// configured slack.
func (s *AuthService) OfflineLogin(ctx context.Context, email, password string) (*models.Session, error) {
	session, err := s.CurrentSession(ctx)
	if err != nil || session.Email != email {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
	}

	env, err := s.store.Get(ctx, models.CollectionOfflineCredentials, session.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load credential")
	}
	if env == nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
	}
	var cred models.OfflineCredential
	if err := json.Unmarshal(env.Data, &cred); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "corrupt credential record")
	}
	if bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)) != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
	}

	if !session.ExpiresAt.IsZero() && nowUTC().After(session.ExpiresAt.Add(s.sessionSlack)) {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "cached session expired, online login required")
	}
	return session, nil
}

// Logout wipes all client state: session, credentials, records and the
// sync queue. The caller should drain the queue first or pending
// mutations are lost.
func (s *AuthService) Logout(ctx context.Context) error {
	if err := s.store.ClearAll(ctx); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to clear client state")
	}
	return nil
}

// tokenExpiry pulls the exp claim from a JWT without verifying the
// signature. The backend verified it when it issued the token; locally
// only the timestamp matters.
func tokenExpiry(token string) *time.Time {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	t := exp.Time.UTC()
	return &t
}

func sessionEnvelope(session models.Session) (localstore.Envelope, error) {
	data, err := json.Marshal(session)
	if err != nil {
		return localstore.Envelope{}, err
	}
	now := nowUTC()
	return localstore.Envelope{
		Collection: models.CollectionAuthState,
		ID:         models.AuthStateKey,
		SchoolID:   session.SchoolID,
		SyncStatus: models.SyncStatusSynced,
		Data:       data,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func credentialEnvelope(cred models.OfflineCredential) (localstore.Envelope, error) {
	data, err := json.Marshal(cred)
	if err != nil {
		return localstore.Envelope{}, err
	}
	now := nowUTC()
	return localstore.Envelope{
		Collection: models.CollectionOfflineCredentials,
		ID:         cred.UserID,
		SchoolID:   cred.SchoolID,
		SyncStatus: models.SyncStatusSynced,
		Data:       data,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}
