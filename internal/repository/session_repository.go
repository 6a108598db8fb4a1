package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"gorm.io/gorm"

	"tinyagent/internal/model"
)

const (
	defaultListLimit        = 100
	defaultAppendMaxRetries = 8
)

// SessionRepository stores sessions with their message log embedded as a
// JSON column. Appends use a version counter compared at write time; a
// conflicting writer rolls back and retries with backoff.
type SessionRepository struct {
	db         *gorm.DB
	now        func() time.Time
	maxRetries uint
}

type SessionOption func(*SessionRepository)

func WithClock(now func() time.Time) SessionOption {
	return func(r *SessionRepository) {
		r.now = now
	}
}

func WithAppendMaxRetries(n int) SessionOption {
	return func(r *SessionRepository) {
		if n > 0 {
			r.maxRetries = uint(n)
		}
	}
}

type CreateSessionParams struct {
	UserID      uint
	Title       string
	InitialText string
}

type AppendParams struct {
	SessionID uint
	Role      model.Role
	Content   string
	Data      map[string]interface{}
}

// SessionPatch carries a partial update; nil fields are left unchanged.
type SessionPatch struct {
	Title      *string
	IsPinned   *bool
	IsDeleted  *bool
	IsArchived *bool
}

func NewSessionRepository(db *gorm.DB, opts ...SessionOption) *SessionRepository {
	r := &SessionRepository{
		db:         db,
		now:        time.Now,
		maxRetries: defaultAppendMaxRetries,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *SessionRepository) Create(ctx context.Context, params CreateSessionParams) (*model.Session, error) {
	title := strings.TrimSpace(params.Title)
	if title == "" {
		title = model.DefaultSessionTitle
	}

	now := r.clock()
	session := &model.Session{
		UserID:    params.UserID,
		Title:     title,
		Messages:  model.MessageLog{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if params.InitialText != "" {
		session.Append(model.Message{
			Role:      model.RoleUser,
			Content:   params.InitialText,
			CreatedAt: now,
		})
	}

	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, fmt.Errorf("create session failed: %w", err)
	}
	return session, nil
}

// GetByIDAndUserID returns nil when no matching session exists. Soft-deleted
// sessions are only returned when includeDeleted is set.
func (r *SessionRepository) GetByIDAndUserID(ctx context.Context, sessionID, userID uint, includeDeleted bool) (*model.Session, error) {
	q := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", sessionID, userID)
	if !includeDeleted {
		q = q.Where("is_deleted = ?", false)
	}

	var session model.Session
	if err := q.First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session failed: %w", err)
	}
	return &session, nil
}

// IsOwnedBy reports whether a non-deleted session with this id belongs to
// userID, without loading its log.
func (r *SessionRepository) IsOwnedBy(ctx context.Context, sessionID, userID uint) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&model.Session{}).
		Where("id = ? AND user_id = ? AND is_deleted = ?", sessionID, userID, false).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("check session owner failed: %w", err)
	}
	return count > 0, nil
}

// ListByUserID returns visible sessions, pinned first, then most recently
// updated first.
func (r *SessionRepository) ListByUserID(ctx context.Context, userID uint, limit int) ([]model.Session, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	var sessions []model.Session
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_deleted = ?", userID, false).
		Order("is_pinned DESC").
		Order("updated_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("list sessions failed: %w", err)
	}
	return sessions, nil
}

// Append adds one message to the session log and returns the whole updated
// session. The read, append and write commit as one unit or not at all.
func (r *SessionRepository) Append(ctx context.Context, params AppendParams) (*model.Session, error) {
	operation := func() (*model.Session, error) {
		session, err := r.appendOnce(ctx, params)
		if err != nil && !errors.Is(err, errVersionConflict) {
			return nil, backoff.Permanent(err)
		}
		return session, err
	}

	session, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(newAppendBackOff()),
		backoff.WithMaxTries(r.maxRetries),
	)
	if err != nil {
		if errors.Is(err, errVersionConflict) {
			return nil, fmt.Errorf("%w: append to session %d gave up after %d attempts: %w",
				ErrTransactionFailed, params.SessionID, r.maxRetries, err)
		}
		return nil, err
	}
	return session, nil
}

func (r *SessionRepository) appendOnce(ctx context.Context, params AppendParams) (*model.Session, error) {
	var updated model.Session
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session model.Session
		if err := tx.Where("id = ? AND is_deleted = ?", params.SessionID, false).First(&session).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("load session failed: %w", err)
		}

		now := r.clock()
		session.Append(model.Message{
			Role:      params.Role,
			Content:   params.Content,
			Data:      params.Data,
			CreatedAt: now,
		})
		session.UpdatedAt = now

		if err := compareAndSwap(tx, &session); err != nil {
			return err
		}
		updated = session
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, errVersionConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrTransactionFailed, err)
	}
	return &updated, nil
}

// compareAndSwap writes the log, its counter and updated_at only if nobody
// bumped the version since the session was read.
func compareAndSwap(tx *gorm.DB, session *model.Session) error {
	expected := session.Version
	result := tx.Model(&model.Session{}).
		Where("id = ? AND version = ?", session.ID, expected).
		Updates(map[string]interface{}{
			"messages":      session.Messages,
			"message_count": session.MessageCount,
			"updated_at":    session.UpdatedAt,
			"version":       expected + 1,
		})
	if result.Error != nil {
		return fmt.Errorf("write session failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return errVersionConflict
	}
	session.Version = expected + 1
	return nil
}

// UpdateFlags applies the non-nil fields of patch. updated_at is refreshed
// only when a value actually changes. Soft-deleted sessions can be updated so
// they may be restored.
func (r *SessionRepository) UpdateFlags(ctx context.Context, sessionID uint, patch SessionPatch) (*model.Session, error) {
	var updated model.Session
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session model.Session
		if err := tx.First(&session, sessionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("load session failed: %w", err)
		}

		changes := map[string]interface{}{}
		if patch.Title != nil && *patch.Title != session.Title {
			session.Title = *patch.Title
			changes["title"] = session.Title
		}
		if patch.IsPinned != nil && *patch.IsPinned != session.IsPinned {
			session.IsPinned = *patch.IsPinned
			changes["is_pinned"] = session.IsPinned
		}
		if patch.IsDeleted != nil && *patch.IsDeleted != session.IsDeleted {
			session.IsDeleted = *patch.IsDeleted
			changes["is_deleted"] = session.IsDeleted
		}
		if patch.IsArchived != nil && *patch.IsArchived != session.IsArchived {
			session.IsArchived = *patch.IsArchived
			changes["is_archived"] = session.IsArchived
		}
		if len(changes) == 0 {
			updated = session
			return nil
		}

		session.UpdatedAt = r.clock()
		changes["updated_at"] = session.UpdatedAt
		changes["version"] = gorm.Expr("version + 1")
		if err := tx.Model(&model.Session{}).Where("id = ?", session.ID).Updates(changes).Error; err != nil {
			return fmt.Errorf("update session failed: %w", err)
		}
		session.Version++
		updated = session
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrTransactionFailed, err)
	}
	return &updated, nil
}

// History returns the message log verbatim. Missing and soft-deleted sessions
// yield ErrNotFound.
func (r *SessionRepository) History(ctx context.Context, sessionID uint) ([]model.Message, error) {
	var session model.Session
	if err := r.db.WithContext(ctx).
		Select("id", "messages").
		Where("id = ? AND is_deleted = ?", sessionID, false).
		First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get history failed: %w", err)
	}
	return session.History(), nil
}

// PurgeDeleted physically removes sessions soft-deleted before the cutoff.
func (r *SessionRepository) PurgeDeleted(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("is_deleted = ? AND updated_at < ?", true, before).
		Delete(&model.Session{})
	if result.Error != nil {
		return 0, fmt.Errorf("purge deleted sessions failed: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *SessionRepository) clock() time.Time {
	return r.now().UTC().Truncate(time.Microsecond)
}

func newAppendBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	b.MaxInterval = 200 * time.Millisecond
	return b
}
