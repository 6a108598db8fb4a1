package app

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"tinyagent/internal/model"
	"tinyagent/internal/repository"
)

var ErrSessionNotFound = errors.New("session not found")

type HistoryCache interface {
	GetHistory(ctx context.Context, sessionID uint) ([]model.Message, bool, error)
	SetHistory(ctx context.Context, sessionID uint, messages []model.Message) error
	Invalidate(ctx context.Context, sessionID uint) error
}

type ChatSettings struct {
	DefaultTitle string
	ListLimit    int
	MaxListLimit int
}

type ChatService struct {
	sessionRepo  *repository.SessionRepository
	historyCache HistoryCache
	settings     ChatSettings
	logger       *zap.Logger

	historyGroup singleflight.Group
}

type CreateSessionInput struct {
	UserID      uint
	Title       string
	InitialText string
}

type UpdateSessionInput struct {
	UserID     uint
	SessionID  uint
	Title      *string
	IsPinned   *bool
	IsDeleted  *bool
	IsArchived *bool
}

type AppendMessageInput struct {
	UserID    uint
	SessionID uint
	Role      model.Role
	Content   string
	Data      map[string]interface{}
}

func NewChatService(sessionRepo *repository.SessionRepository, historyCache HistoryCache, settings ChatSettings, logger *zap.Logger) *ChatService {
	if settings.ListLimit <= 0 {
		settings.ListLimit = 100
	}
	if settings.MaxListLimit < settings.ListLimit {
		settings.MaxListLimit = settings.ListLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{
		sessionRepo:  sessionRepo,
		historyCache: historyCache,
		settings:     settings,
		logger:       logger.Named("chat"),
	}
}

func (s *ChatService) CreateSession(ctx context.Context, input CreateSessionInput) (*model.Session, error) {
	if input.UserID == 0 {
		return nil, ErrInvalidInput
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = s.settings.DefaultTitle
	}
	return s.sessionRepo.Create(ctx, repository.CreateSessionParams{
		UserID:      input.UserID,
		Title:       title,
		InitialText: input.InitialText,
	})
}

// ListSessions clamps limit into [1, MaxListLimit]; zero or negative means
// the configured default.
func (s *ChatService) ListSessions(ctx context.Context, userID uint, limit int) ([]model.Session, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	if limit <= 0 {
		limit = s.settings.ListLimit
	}
	if limit > s.settings.MaxListLimit {
		limit = s.settings.MaxListLimit
	}
	return s.sessionRepo.ListByUserID(ctx, userID, limit)
}

func (s *ChatService) UpdateSession(ctx context.Context, input UpdateSessionInput) (*model.Session, error) {
	if input.UserID == 0 || input.SessionID == 0 {
		return nil, ErrInvalidInput
	}
	patch := repository.SessionPatch{
		IsPinned:   input.IsPinned,
		IsDeleted:  input.IsDeleted,
		IsArchived: input.IsArchived,
	}
	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			return nil, ErrInvalidInput
		}
		patch.Title = &title
	}

	// deleted sessions stay reachable here so they can be restored
	session, err := s.sessionRepo.GetByIDAndUserID(ctx, input.SessionID, input.UserID, true)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	updated, err := s.sessionRepo.UpdateFlags(ctx, input.SessionID, patch)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if input.IsDeleted != nil {
		s.invalidate(ctx, input.SessionID)
	}
	return updated, nil
}

// AppendMessage returns the whole session after the append.
func (s *ChatService) AppendMessage(ctx context.Context, input AppendMessageInput) (*model.Session, error) {
	// content is free text and may be empty
	if input.UserID == 0 || input.SessionID == 0 || !input.Role.Valid() {
		return nil, ErrInvalidInput
	}

	owned, err := s.sessionRepo.IsOwnedBy(ctx, input.SessionID, input.UserID)
	if err != nil {
		return nil, err
	}
	if !owned {
		return nil, ErrSessionNotFound
	}

	session, err := s.sessionRepo.Append(ctx, repository.AppendParams{
		SessionID: input.SessionID,
		Role:      input.Role,
		Content:   input.Content,
		Data:      input.Data,
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	s.invalidate(ctx, input.SessionID)
	return session, nil
}

// ApplyAppendJob applies a queued append.
func (s *ChatService) ApplyAppendJob(ctx context.Context, job model.AppendJob) (*model.Session, error) {
	return s.AppendMessage(ctx, AppendMessageInput{
		UserID:    job.UserID,
		SessionID: job.SessionID,
		Role:      job.Role,
		Content:   job.Content,
		Data:      job.Data,
	})
}

// GetHistory returns the full log of a session the user owns. Concurrent
// cache misses for the same session share one database read.
func (s *ChatService) GetHistory(ctx context.Context, userID, sessionID uint) ([]model.Message, error) {
	if userID == 0 || sessionID == 0 {
		return nil, ErrInvalidInput
	}

	owned, err := s.sessionRepo.IsOwnedBy(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if !owned {
		return nil, ErrSessionNotFound
	}

	if s.historyCache != nil {
		cached, hit, err := s.historyCache.GetHistory(ctx, sessionID)
		if err != nil {
			s.logger.Warn("read history cache failed", zap.Uint("session_id", sessionID), zap.Error(err))
		} else if hit {
			return cached, nil
		}
	}

	v, err, _ := s.historyGroup.Do(strconv.FormatUint(uint64(sessionID), 10), func() (interface{}, error) {
		messages, err := s.sessionRepo.History(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if s.historyCache != nil {
			if err := s.historyCache.SetHistory(ctx, sessionID, messages); err != nil {
				s.logger.Warn("write history cache failed", zap.Uint("session_id", sessionID), zap.Error(err))
			}
		}
		return messages, nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	shared := v.([]model.Message)
	out := make([]model.Message, len(shared))
	copy(out, shared)
	return out, nil
}

func (s *ChatService) invalidate(ctx context.Context, sessionID uint) {
	if s.historyCache == nil {
		return
	}
	if err := s.historyCache.Invalidate(ctx, sessionID); err != nil {
		s.logger.Warn("invalidate history cache failed", zap.Uint("session_id", sessionID), zap.Error(err))
	}
}
