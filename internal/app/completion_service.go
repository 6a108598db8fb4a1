package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"tinyagent/internal/ai"
	"tinyagent/internal/model"
)

// AppendPublisher hands a finished completion to the persist queue.
type AppendPublisher interface {
	PublishAppend(ctx context.Context, job model.AppendJob) error
}

type StreamDefaults struct {
	Model       string
	Granularity ai.Granularity
	Pace        time.Duration
}

// CompletionService answers the fake completion endpoint. It never writes to
// storage unless the caller asked for the output to be kept in a session.
type CompletionService struct {
	encoder   *ai.Encoder
	chat      *ChatService
	publisher AppendPublisher
	defaults  StreamDefaults
	logger    *zap.Logger
}

type CompletionInput struct {
	Messages    []ai.ChatMessage
	ID          string
	Model       string
	Granularity string
	// PaceMS nil means the configured default; 0 disables pacing.
	PaceMS *int

	// UserID and SessionID are both set when the output should be appended
	// to the session once the stream completed.
	UserID    uint
	SessionID uint
}

// PreparedCompletion is a validated request ready to be streamed or answered
// in one piece.
type PreparedCompletion struct {
	Request   ai.StreamRequest
	userID    uint
	sessionID uint
}

func (p *PreparedCompletion) Persistent() bool {
	return p.sessionID != 0
}

// NewCompletionService builds the service. A nil publisher makes persistence
// synchronous.
func NewCompletionService(chat *ChatService, publisher AppendPublisher, defaults StreamDefaults, logger *zap.Logger) *CompletionService {
	if defaults.Granularity == "" {
		defaults.Granularity = ai.GranularityChar
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CompletionService{
		encoder:   ai.NewEncoder(),
		chat:      chat,
		publisher: publisher,
		defaults:  defaults,
		logger:    logger.Named("completion"),
	}
}

func (s *CompletionService) Prepare(ctx context.Context, input CompletionInput) (*PreparedCompletion, error) {
	if len(input.Messages) == 0 {
		return nil, ErrInvalidInput
	}

	granularity := s.defaults.Granularity
	if strings.TrimSpace(input.Granularity) != "" {
		g, err := ai.ParseGranularity(input.Granularity)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		granularity = g
	}

	pace := s.defaults.Pace
	if input.PaceMS != nil {
		if *input.PaceMS < 0 {
			return nil, ErrInvalidInput
		}
		pace = time.Duration(*input.PaceMS) * time.Millisecond
	}

	id := strings.TrimSpace(input.ID)
	if id == "" {
		id = ai.NewCompletionID()
	}
	modelName := strings.TrimSpace(input.Model)
	if modelName == "" {
		modelName = s.defaults.Model
	}

	prepared := &PreparedCompletion{
		Request: ai.StreamRequest{
			Text:        ai.LastContent(input.Messages),
			ID:          id,
			Model:       modelName,
			Granularity: granularity,
			Pace:        pace,
		},
	}

	if input.SessionID != 0 {
		if input.UserID == 0 {
			return nil, ErrUnauthenticated
		}
		owned, err := s.chat.sessionRepo.IsOwnedBy(ctx, input.SessionID, input.UserID)
		if err != nil {
			return nil, err
		}
		if !owned {
			return nil, ErrSessionNotFound
		}
		prepared.userID = input.UserID
		prepared.sessionID = input.SessionID
	}
	return prepared, nil
}

// Stream pumps frames into emit in order. The text is persisted only when
// every frame, the end-of-stream sentinel included, was delivered; a failed
// emit or a cancelled ctx ends the stream with nothing stored.
func (s *CompletionService) Stream(ctx context.Context, p *PreparedCompletion, emit func(ai.Frame) error) error {
	delivered := false
	for frame := range s.encoder.Encode(ctx, p.Request) {
		if err := emit(frame); err != nil {
			return err
		}
		if frame.Sentinel {
			delivered = true
		}
	}
	if !delivered {
		if err := ctx.Err(); err != nil {
			return err
		}
		return context.Canceled
	}

	// the client got everything; keep the append even if it hangs up now
	return s.persist(context.WithoutCancel(ctx), p)
}

// Complete answers with the whole text at once, persisting it first when
// requested.
func (s *CompletionService) Complete(ctx context.Context, p *PreparedCompletion) (ai.Completion, error) {
	if err := s.persist(ctx, p); err != nil {
		return ai.Completion{}, err
	}
	return s.encoder.Complete(p.Request), nil
}

func (s *CompletionService) Models() []ai.ModelDescriptor {
	return ai.Catalog()
}

func (s *CompletionService) persist(ctx context.Context, p *PreparedCompletion) error {
	if !p.Persistent() || p.Request.Text == "" {
		return nil
	}

	job := model.AppendJob{
		UserID:    p.userID,
		SessionID: p.sessionID,
		Role:      model.RoleAssistant,
		Content:   p.Request.Text,
		Data:      map[string]interface{}{"completion_id": p.Request.ID, "model": p.Request.Model},
	}
	if s.publisher != nil {
		if err := s.publisher.PublishAppend(ctx, job); err != nil {
			s.logger.Error("publish completion append failed",
				zap.Uint("session_id", job.SessionID), zap.String("completion_id", p.Request.ID), zap.Error(err))
			return err
		}
		return nil
	}

	_, err := s.chat.ApplyAppendJob(ctx, job)
	return err
}
