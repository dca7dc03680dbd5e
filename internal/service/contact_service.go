package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"contact-service/internal/model"
	"contact-service/internal/ratelimit"
	"contact-service/internal/util"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrRateLimited  = errors.New("too many contact attempts")
	ErrStorage      = errors.New("storage failure")
)

const (
	minNameLength    = 2
	minMessageLength = 10
	maxFieldLength   = 5000
)

// RateLimitedError carries the wait until the submitter's window resets.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many contact attempts, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// SubmissionRequest is the decoded contact form payload.
type SubmissionRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
	// Website is a honeypot field rendered hidden in the form; humans
	// never fill it.
	Website string `json:"website"`
}

// ContactService runs the contact submission workflow: validate, rate
// limit, persist, notify.
type ContactService struct {
	messages  model.MessageRepository
	publisher model.EventPublisher
	limiter   *ratelimit.Limiter
	logger    *zap.Logger
}

func NewContactService(
	messages model.MessageRepository,
	publisher model.EventPublisher,
	limiter *ratelimit.Limiter,
	logger *zap.Logger,
) *ContactService {
	return &ContactService{
		messages:  messages,
		publisher: publisher,
		limiter:   limiter,
		logger:    logger,
	}
}

// SubmitMessage handles one contact-form submission from identity (the
// client IP). A rate-limit denial comes back as *RateLimitedError; it is a
// normal user-visible outcome, not a server fault.
func (s *ContactService) SubmitMessage(ctx context.Context, req *SubmissionRequest, identity string) (*model.ContactMessage, error) {
	if req.Website != "" {
		// Honeypot tripped. Keep the rejection generic so bots learn
		// nothing from the response.
		s.logger.Warn("Honeypot field filled, rejecting submission",
			zap.String("identity", identity))
		return nil, fmt.Errorf("%w: form submission failed", ErrInvalidInput)
	}

	name := strings.TrimSpace(req.Name)
	email := strings.TrimSpace(req.Email)
	message := strings.TrimSpace(req.Message)

	if len(name) < minNameLength || len(name) > maxFieldLength {
		return nil, fmt.Errorf("%w: please enter a valid name (at least 2 characters)", ErrInvalidInput)
	}
	if util.ContainsSuspicious(name) {
		return nil, fmt.Errorf("%w: please enter a valid name", ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(email); err != nil || len(email) > 254 {
		return nil, fmt.Errorf("%w: please enter a valid email address", ErrInvalidInput)
	}
	if len(message) < minMessageLength || len(message) > maxFieldLength {
		return nil, fmt.Errorf("%w: please enter a message (at least 10 characters)", ErrInvalidInput)
	}

	if identity == "" {
		identity = "unknown"
	}

	decision := s.limiter.CheckAndRecord(ctx, identity)
	if !decision.Allowed {
		s.logger.Info("Contact submission rate limited",
			zap.String("identity", identity),
			zap.Duration("retry_after", decision.RetryAfter))
		return nil, &RateLimitedError{RetryAfter: decision.RetryAfter}
	}

	msg := &model.ContactMessage{
		ID:        uuid.NewString(),
		Name:      util.SanitizeInput(name),
		Email:     strings.ToLower(email),
		Message:   util.SanitizeInput(message),
		IPAddress: identity,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.messages.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	s.notify(msg)

	s.logger.Info("Contact message accepted",
		zap.String("message_id", msg.ID),
		zap.String("identity", identity),
		zap.Int("remaining", decision.Remaining))

	return msg, nil
}

// GetSubmission returns a stored submission by its receipt id.
func (s *ContactService) GetSubmission(ctx context.Context, id string) (*model.ContactMessage, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: invalid message id", ErrInvalidInput)
	}
	return s.messages.GetMessageByID(ctx, id)
}

// notify publishes the submission event off the request path. Delivery is
// best effort; the message is already persisted.
func (s *ContactService) notify(msg *model.ContactMessage) {
	if s.publisher == nil {
		return
	}

	ev := &model.SubmissionEvent{
		EventID:    uuid.NewString(),
		MessageID:  msg.ID,
		Name:       msg.Name,
		Email:      msg.Email,
		ReceivedAt: msg.CreatedAt,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.publisher.PublishSubmission(ctx, ev); err != nil {
			s.logger.Warn("Failed to publish submission event",
				zap.String("message_id", msg.ID),
				zap.Error(err))
		}
	}()
}
