package model

import (
	"context"
	"errors"
	"time"
)

// ErrMessageNotFound is returned by MessageRepository lookups for unknown ids.
var ErrMessageNotFound = errors.New("contact message not found")

// -------------------- CONTACT MESSAGE --------------------

// ContactMessage is a stored contact-form submission.
type ContactMessage struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	Name      string    `json:"name" gorm:"size:120;not null"`
	Email     string    `json:"email" gorm:"size:254;not null"`
	Message   string    `json:"message" gorm:"type:text;not null"`
	IPAddress string    `json:"ip_address" gorm:"size:45;index"` // submitter identity, for abuse follow-up
	CreatedAt time.Time `json:"created_at"`
}

// -------------------- SUBMISSION EVENT --------------------

// SubmissionEvent is published after a message is stored so downstream
// consumers (mail notifier, dashboards) can react without blocking the
// request path.
type SubmissionEvent struct {
	EventID    string    `json:"event_id"`
	MessageID  string    `json:"message_id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	ReceivedAt time.Time `json:"received_at"`
}

// -------------------- REPOSITORY INTERFACES --------------------

// MessageRepository defines the interface for contact message persistence
type MessageRepository interface {
	SaveMessage(ctx context.Context, msg *ContactMessage) error
	GetMessageByID(ctx context.Context, id string) (*ContactMessage, error)
	HealthCheck(ctx context.Context) error
}

// EventPublisher defines the interface for submission event delivery
type EventPublisher interface {
	PublishSubmission(ctx context.Context, ev *SubmissionEvent) error
}
