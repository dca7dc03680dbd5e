package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"contact-service/internal/model"
	"contact-service/internal/ratelimit"
)

type stubRepository struct {
	saved   []*model.ContactMessage
	saveErr error
}

func (r *stubRepository) SaveMessage(_ context.Context, msg *model.ContactMessage) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saved = append(r.saved, msg)
	return nil
}

func (r *stubRepository) GetMessageByID(_ context.Context, id string) (*model.ContactMessage, error) {
	for _, msg := range r.saved {
		if msg.ID == id {
			return msg, nil
		}
	}
	return nil, model.ErrMessageNotFound
}

func (r *stubRepository) HealthCheck(context.Context) error { return nil }

type stubPublisher struct {
	events chan *model.SubmissionEvent
}

func newStubPublisher() *stubPublisher {
	return &stubPublisher{events: make(chan *model.SubmissionEvent, 8)}
}

func (p *stubPublisher) PublishSubmission(_ context.Context, ev *model.SubmissionEvent) error {
	p.events <- ev
	return nil
}

func newTestService(t *testing.T, repo model.MessageRepository, publisher model.EventPublisher, limit int, window time.Duration) *ContactService {
	t.Helper()
	store := ratelimit.NewMemoryStore()
	t.Cleanup(store.Close)

	limiter, err := ratelimit.NewLimiter(store, limit, window, ratelimit.WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	return NewContactService(repo, publisher, limiter, zap.NewNop())
}

func validRequest() *SubmissionRequest {
	return &SubmissionRequest{
		Name:    "Jane Doe",
		Email:   "jane@example.com",
		Message: "I would like to discuss a project with you.",
	}
}

func TestSubmitMessageStoresAndPublishes(t *testing.T) {
	repo := &stubRepository{}
	publisher := newStubPublisher()
	svc := newTestService(t, repo, publisher, 3, time.Minute)

	msg, err := svc.SubmitMessage(context.Background(), validRequest(), "203.0.113.7")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if msg.ID == "" {
		t.Fatal("expected a message id")
	}
	if msg.IPAddress != "203.0.113.7" {
		t.Fatalf("ip address = %q", msg.IPAddress)
	}
	if len(repo.saved) != 1 {
		t.Fatalf("saved %d messages, want 1", len(repo.saved))
	}

	select {
	case ev := <-publisher.events:
		if ev.MessageID != msg.ID {
			t.Fatalf("event message id = %q, want %q", ev.MessageID, msg.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("submission event was not published")
	}
}

func TestSubmitMessageHoneypotRejected(t *testing.T) {
	repo := &stubRepository{}
	svc := newTestService(t, repo, nil, 3, time.Minute)

	req := validRequest()
	req.Website = "http://spam.example"

	_, err := svc.SubmitMessage(context.Background(), req, "203.0.113.7")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if len(repo.saved) != 0 {
		t.Fatal("honeypot submission must not be stored")
	}
}

func TestSubmitMessageValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*SubmissionRequest)
	}{
		{"short name", func(r *SubmissionRequest) { r.Name = "J" }},
		{"name with markup", func(r *SubmissionRequest) { r.Name = "<b>Jane</b>" }},
		{"bad email", func(r *SubmissionRequest) { r.Email = "not-an-email" }},
		{"short message", func(r *SubmissionRequest) { r.Message = "hi" }},
		{"whitespace only message", func(r *SubmissionRequest) { r.Message = "           " }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &stubRepository{}
			svc := newTestService(t, repo, nil, 3, time.Minute)

			req := validRequest()
			tc.mutate(req)

			_, err := svc.SubmitMessage(context.Background(), req, "203.0.113.7")
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
			if len(repo.saved) != 0 {
				t.Fatal("invalid submission must not be stored")
			}
		})
	}
}

func TestSubmitMessageEscapesStoredFields(t *testing.T) {
	repo := &stubRepository{}
	svc := newTestService(t, repo, nil, 3, time.Minute)

	req := validRequest()
	req.Message = "Check out <script>alert(1)</script> on my site"

	if _, err := svc.SubmitMessage(context.Background(), req, "203.0.113.7"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	stored := repo.saved[0].Message
	if strings.Contains(stored, "<script>") {
		t.Fatalf("stored message not escaped: %q", stored)
	}
}

func TestSubmitMessageRateLimited(t *testing.T) {
	repo := &stubRepository{}
	svc := newTestService(t, repo, nil, 2, time.Minute)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := svc.SubmitMessage(ctx, validRequest(), "203.0.113.7"); err != nil {
			t.Fatalf("submission %d: %v", i+1, err)
		}
	}

	_, err := svc.SubmitMessage(ctx, validRequest(), "203.0.113.7")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}

	var rle *RateLimitedError
	if !errors.As(err, &rle) {
		t.Fatalf("err %T does not carry retry-after", err)
	}
	if rle.RetryAfter <= 0 || rle.RetryAfter > time.Minute {
		t.Fatalf("retry after = %s", rle.RetryAfter)
	}

	// A different identity is still admitted.
	if _, err := svc.SubmitMessage(ctx, validRequest(), "198.51.100.9"); err != nil {
		t.Fatalf("different identity: %v", err)
	}
}

func TestSubmitMessageInvalidInputDoesNotConsumeQuota(t *testing.T) {
	repo := &stubRepository{}
	svc := newTestService(t, repo, nil, 1, time.Minute)

	ctx := context.Background()
	bad := validRequest()
	bad.Email = "nope"
	for i := 0; i < 5; i++ {
		svc.SubmitMessage(ctx, bad, "203.0.113.7")
	}

	if _, err := svc.SubmitMessage(ctx, validRequest(), "203.0.113.7"); err != nil {
		t.Fatalf("valid submission after invalid ones: %v", err)
	}
}

func TestSubmitMessageStorageFailure(t *testing.T) {
	repo := &stubRepository{saveErr: errors.New("disk full")}
	svc := newTestService(t, repo, nil, 3, time.Minute)

	_, err := svc.SubmitMessage(context.Background(), validRequest(), "203.0.113.7")
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("err = %v, want ErrStorage", err)
	}
}

func TestGetSubmission(t *testing.T) {
	repo := &stubRepository{}
	svc := newTestService(t, repo, nil, 3, time.Minute)

	msg, err := svc.SubmitMessage(context.Background(), validRequest(), "203.0.113.7")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	got, err := svc.GetSubmission(context.Background(), msg.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != msg.ID {
		t.Fatalf("got id %q, want %q", got.ID, msg.ID)
	}

	if _, err := svc.GetSubmission(context.Background(), "not-a-uuid"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}
