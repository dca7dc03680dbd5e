package handler

import (
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"contact-service/internal/model"
	"contact-service/internal/service"
	"contact-service/internal/util"
)

// ContactHandler handles HTTP requests for the contact form
type ContactHandler struct {
	contactService *service.ContactService
	logger         *zap.Logger
}

// NewContactHandler creates a new contact handler
func NewContactHandler(contactService *service.ContactService, logger *zap.Logger) *ContactHandler {
	return &ContactHandler{
		contactService: contactService,
		logger:         logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

// SubmissionReceipt is what the submitter gets back; the stored message body
// is not echoed.
type SubmissionReceipt struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// RegisterRoutes registers all contact routes
func (h *ContactHandler) RegisterRoutes(router chi.Router) {
	router.Route("/contact", func(r chi.Router) {
		r.Post("/", h.SubmitMessage)
		r.Get("/{messageID}", h.GetSubmission)
	})
}

// SubmitMessage handles a contact form submission
func (h *ContactHandler) SubmitMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req service.SubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	identity := clientIdentity(r)
	msg, err := h.contactService.SubmitMessage(ctx, &req, identity)
	if err != nil {
		var rle *service.RateLimitedError
		if errors.As(err, &rle) {
			w.Header().Set("Retry-After", retryAfterSeconds(rle.RetryAfter))
			h.respondWithError(w, http.StatusTooManyRequests, rle,
				"Too many contact attempts. Please try again later.")
			return
		}
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to submit message")
		return
	}

	receipt := SubmissionReceipt{ID: msg.ID, CreatedAt: msg.CreatedAt}
	h.respondWithJSON(w, http.StatusCreated, successResponse(receipt,
		"Thank you for your message! I'll get back to you soon."))
	h.logger.Info("Contact message submitted via HTTP",
		util.String("message_id", msg.ID),
		util.String("identity", identity),
		util.Duration("duration", time.Since(startTime)),
	)
}

// GetSubmission returns the receipt for a previously submitted message
func (h *ContactHandler) GetSubmission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	messageID := chi.URLParam(r, "messageID")
	msg, err := h.contactService.GetSubmission(ctx, messageID)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to get submission")
		return
	}

	receipt := SubmissionReceipt{ID: msg.ID, CreatedAt: msg.CreatedAt}
	h.respondWithJSON(w, http.StatusOK, successResponse(receipt, "Submission found"))
}

// getStatusCode maps service errors to HTTP status codes
func (h *ContactHandler) getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, model.ErrMessageNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *ContactHandler) respondWithJSON(w http.ResponseWriter, statusCode int, payload Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to encode response", util.ErrorField(err))
	}
}

func (h *ContactHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.respondWithJSON(w, statusCode, errorResponse(err, message))
}

// clientIdentity resolves the submitter identity. RealIP middleware has
// already rewritten RemoteAddr from X-Forwarded-For / X-Real-IP.
func clientIdentity(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return host
}

// retryAfterSeconds formats a Retry-After header value, rounded up so the
// client never retries before the window resets.
func retryAfterSeconds(d time.Duration) string {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}
