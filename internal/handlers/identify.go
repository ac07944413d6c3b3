package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"bitespeed/internal/logger"
	"bitespeed/internal/metrics"
	"bitespeed/internal/models"
	"bitespeed/internal/service"
)

const (
	msgMissingContactInfo = "Email or phoneNumber is required"
	msgInvalidJSON        = "Invalid JSON"
	msgInternal           = "Internal server error"
)

// maxBodyBytes caps the identify request body.
const maxBodyBytes = 1 << 16

// Identifier resolves an identify request into a consolidated contact.
type Identifier interface {
	Identify(ctx context.Context, req models.IdentifyRequest) (*models.IdentifyResponse, error)
}

// IdentifyHandler handles the /identify endpoint
type IdentifyHandler struct {
	service Identifier
	metrics *metrics.Metrics
}

// NewIdentifyHandler creates a new identify handler. m may be nil.
func NewIdentifyHandler(svc Identifier, m *metrics.Metrics) *IdentifyHandler {
	return &IdentifyHandler{service: svc, metrics: m}
}

// Handle processes the identify request
func (h *IdentifyHandler) Handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := metrics.StatusOK
	defer func() {
		h.metrics.ObserveRequest(status, time.Since(start).Seconds())
	}()

	ctx := r.Context()

	var req models.IdentifyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		logger.WarnCtx(ctx, "Error decoding request", zap.Error(err))
		status = metrics.StatusBadRequest
		writeError(ctx, w, http.StatusBadRequest, msgInvalidJSON)
		return
	}

	// at least one of email or phoneNumber must be provided
	if req.EmailValue() == "" && req.PhoneValue() == "" {
		status = metrics.StatusBadRequest
		writeError(ctx, w, http.StatusBadRequest, msgMissingContactInfo)
		return
	}

	response, err := h.service.Identify(ctx, req)
	if err != nil {
		if errors.Is(err, service.ErrMissingContactInfo) {
			status = metrics.StatusBadRequest
			writeError(ctx, w, http.StatusBadRequest, msgMissingContactInfo)
			return
		}
		logger.ErrorCtx(ctx, err, zap.String("handler", "identify"))
		status = metrics.StatusError
		writeError(ctx, w, http.StatusInternalServerError, msgInternal)
		return
	}

	writeJSON(ctx, w, http.StatusOK, response)
}

func writeError(ctx context.Context, w http.ResponseWriter, code int, msg string) {
	writeJSON(ctx, w, code, models.ErrorResponse{Error: msg})
}

func writeJSON(ctx context.Context, w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.WarnCtx(ctx, "Error encoding response", zap.Error(err))
	}
}
