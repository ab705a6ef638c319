package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/centralcitybank/backend/internal/services"
)

type WithdrawalHandler struct {
	service   *services.WithdrawalService
	validator *services.ValidationHelper
}

func NewWithdrawalHandler(service *services.WithdrawalService) *WithdrawalHandler {
	return &WithdrawalHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// AdvanceStage completes one approval stage of a pending withdrawal
// @Summary Advance withdrawal stage
// @Description Complete the named approval stage; stages must complete in catalogue order, each exactly once
// @Tags withdrawals
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Withdrawal ID"
// @Param name path string true "Stage name"
// @Param request body object{pin=string,notes=string} true "Stage advance request"
// @Success 200 {object} models.Withdrawal
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /withdrawals/{id}/stages/{name} [post]
func (h *WithdrawalHandler) AdvanceStage(w http.ResponseWriter, r *http.Request) {
	withdrawalID := chi.URLParam(r, "id")
	stageName := chi.URLParam(r, "name")

	var req struct {
		Pin   string `json:"pin" validate:"required,len=4,numeric"`
		Notes string `json:"notes" validate:"max=500"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := h.service.VerifyOwnerPin(withdrawalID, req.Pin); err != nil {
		if errors.Is(err, services.ErrWithdrawalNotFound) {
			services.SendErrorResponse(w, "Withdrawal not found", http.StatusNotFound, nil)
			return
		}
		services.SendErrorResponse(w, "Invalid PIN", http.StatusBadRequest, nil)
		return
	}

	withdrawal, err := h.service.AdvanceStage(withdrawalID, stageName, req.Notes)
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(withdrawal)
}

// GetWithdrawal returns a withdrawal with its stage history
// @Summary Get withdrawal
// @Tags withdrawals
// @Produce json
// @Security BearerAuth
// @Param id path string true "Withdrawal ID"
// @Success 200 {object} models.Withdrawal
// @Failure 404 {object} services.ErrorResponse
// @Router /withdrawals/{id} [get]
func (h *WithdrawalHandler) GetWithdrawal(w http.ResponseWriter, r *http.Request) {
	withdrawal, err := h.service.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(withdrawal)
}

// RejectWithdrawal fails a pending withdrawal and refunds the held amount
// @Summary Reject withdrawal
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Withdrawal ID"
// @Param request body object{reason=string} true "Rejection reason"
// @Success 200 {object} models.Withdrawal
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /admin/withdrawals/{id}/reject [put]
func (h *WithdrawalHandler) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason" validate:"required,max=500"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	withdrawal, err := h.service.Reject(chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(withdrawal)
}

func (h *WithdrawalHandler) writeWorkflowError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrWithdrawalNotFound):
		services.SendErrorResponse(w, "Withdrawal not found", http.StatusNotFound, nil)
	case errors.Is(err, services.ErrUnknownStage):
		services.SendErrorResponse(w, "Unknown stage", http.StatusNotFound, nil)
	case errors.Is(err, services.ErrStageOrder):
		services.SendErrorResponse(w, "Previous stage not completed", http.StatusBadRequest, nil)
	case errors.Is(err, services.ErrStageRepeated):
		services.SendErrorResponse(w, "Stage already completed", http.StatusBadRequest, nil)
	case errors.Is(err, services.ErrWithdrawalClosed):
		services.SendErrorResponse(w, "Withdrawal is not pending", http.StatusBadRequest, nil)
	default:
		services.SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
	}
}
