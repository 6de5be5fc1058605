package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sheikh-saqib/interbank-payment-switch/internal/models"
)

type apiResponse struct {
	Status  string            `json:"status"`
	Message string            `json:"message,omitempty"`
	Code    models.ReasonCode `json:"code,omitempty"`
	Data    any               `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{Status: "success", Data: data})
}

func writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{Status: "error", Message: err.Error(), Code: code})
}

// classify maps an orchestrator error onto an HTTP status and reason code.
func classify(err error) (int, models.ReasonCode) {
	code := models.ReasonOf(err)
	switch {
	case errors.Is(err, models.ErrIntegrityViolation):
		return http.StatusConflict, models.ReasonDuplicate
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, code
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict, code
	}

	switch code {
	case models.ReasonMalformed:
		return http.StatusBadRequest, code
	case models.ReasonDuplicate:
		return http.StatusConflict, code
	case models.ReasonForbidden:
		return http.StatusForbidden, code
	case models.ReasonTechnical:
		return http.StatusServiceUnavailable, code
	default:
		return http.StatusUnprocessableEntity, code
	}
}
