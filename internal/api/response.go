package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cloo-solutions/kbindex/internal/domain"
)

// SuccessResponse wraps successful API responses
type SuccessResponse struct {
	Data interface{} `json:"data"`
}

// ErrorResponse is the body of every non-2xx response. Reason is only set on
// 409s and tells a busy dataset apart from a pointless request.
type ErrorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func Success(w http.ResponseWriter, status int, data interface{}) {
	JSON(w, status, SuccessResponse{Data: data})
}

func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

// Sentinels whose status differs from the one their class maps to.
var sentinelStatus = []struct {
	err    error
	status int
}{
	{domain.ErrStorageUnavailable, http.StatusServiceUnavailable},
	{domain.ErrPoolExhausted, http.StatusServiceUnavailable},
	{domain.ErrObjectTooLarge, http.StatusRequestEntityTooLarge},
}

var codeStatus = map[string]int{
	domain.ErrCodeValidation:           http.StatusBadRequest,
	domain.ErrCodeNonRetryable:         http.StatusBadRequest,
	domain.ErrCodeInvalidOperation:     http.StatusBadRequest,
	domain.ErrCodeNotFound:             http.StatusNotFound,
	domain.ErrCodeAlreadyExists:        http.StatusConflict,
	domain.ErrCodeConsistencyViolation: http.StatusConflict,
	domain.ErrCodeUnauthorized:         http.StatusUnauthorized,
	domain.ErrCodeForbidden:            http.StatusForbidden,
	domain.ErrCodeResourceExhausted:    http.StatusTooManyRequests,
	domain.ErrCodeRetryable:            http.StatusBadGateway,
}

var conflictReasons = []struct {
	err    error
	reason string
}{
	{domain.ErrTrainingActive, "training_active"},
	{domain.ErrRebuildActive, "rebuild_active"},
	{domain.ErrSameModel, "same_model"},
}

// DomainErrorToHTTP maps an error to a status code. Errors outside the
// domain taxonomy are 500s.
func DomainErrorToHTTP(err error) int {
	if err == nil {
		return http.StatusOK
	}
	code := domain.Code(err)
	if code == "" {
		return http.StatusInternalServerError
	}
	for _, s := range sentinelStatus {
		if errors.Is(err, s.err) {
			return s.status
		}
	}
	if status, ok := codeStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// ConflictReason names the rule a consistency violation broke, or "" for
// other errors.
func ConflictReason(err error) string {
	if !domain.IsConsistencyViolation(err) {
		return ""
	}
	for _, c := range conflictReasons {
		if errors.Is(err, c.err) {
			return c.reason
		}
	}
	return "conflict"
}

// HandleError writes the error envelope for err. Errors outside the domain
// taxonomy are reported without their message.
func HandleError(w http.ResponseWriter, err error) {
	status := DomainErrorToHTTP(err)
	code := domain.Code(err)
	if code == "" {
		Error(w, status, "internal server error")
		return
	}
	JSON(w, status, ErrorResponse{Error: err.Error(), Code: code, Reason: ConflictReason(err)})
}
