package dto

import "net/http"

// Error code constants organized by category
// Format: ERR_<CATEGORY>_<DESCRIPTION>

// General error codes
const (
	ErrCodeUnknown  = "ERR_UNKNOWN"
	ErrCodeInternal = "ERR_INTERNAL"
)

// Validation error codes
const (
	// ErrCodeValidation is the base code for validation errors
	ErrCodeValidation = "ERR_VALIDATION"
	// ErrCodeValidationRequired is used when a required field is missing
	ErrCodeValidationRequired = "ERR_VALIDATION_REQUIRED"
	// ErrCodeValidationFormat is used when a field has invalid format
	ErrCodeValidationFormat = "ERR_VALIDATION_FORMAT"
)

// Resource error codes
const (
	ErrCodeNotFound      = "ERR_NOT_FOUND"
	ErrCodeAlreadyExists = "ERR_ALREADY_EXISTS"
	ErrCodeConflict      = "ERR_CONFLICT"
)

// Pipeline error codes
const (
	// ErrCodeUnknownEntityType is used when a sync names an unmapped entity type
	ErrCodeUnknownEntityType = "ERR_UNKNOWN_ENTITY_TYPE"
	// ErrCodeUnknownProjection is used when a projection is not registered
	ErrCodeUnknownProjection = "ERR_UNKNOWN_PROJECTION"
	// ErrCodePipelineHalted is used when an entity type stopped on an ordering violation
	ErrCodePipelineHalted = "ERR_PIPELINE_HALTED"
	// ErrCodeProjectionHalted is used when a projection stopped on a failing event
	ErrCodeProjectionHalted = "ERR_PROJECTION_HALTED"
	// ErrCodeSyncInProgress is used when another writer holds the entity type
	ErrCodeSyncInProgress = "ERR_SYNC_IN_PROGRESS"
	// ErrCodeQueueFull is used when the job queue cannot take more work
	ErrCodeQueueFull = "ERR_QUEUE_FULL"
	// ErrCodeInvalidState is used when an operation is invalid for current state
	ErrCodeInvalidState = "ERR_INVALID_STATE"
	// ErrCodeUnavailable is used while the sync scheduler is stopped
	ErrCodeUnavailable = "ERR_UNAVAILABLE"
)

// Input error codes
const (
	ErrCodeBadRequest   = "ERR_BAD_REQUEST"
	ErrCodeInvalidInput = "ERR_INVALID_INPUT"
	ErrCodeInvalidJSON  = "ERR_INVALID_JSON"
)

// Rate limiting error codes
const (
	ErrCodeRateLimited = "ERR_RATE_LIMITED"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeUnknown:  http.StatusInternalServerError,
	ErrCodeInternal: http.StatusInternalServerError,

	ErrCodeValidation:         http.StatusBadRequest,
	ErrCodeValidationRequired: http.StatusBadRequest,
	ErrCodeValidationFormat:   http.StatusBadRequest,

	ErrCodeNotFound:      http.StatusNotFound,
	ErrCodeAlreadyExists: http.StatusConflict,
	ErrCodeConflict:      http.StatusConflict,

	ErrCodeUnknownEntityType: http.StatusBadRequest,
	ErrCodeUnknownProjection: http.StatusNotFound,
	ErrCodePipelineHalted:    http.StatusConflict,
	ErrCodeProjectionHalted:  http.StatusConflict,
	ErrCodeSyncInProgress:    http.StatusConflict,
	ErrCodeQueueFull:         http.StatusServiceUnavailable,
	ErrCodeInvalidState:      http.StatusUnprocessableEntity,
	ErrCodeUnavailable:       http.StatusServiceUnavailable,

	ErrCodeBadRequest:   http.StatusBadRequest,
	ErrCodeInvalidInput: http.StatusBadRequest,
	ErrCodeInvalidJSON:  http.StatusBadRequest,

	ErrCodeRateLimited: http.StatusTooManyRequests,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DomainErrorCodeMapping maps domain error codes to API error codes
var DomainErrorCodeMapping = map[string]string{
	"NOT_FOUND":             ErrCodeNotFound,
	"ALREADY_EXISTS":        ErrCodeAlreadyExists,
	"INVALID_INPUT":         ErrCodeInvalidInput,
	"INVALID_STATE":         ErrCodeInvalidState,
	"INVALID_SYNC_MODE":     ErrCodeInvalidInput,
	"UNKNOWN_ENTITY_TYPE":   ErrCodeUnknownEntityType,
	"UNKNOWN_PROJECTION":    ErrCodeUnknownProjection,
	"PIPELINE_HALTED":       ErrCodePipelineHalted,
	"PROJECTION_HALTED":     ErrCodeProjectionHalted,
	"RECOMPUTE_UNSUPPORTED": ErrCodeInvalidState,
	"LEASE_HELD":            ErrCodeSyncInProgress,
	"QUEUE_FULL":            ErrCodeQueueFull,
	"SCHEDULER_STOPPED":     ErrCodeUnavailable,
	"VALIDATION_ERROR":      ErrCodeValidation,
	"BAD_REQUEST":           ErrCodeBadRequest,
	"INTERNAL_ERROR":        ErrCodeInternal,
}

// NormalizeErrorCode converts a domain error code to the API format.
// Codes that are already in the API format or unknown are returned as-is.
func NormalizeErrorCode(code string) string {
	if newCode, ok := DomainErrorCodeMapping[code]; ok {
		return newCode
	}
	return code
}
