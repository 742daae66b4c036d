package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError carrying the same code, so callers can compare
// against the sentinel values below with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// StatusCode maps the error code to an HTTP status.
func (e *AppError) StatusCode() int {
	switch e.Code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrNotEligible, ErrBloodTypeMismatch, ErrInvalidTransition:
		return http.StatusUnprocessableEntity
	case ErrInvalidCollectionDate, ErrNoFieldsToUpdate, ErrInvalidInput:
		return http.StatusBadRequest
	case ErrDuplicateUnitID, ErrOutOfStock:
		return http.StatusConflict
	case ErrPermissionDenied:
		return http.StatusForbidden
	case ErrUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Kind returns the stable machine-readable name of the error code.
func (e *AppError) Kind() string {
	if name, ok := kindNames[e.Code]; ok {
		return name
	}
	return "INTERNAL"
}

// PublicMessage is the text safe to show across the API boundary. Wrapped
// causes are never included.
func (e *AppError) PublicMessage() string {
	return e.Message
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrNotEligible
	ErrBloodTypeMismatch
	ErrInvalidCollectionDate
	ErrDuplicateUnitID
	ErrOutOfStock
	ErrNoFieldsToUpdate
	ErrPermissionDenied
	ErrPersistence
	ErrInvalidInput
	ErrInvalidTransition
	ErrUnauthorized
)

var kindNames = map[ErrorCode]string{
	ErrNotFound:              "NOT_FOUND",
	ErrNotEligible:           "NOT_ELIGIBLE",
	ErrBloodTypeMismatch:     "BLOOD_TYPE_MISMATCH",
	ErrInvalidCollectionDate: "INVALID_COLLECTION_DATE",
	ErrDuplicateUnitID:       "DUPLICATE_UNIT_ID",
	ErrOutOfStock:            "OUT_OF_STOCK",
	ErrNoFieldsToUpdate:      "NO_FIELDS_TO_UPDATE",
	ErrPermissionDenied:      "PERMISSION_DENIED",
	ErrPersistence:           "PERSISTENCE_FAILURE",
	ErrInvalidInput:          "INVALID_INPUT",
	ErrInvalidTransition:     "INVALID_TRANSITION",
	ErrUnauthorized:          "UNAUTHORIZED",
}

// Sentinels for errors.Is comparisons.
var (
	NotFoundErr              = &AppError{Code: ErrNotFound}
	NotEligibleErr           = &AppError{Code: ErrNotEligible}
	BloodTypeMismatchErr     = &AppError{Code: ErrBloodTypeMismatch}
	InvalidCollectionDateErr = &AppError{Code: ErrInvalidCollectionDate}
	DuplicateUnitIDErr       = &AppError{Code: ErrDuplicateUnitID}
	OutOfStockErr            = &AppError{Code: ErrOutOfStock}
	NoFieldsToUpdateErr      = &AppError{Code: ErrNoFieldsToUpdate}
	PermissionDeniedErr      = &AppError{Code: ErrPermissionDenied}
	PersistenceErr           = &AppError{Code: ErrPersistence}
	InvalidInputErr          = &AppError{Code: ErrInvalidInput}
	InvalidTransitionErr     = &AppError{Code: ErrInvalidTransition}
)

// Error constructors
func NotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NotEligible(reason string) *AppError {
	return &AppError{
		Code:    ErrNotEligible,
		Message: fmt.Sprintf("donor is not eligible: %s", reason),
	}
}

func BloodTypeMismatch(donorType, requested string) *AppError {
	return &AppError{
		Code:    ErrBloodTypeMismatch,
		Message: fmt.Sprintf("blood type %s does not match donor blood type %s", requested, donorType),
	}
}

func InvalidCollectionDate(message string) *AppError {
	return &AppError{
		Code:    ErrInvalidCollectionDate,
		Message: "invalid collection date: " + message,
	}
}

func DuplicateUnitID(unitID string, err error) *AppError {
	return &AppError{
		Code:    ErrDuplicateUnitID,
		Message: fmt.Sprintf("unit id %s already exists", unitID),
		Err:     err,
	}
}

func OutOfStock(bloodType string) *AppError {
	return &AppError{
		Code:    ErrOutOfStock,
		Message: fmt.Sprintf("no available units of blood type %s", bloodType),
	}
}

func NoFieldsToUpdate() *AppError {
	return &AppError{
		Code:    ErrNoFieldsToUpdate,
		Message: "no updatable fields supplied",
	}
}

func PermissionDenied(capability string) *AppError {
	return &AppError{
		Code:    ErrPermissionDenied,
		Message: fmt.Sprintf("permission denied: %s capability required", capability),
	}
}

// Persistence hides the driver error behind a generic message; the cause is
// kept for logging only.
func Persistence(err error) *AppError {
	return &AppError{
		Code:    ErrPersistence,
		Message: "persistence failure",
		Err:     err,
	}
}

func InvalidInput(message string) *AppError {
	return &AppError{
		Code:    ErrInvalidInput,
		Message: message,
	}
}

func InvalidTransition(message string) *AppError {
	return &AppError{
		Code:    ErrInvalidTransition,
		Message: message,
	}
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}

// As extracts an *AppError from err.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Wrap keeps AppErrors as they are and turns anything else into a
// persistence failure.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := As(err); ok {
		return err
	}
	return Persistence(err)
}
