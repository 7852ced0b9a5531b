// Package errors defines the error taxonomy shared by the detector.
//
// Every failure that reaches a user action boundary is an *AppError with a
// Category telling the caller where it happened (startup, acquiring an image,
// or running the model) and a Code for programmatic checks.
package errors

import (
	"errors"
	"strings"
)

// Category groups errors by the stage that produced them.
type Category int

const (
	// CategoryInitialization errors happen while loading the catalogue or model.
	CategoryInitialization Category = iota

	// CategoryAcquisition errors happen while picking, capturing or decoding an image.
	CategoryAcquisition

	// CategoryInference errors happen while preprocessing or running the model.
	CategoryInference
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryInitialization:
		return "initialization"
	case CategoryAcquisition:
		return "acquisition"
	case CategoryInference:
		return "inference"
	default:
		return "unknown"
	}
}

const (
	// Startup
	CodeCatalogueParse = "CATALOGUE_PARSE_ERROR"
	CodeModelLoad      = "MODEL_LOAD_ERROR"
	CodeConfigInvalid  = "CONFIG_INVALID"

	// Image acquisition
	CodeImageDecode      = "IMAGE_DECODE_ERROR"
	CodeCaptureFailed    = "CAPTURE_FAILED"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeActionCancelled  = "ACTION_CANCELLED"
	CodeRequestPending   = "REQUEST_PENDING"
	CodeNoPendingRequest = "NO_PENDING_REQUEST"
	CodeSessionBusy      = "SESSION_BUSY"

	// Inference
	CodePreprocessFailed = "PREPROCESS_FAILED"
	CodeInferenceRuntime = "INFERENCE_RUNTIME_ERROR"
)

// AppError is the error type returned across package boundaries.
type AppError struct {
	// Code is a stable identifier, one of the Code* constants.
	Code string

	// Message is safe to show to the user.
	Message string

	Category Category

	// Inner is the underlying error, if any.
	Inner error
}

// Error returns the error message.
func (e *AppError) Error() string {
	var sb strings.Builder

	if e.Code != "" {
		sb.WriteString("[")
		sb.WriteString(e.Code)
		sb.WriteString("] ")
	}

	sb.WriteString(e.Message)

	if e.Inner != nil {
		innerMsg := e.Inner.Error()
		if innerMsg != "" && innerMsg != e.Message {
			sb.WriteString(": ")
			sb.WriteString(innerMsg)
		}
	}

	return sb.String()
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Inner
}

// Is reports whether target is the inner error or an AppError with the same code.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if errors.As(target, &t) && t.Code != "" && t.Inner == nil {
		return t.Code == e.Code
	}
	return errors.Is(e.Inner, target)
}

// New creates a new AppError.
func New(code, message string, category Category) *AppError {
	return &AppError{
		Code:     code,
		Message:  message,
		Category: category,
	}
}

// Wrap wraps err with a code and message. It returns nil if err is nil.
func Wrap(err error, code, message string, category Category) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:     code,
		Message:  message,
		Category: category,
		Inner:    err,
	}
}

// GetCategory extracts the category from an error.
// Errors that are not AppErrors count as inference errors, since anything
// unexpected surfaces while running an action.
func GetCategory(err error) Category {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Category
	}
	return CategoryInference
}

// HasCode reports whether any AppError in err's chain carries code.
func HasCode(err error, code string) bool {
	for err != nil {
		var appErr *AppError
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Inner
	}
	return false
}

// UserMessage returns the text shown in the result area for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		inner := UserMessage(appErr.Inner)
		if inner != "" && inner != appErr.Message {
			return appErr.Message + ": " + inner
		}
		return appErr.Message
	}
	return err.Error()
}
