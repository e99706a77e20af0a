package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Standard error types that can be used throughout the application
var (
	// Standard error sentinel values
	ErrNotFound      = errors.New("resource not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrInternalError = errors.New("internal error")
	ErrUnavailable   = errors.New("service unavailable")
	ErrCanceled      = errors.New("operation canceled")

	// Domain-specific error sentinel values
	ErrSessionNotFound  = errors.New("call session not found")
	ErrDuplicateSession = errors.New("call session already registered")
	ErrAlreadyRecording = errors.New("recording already active")
	ErrNotRecording     = errors.New("recording not active")
	ErrArtifactNotFound = errors.New("recording artifact not found")
	ErrAmbiguousStream  = errors.New("stream id owned by more than one participant")
	ErrSinkWrite        = errors.New("audio sink write failure")
	ErrSessionTermed    = errors.New("call session already disconnected")
)

// Error represents a structured error with caller location and additional context
type Error struct {
	// original is the underlying error
	original error

	// message is the error message
	message string

	// fields contains contextual information
	fields map[string]interface{}

	// file and line record where the error was created
	file string
	line int

	// Code is an optional error code for categorization
	Code string
}

// New creates a new structured error with the given message
func New(message string, fields ...map[string]interface{}) *Error {
	_, file, line, _ := runtime.Caller(1)

	var fieldMap map[string]interface{}
	if len(fields) > 0 && fields[0] != nil {
		fieldMap = fields[0]
	} else {
		fieldMap = make(map[string]interface{})
	}

	return &Error{
		original: errors.New(message),
		message:  message,
		fields:   fieldMap,
		file:     file,
		line:     line,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, message string, fields ...map[string]interface{}) *Error {
	if err == nil {
		return nil
	}

	_, file, line, _ := runtime.Caller(1)

	var fieldMap map[string]interface{}
	if len(fields) > 0 && fields[0] != nil {
		fieldMap = fields[0]
	} else {
		fieldMap = make(map[string]interface{})
	}

	return &Error{
		original: err,
		message:  message,
		fields:   fieldMap,
		file:     file,
		line:     line,
	}
}

// WithField adds a single field to the error context
func (e *Error) WithField(key string, value interface{}) *Error {
	if e == nil {
		return nil
	}

	// Create a copy to avoid modifying the original
	result := &Error{
		original: e.original,
		message:  e.message,
		fields:   make(map[string]interface{}, len(e.fields)+1),
		file:     e.file,
		line:     e.line,
		Code:     e.Code,
	}

	for k, v := range e.fields {
		result.fields[k] = v
	}
	result.fields[key] = value

	return result
}

// WithCode adds an error code to the error
func (e *Error) WithCode(code string) *Error {
	if e == nil {
		return nil
	}

	return &Error{
		original: e.original,
		message:  e.message,
		fields:   e.fields,
		file:     e.file,
		line:     e.line,
		Code:     code,
	}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil || e.original == nil {
		return ""
	}

	if e.message == "" {
		return e.original.Error()
	}

	return fmt.Sprintf("%s: %v", e.message, e.original)
}

// Unwrap implements the errors.Unwrap interface
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.original
}

// Location returns the file:line where the error was created
func (e *Error) Location() string {
	if e == nil {
		return ""
	}

	parts := strings.Split(e.file, "/")
	filename := parts[len(parts)-1]

	return fmt.Sprintf("%s:%d", filename, e.line)
}

// GetFields returns the error's context fields
func (e *Error) GetFields() map[string]interface{} {
	if e == nil {
		return nil
	}
	return e.fields
}

// GetCode returns the error's code
func (e *Error) GetCode() string {
	if e == nil {
		return ""
	}
	return e.Code
}

// Is reports whether any error in err's tree matches target.
// Implements the errors.Is interface.
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}

	if errors.Is(e.original, target) {
		return true
	}

	return e == target
}

// AsJSON returns the error in JSON-friendly map format
func (e *Error) AsJSON() map[string]interface{} {
	if e == nil {
		return nil
	}

	result := map[string]interface{}{
		"message":  e.Error(),
		"location": e.Location(),
	}

	if e.Code != "" {
		result["code"] = e.Code
	}

	if len(e.fields) > 0 {
		result["context"] = e.fields
	}

	return result
}

// NewSessionNotFound creates a new ErrSessionNotFound with additional context
func NewSessionNotFound(callID string, fields ...map[string]interface{}) *Error {
	fieldMap := make(map[string]interface{})
	if len(fields) > 0 && fields[0] != nil {
		fieldMap = fields[0]
	}
	fieldMap["call_id"] = callID

	_, file, line, _ := runtime.Caller(1)

	return &Error{
		original: ErrSessionNotFound,
		message:  fmt.Sprintf("call session not found: %s", callID),
		fields:   fieldMap,
		file:     file,
		line:     line,
		Code:     "SESSION_NOT_FOUND",
	}
}

// NewDuplicateSession creates a new ErrDuplicateSession with additional context
func NewDuplicateSession(callID string) *Error {
	_, file, line, _ := runtime.Caller(1)

	return &Error{
		original: ErrDuplicateSession,
		message:  fmt.Sprintf("call session already registered: %s", callID),
		fields:   map[string]interface{}{"call_id": callID},
		file:     file,
		line:     line,
		Code:     "DUPLICATE_SESSION",
	}
}

// NewArtifactNotFound creates a new ErrArtifactNotFound with additional context
func NewArtifactNotFound(speakerKey string) *Error {
	_, file, line, _ := runtime.Caller(1)

	return &Error{
		original: ErrArtifactNotFound,
		message:  fmt.Sprintf("recording artifact not found: %s", speakerKey),
		fields:   map[string]interface{}{"speaker_key": speakerKey},
		file:     file,
		line:     line,
		Code:     "ARTIFACT_NOT_FOUND",
	}
}

// NewAmbiguousStream reports a platform contract breach where a stream id
// matched more than one roster entry.
func NewAmbiguousStream(streamID uint32, matches int) *Error {
	_, file, line, _ := runtime.Caller(1)

	return &Error{
		original: ErrAmbiguousStream,
		message:  fmt.Sprintf("stream id %d matched %d participants", streamID, matches),
		fields:   map[string]interface{}{"stream_id": streamID, "matches": matches},
		file:     file,
		line:     line,
		Code:     "AMBIGUOUS_STREAM",
	}
}

// IsErrorType checks if an error is of a specific error type
func IsErrorType(err, target error) bool {
	return errors.Is(err, target)
}

// GetErrorCode extracts the error code from an error if it's a structured error
func GetErrorCode(err error) string {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.GetCode()
	}
	return ""
}

// GetErrorFields extracts fields from an error if it's a structured error
func GetErrorFields(err error) map[string]interface{} {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.GetFields()
	}
	return nil
}
