package protocol

import (
	"errors"
	"time"
)

// Core protocol errors
var (
	// Connection errors

	ErrConnectionClosed  = errors.New("connection is closed")
	ErrConnectionTimeout = errors.New("connection timeout")
	ErrDialFailed        = errors.New("dial failed")

	// Envelope errors

	ErrMessageTooLarge     = errors.New("message too large")
	ErrMalformedEnvelope   = errors.New("malformed envelope")
	ErrSerializationFailed = errors.New("serialization failed")
	ErrUnknownCodec        = errors.New("unknown envelope codec")
)

// ErrorCode represents a numeric error code for efficient error handling
type ErrorCode int

const (
	ErrorCodeSuccess ErrorCode = 0

	// Connection error codes (1000-1999)

	ErrorCodeConnectionClosed  ErrorCode = 1001
	ErrorCodeConnectionTimeout ErrorCode = 1002
	ErrorCodeDialFailed        ErrorCode = 1007

	// Envelope error codes (3000-3999)

	ErrorCodeMessageTooLarge     ErrorCode = 3001
	ErrorCodeMalformedEnvelope   ErrorCode = 3003
	ErrorCodeSerializationFailed ErrorCode = 3005
	ErrorCodeUnknownCodec        ErrorCode = 3007

	ErrorCodeUnknownError ErrorCode = 9999
)

// Error represents a protocol-specific error with additional context
type Error struct {
	Code      ErrorCode
	Message   string
	Cause     error
	Context   map[string]any
	Timestamp int64
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewProtocolError creates a new protocol error
func NewProtocolError(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Context:   make(map[string]any),
		Timestamp: time.Now().Unix(),
	}
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

// IsFatal reports whether the connection the error came from is unusable.
func (e *Error) IsFatal() bool {
	switch e.Code {
	case ErrorCodeConnectionClosed, ErrorCodeDialFailed:
		return true
	default:
		return false
	}
}

var errorCodeMap = map[error]ErrorCode{
	ErrConnectionClosed:    ErrorCodeConnectionClosed,
	ErrConnectionTimeout:   ErrorCodeConnectionTimeout,
	ErrDialFailed:          ErrorCodeDialFailed,
	ErrMessageTooLarge:     ErrorCodeMessageTooLarge,
	ErrMalformedEnvelope:   ErrorCodeMalformedEnvelope,
	ErrSerializationFailed: ErrorCodeSerializationFailed,
	ErrUnknownCodec:        ErrorCodeUnknownCodec,
}

// GetErrorCode returns the error code for a given error, looking through
// wrapped errors.
func GetErrorCode(err error) ErrorCode {
	if err == nil {
		return ErrorCodeSuccess
	}
	var protocolErr *Error
	if errors.As(err, &protocolErr) {
		return protocolErr.Code
	}
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return ErrorCodeUnknownError
}

// WrapError wraps a standard error into a protocol Error
func WrapError(err error, message string) *Error {
	return NewProtocolError(GetErrorCode(err), message, err)
}

// SerializationError reports a diff or envelope that could not be produced.
// It matches ErrSerializationFailed with errors.Is.
type SerializationError struct {
	Channel string
	Op      string
	Err     error
}

func (e *SerializationError) Error() string {
	return "serialize " + e.Op + " for channel " + e.Channel + ": " + e.Err.Error()
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

func (e *SerializationError) Is(target error) bool {
	return target == ErrSerializationFailed
}
