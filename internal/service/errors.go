package service

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"slices"
	"strings"

	"github.com/MimeLyc/webp-autogen/internal/config"
	"github.com/MimeLyc/webp-autogen/pkg/log"
)

type ErrorType int

const (
	ErrFileNotFound ErrorType = iota
	ErrFileRead
	ErrFileWrite
	ErrEncode
	ErrValidation
	ErrConfig
	ErrNetwork
	ErrUnknown
)

func (t ErrorType) String() string {
	switch t {
	case ErrFileNotFound:
		return "FileNotFound"
	case ErrFileRead:
		return "FileRead"
	case ErrFileWrite:
		return "FileWrite"
	case ErrEncode:
		return "Encode"
	case ErrValidation:
		return "Validation"
	case ErrConfig:
		return "Config"
	case ErrNetwork:
		return "Network"
	default:
		return "Unknown"
	}
}

// ConversionError carries a category and key/value context for logs and API errors.
type ConversionError struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func NewError(errorType ErrorType, message string) *ConversionError {
	return &ConversionError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func WrapError(err error, errorType ErrorType, message string) *ConversionError {
	e := NewError(errorType, message)
	e.Cause = err
	return e
}

func (e *ConversionError) Error() string {
	parts := []string{fmt.Sprintf("[%s] %s", e.Type, e.Message)}

	if len(e.Context) > 0 {
		ctxParts := make([]string, 0, len(e.Context))
		for _, k := range slices.Sorted(maps.Keys(e.Context)) {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, "context: "+strings.Join(ctxParts, ", "))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}
	return strings.Join(parts, " | ")
}

func (e *ConversionError) Unwrap() error {
	return e.Cause
}

func (e *ConversionError) WithContext(key string, value any) *ConversionError {
	e.Context[key] = value
	return e
}

func IsErrorType(err error, errorType ErrorType) bool {
	var convErr *ConversionError
	if errors.As(err, &convErr) {
		return convErr.Type == errorType
	}
	return false
}

// Classify picks a category for an untyped error.
func Classify(err error) ErrorType {
	var convErr *ConversionError
	switch {
	case err == nil:
		return ErrUnknown
	case errors.As(err, &convErr):
		return convErr.Type
	case errors.Is(err, config.ErrQualityOutOfRange):
		return ErrValidation
	case errors.Is(err, fs.ErrNotExist):
		return ErrFileNotFound
	case errors.Is(err, fs.ErrPermission):
		return ErrFileWrite
	default:
		return ErrUnknown
	}
}

// Advice is a short operator hint for an error category.
func Advice(t ErrorType) string {
	switch t {
	case ErrFileNotFound:
		return "check that UPLOAD_DIR points at the upload root"
	case ErrFileRead:
		return "check read permissions below the upload root"
	case ErrFileWrite:
		return "the service user needs write access next to every source image"
	case ErrEncode:
		return "the source image may be corrupt or in an unsupported color format"
	case ErrValidation:
		return "quality must be an integer between 0 and 100"
	case ErrConfig:
		return "check the config file and environment variables"
	case ErrNetwork:
		return "check that the admin endpoint is reachable"
	default:
		return "see the log for details"
	}
}

// LogError logs err with its category and advice.
func LogError(err error) {
	t := Classify(err)
	log.Error("%v (%s: %s)", err, t, Advice(t))
}

func SafeExecute(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewError(ErrUnknown, fmt.Sprintf("runtime error: %v", r))
		}
	}()
	return fn()
}
