package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Use with NewSubSystemError for subsystem-specific errors.
var (
	ErrNotFound         = fmt.Errorf("not found")
	ErrDuplicate        = fmt.Errorf("duplicate")
	ErrTimeout          = fmt.Errorf("operation timed out")
	ErrPermissionDenied = fmt.Errorf("permission denied")
	ErrDisabled         = fmt.Errorf("disabled")
	ErrInvalidInput     = fmt.Errorf("invalid input")
	ErrProviderError    = fmt.Errorf("provider error")
)

// Sentinel errors for the domain layer.
var (
	ErrConfigLoad     = fmt.Errorf("failed to load configuration")
	ErrDecryption     = fmt.Errorf("decryption failed")
	ErrHandlerFailure = fmt.Errorf("command handler failed")
	ErrNoHandler      = fmt.Errorf("plugin has no callable handler")
	ErrRateLimit      = fmt.Errorf("rate limit exceeded")
	ErrNotConnected   = fmt.Errorf("messaging client not connected")
	ErrLoggedOut      = fmt.Errorf("session logged out")
	ErrUnsupported    = fmt.Errorf("operation not supported by client")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Loader.Reload")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "plugin", "wasm")
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem so that
// ErrorCodeOf can resolve a subsystem-specific code.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient error that may succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrNotConnected)
}

// ErrorCode is a machine-parseable error category for logs and alerting.
type ErrorCode string

const (
	CodeUnknown        ErrorCode = "UNKNOWN"
	CodeConfigLoad     ErrorCode = "CONFIG_LOAD"
	CodeDecryption     ErrorCode = "DECRYPTION"
	CodeHandlerFailure ErrorCode = "HANDLER_FAILURE"
	CodeNoHandler      ErrorCode = "NO_HANDLER"
	CodeRateLimit      ErrorCode = "RATE_LIMIT"
	CodeNotConnected   ErrorCode = "NOT_CONNECTED"
	CodeLoggedOut      ErrorCode = "LOGGED_OUT"
	CodeUnsupported    ErrorCode = "UNSUPPORTED"

	// Subsystem-specific codes resolved through subSystemCodeMap.
	CodePluginNotFound  ErrorCode = "PLUGIN_NOT_FOUND"
	CodePluginDuplicate ErrorCode = "PLUGIN_DUPLICATE"
	CodePluginInvalid   ErrorCode = "PLUGIN_INVALID"
	CodeWASMLoad        ErrorCode = "WASM_LOAD"
	CodeWASMTimeout     ErrorCode = "WASM_TIMEOUT"
	CodeWASMCapability  ErrorCode = "WASM_CAPABILITY"
	CodeTimerDuplicate  ErrorCode = "TIMER_DUPLICATE"
	CodeTimerInvalid    ErrorCode = "TIMER_INVALID"

	// Category fallbacks.
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeDuplicate        ErrorCode = "DUPLICATE"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	CodeDisabled         ErrorCode = "DISABLED"
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
	CodeProviderError    ErrorCode = "PROVIDER_ERROR"
)

var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:         CodeNotFound,
	ErrDuplicate:        CodeDuplicate,
	ErrTimeout:          CodeTimeout,
	ErrPermissionDenied: CodePermissionDenied,
	ErrDisabled:         CodeDisabled,
	ErrInvalidInput:     CodeInvalidInput,
	ErrProviderError:    CodeProviderError,

	ErrConfigLoad:     CodeConfigLoad,
	ErrDecryption:     CodeDecryption,
	ErrHandlerFailure: CodeHandlerFailure,
	ErrNoHandler:      CodeNoHandler,
	ErrRateLimit:      CodeRateLimit,
	ErrNotConnected:   CodeNotConnected,
	ErrLoggedOut:      CodeLoggedOut,
	ErrUnsupported:    CodeUnsupported,
}

var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"plugin": CodePluginNotFound,
	},
	ErrDuplicate: {
		"plugin": CodePluginDuplicate,
		"timer":  CodeTimerDuplicate,
	},
	ErrInvalidInput: {
		"plugin": CodePluginInvalid,
		"wasm":   CodeWASMLoad,
		"timer":  CodeTimerInvalid,
	},
	ErrTimeout: {
		"wasm": CodeWASMTimeout,
	},
	ErrPermissionDenied: {
		"wasm": CodeWASMCapability,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// DomainErrors carrying a SubSystem resolve through subSystemCodeMap first.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
