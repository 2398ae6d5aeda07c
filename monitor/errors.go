package monitor

import (
	"errors"
	"fmt"

	"github.com/chiyoko-haruka/chiyoko/store"
)

// Sentinel errors for registry validation; wrapped by *ValidationError.
var (
	ErrInvalidGuildID   = errors.New("invalid guild id")
	ErrReservedGuildID  = errors.New("reserved guild id")
	ErrInvalidUsername  = errors.New("invalid twitch username")
	ErrInvalidChannel   = errors.New("invalid notification channel")
	ErrAlreadyMonitored = errors.New("streamer already monitored")
	ErrStreamerNotFound = errors.New("streamer not monitored")
)

// ValidationError is a user-facing registry failure. It never reflects a store problem.
type ValidationError struct {
	Code    string
	Message string
	err     error
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return e.err }

func invalid(sentinel error, code, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...), err: sentinel}
}

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Result is the uniform shape returned to thin callers (slash commands, HTTP).
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// PendingSaveMessage is shown when a change is live in memory but its save failed. The change is
// written by the next successful save, so repeating the command is not needed.
const PendingSaveMessage = "the change was applied but could not be saved yet; it will be saved automatically"

// NewResult converts an operation outcome into a Result. Only validation messages are shown
// verbatim; other failures get a generic message.
func NewResult(data any, err error) Result {
	if err == nil {
		return Result{Success: true, Data: data}
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return Result{Success: false, Message: ve.Message}
	}
	var pe *store.PersistError
	if errors.As(err, &pe) {
		return Result{Success: false, Message: PendingSaveMessage}
	}
	return Result{Success: false, Message: "failed to save monitor settings, please try again later"}
}
