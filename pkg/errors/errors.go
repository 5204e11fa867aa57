// Unified error handling for the engine-position host.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	"fmt"
	"runtime"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Configuration errors
	ErrConfigParse      ErrorCode = "CONFIG_PARSE"
	ErrConfigOption     ErrorCode = "CONFIG_OPTION"
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Signal errors (expected under real-world noise and faults)
	ErrSignalTimeout    ErrorCode = "SIGNAL_TIMEOUT"
	ErrSignalToothInGap ErrorCode = "SIGNAL_TOOTH_IN_GAP"
	ErrSignalInvalid    ErrorCode = "SIGNAL_INVALID"

	// Synchronization errors
	ErrSyncStall  ErrorCode = "SYNC_STALL"
	ErrSyncCommit ErrorCode = "SYNC_COMMIT"

	// Runtime errors
	ErrRuntime     ErrorCode = "RUNTIME"
	ErrRuntimeInit ErrorCode = "RUNTIME_INIT"

	// Capture and replay errors
	ErrCaptureFormat ErrorCode = "CAPTURE_FORMAT"
	ErrCaptureStore  ErrorCode = "CAPTURE_STORE"
	ErrCaptureSource ErrorCode = "CAPTURE_SOURCE"
)

// HostError is the unified error type for the host system
type HostError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Section is the config section or context
	Section string

	// Option is the config option name (if applicable)
	Option string

	// Err wraps the underlying error
	Err error

	// Context provides additional context
	Context map[string]interface{}
}

// Error implements the error interface
func (e *HostError) Error() string {
	if e.Option != "" {
		return fmt.Sprintf("[%s:%s] %s", e.Code, e.Option, e.Message)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Code, e.Section, e.Message)
}

// Unwrap returns the underlying error
func (e *HostError) Unwrap() error {
	return e.Err
}

// SetSection sets the context section
func (e *HostError) SetSection(section string) *HostError {
	e.Section = section
	return e
}

// SetOption sets the config option
func (e *HostError) SetOption(option string) *HostError {
	e.Option = option
	return e
}

// SetContext adds additional context
func (e *HostError) SetContext(key string, value interface{}) *HostError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code ErrorCode, message string) *HostError {
	return &HostError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// New creates a new HostError
func New(code ErrorCode, message string) *HostError {
	return &HostError{
		Code:    code,
		Message: message,
	}
}

// Config errors

// ConfigParseError creates an error for a config document that does not parse
func ConfigParseError(path string, err error) *HostError {
	return Wrap(err, ErrConfigParse, fmt.Sprintf("unable to parse config %s", path)).
		SetSection(path)
}

// ConfigOptionError creates an error for a missing config option
func ConfigOptionError(section, option string) *HostError {
	return New(ErrConfigOption, fmt.Sprintf("option '%s' not set in section '%s'", option, section)).
		SetSection(section).
		SetOption(option)
}

// ConfigValidationError creates an error for config validation failure
func ConfigValidationError(section, option string, reason string) *HostError {
	return New(ErrConfigValidation, fmt.Sprintf("option '%s' in section '%s': %s", option, section, reason)).
		SetSection(section).
		SetOption(option)
}

// Signal errors

// SignalTimeoutError creates an error for a missed tooth window
func SignalTimeoutError(state string, deadline uint64) *HostError {
	return New(ErrSignalTimeout, fmt.Sprintf("no transition before deadline %d in state %s", deadline, state)).
		SetContext("state", state)
}

// SignalToothInGapError creates an error for an edge where the gap was expected
func SignalToothInGapError(tooth int) *HostError {
	return New(ErrSignalToothInGap, fmt.Sprintf("transition inside expected gap at tooth %d", tooth))
}

// Synchronization errors

// SyncStallError creates an error for a decoder stall
func SyncStallError(reason string) *HostError {
	return New(ErrSyncStall, fmt.Sprintf("decoder stalled: %s", reason))
}

// SyncCommitError creates an error for a rejected sync commit
func SyncCommitError(reason string) *HostError {
	return New(ErrSyncCommit, fmt.Sprintf("sync commit rejected: %s", reason))
}

// Runtime errors

// RuntimeError creates a general runtime error
func RuntimeError(message string) *HostError {
	return New(ErrRuntime, message)
}

// RuntimeErrorInit creates an error for initialization failure
func RuntimeErrorInit(component string, reason string) *HostError {
	return New(ErrRuntimeInit, fmt.Sprintf("failed to initialize %s: %s", component, reason))
}

// Capture errors

// CaptureFormatError creates an error for a malformed capture record
func CaptureFormatError(line int, reason string) *HostError {
	return New(ErrCaptureFormat, fmt.Sprintf("capture record %d: %s", line, reason)).
		SetContext("line", line)
}

// CaptureStoreError creates an error for a session-store failure
func CaptureStoreError(operation string, err error) *HostError {
	return Wrap(err, ErrCaptureStore, fmt.Sprintf("session store %s failed", operation))
}

// CaptureSourceError creates an error for an edge-source failure
func CaptureSourceError(source string, err error) *HostError {
	return Wrap(err, ErrCaptureSource, fmt.Sprintf("edge source %s failed", source)).
		SetSection(source)
}

// RecoverPanic safely recovers from panic and converts to error
func RecoverPanic() *HostError {
	if r := recover(); r != nil {
		var err error
		switch x := r.(type) {
		case string:
			err = RuntimeError(fmt.Sprintf("panic: %s", x))
		case error:
			err = RuntimeError(x.Error())
		case runtime.Error:
			err = RuntimeError(x.Error())
		default:
			err = RuntimeError(fmt.Sprintf("panic: %v", x))
		}
		return err.(*HostError)
	}
	return nil
}

// Is checks if error matches given error code
func Is(err error, code ErrorCode) bool {
	if hostErr, ok := err.(*HostError); ok {
		return hostErr.Code == code
	}
	return false
}

// IsConfig checks if error is a config error
func IsConfig(err error) bool {
	return Is(err, ErrConfigParse) ||
		Is(err, ErrConfigOption) ||
		Is(err, ErrConfigValidation)
}

// IsSignal checks if error is a signal error
func IsSignal(err error) bool {
	return Is(err, ErrSignalTimeout) ||
		Is(err, ErrSignalToothInGap) ||
		Is(err, ErrSignalInvalid)
}

// IsSync checks if error is a synchronization error
func IsSync(err error) bool {
	return Is(err, ErrSyncStall) ||
		Is(err, ErrSyncCommit)
}

// IsCapture checks if error is a capture error
func IsCapture(err error) bool {
	return Is(err, ErrCaptureFormat) ||
		Is(err, ErrCaptureStore) ||
		Is(err, ErrCaptureSource)
}
