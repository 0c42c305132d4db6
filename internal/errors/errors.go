// Package errors provides domain-specific error types for capgate.
//
// These types carry structured context (operation, path, stage) that
// lets a connection handler decide what to tell its client, and keeps
// a failure on one connection from ever escalating to the process.
package errors

import (
	"errors"
	"fmt"
	"os"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	ErrBaseMode          = errors.New("already in command mode")
	ErrUnknownMode       = errors.New("unknown mode")
	ErrUnknownCommand    = errors.New("unknown command")
	ErrBadPeer           = errors.New("invalid peer id")
	ErrDiscarded         = errors.New("binary data discarded")
	ErrNoFrames          = errors.New("no image frames found")
	ErrNoOutput          = errors.New("no output")
	ErrNoAudio           = errors.New("no staged audio")
	ErrCircuitOpen       = errors.New("transcoder unavailable")
	ErrTimeout           = errors.New("timeout")
	ErrConnectionClosed  = errors.New("connection closed")
	ErrNotifyBacklog     = errors.New("notification backlog full")
	ErrStagingNotCreated = errors.New("staging area not created")
)

// ── Structured error types ───────────────────────────────────────────

// StorageError represents a failed filesystem operation on a staging
// area.  It is always recoverable at the connection level.
type StorageError struct {
	Op   string // "create", "write", "rename", "remove", "read", "purge"
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// TranscodeError represents a failed transcoder stage.
type TranscodeError struct {
	Stage string // "encode", "mux", "probe", "deliver"
	Err   error
}

func (e *TranscodeError) Error() string {
	return fmt.Sprintf("transcode %s: %v", e.Stage, e.Err)
}

func (e *TranscodeError) Unwrap() error { return e.Err }

// ProtocolError represents a command the state machine refused.
type ProtocolError struct {
	Command string
	Err     error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("command %q: %v", e.Command, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// Storage wraps err as a StorageError.  A nil err stays nil.
func Storage(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Path: path, Err: err}
}

// Transcode wraps err as a TranscodeError.  A nil err stays nil.
func Transcode(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &TranscodeError{Stage: stage, Err: err}
}

// Protocol wraps err as a ProtocolError.
func Protocol(command string, err error) error {
	return &ProtocolError{Command: command, Err: err}
}

// ── Classification helpers ───────────────────────────────────────────

// IsStorage reports whether err came from the staging filesystem.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// IsProtocol reports whether err is a refused command.
func IsProtocol(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// IsNotExist reports whether err means a staged file is missing.
func IsNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}

// ClientMessage renders err the way it is reported over the wire:
// transcode failures use the "transcode error: " prefix clients match
// on, everything else "error: ".
func ClientMessage(err error) string {
	var te *TranscodeError
	if errors.As(err, &te) {
		return "transcode error: " + Brief(leaf(te.Err))
	}
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return "error: " + pe.Err.Error()
	}
	return "error: " + Brief(err)
}

// Brief renders err for a client.  Storage failures are reduced to a
// fixed phrase so staging paths stay in the server log.
func Brief(err error) string {
	var se *StorageError
	if !errors.As(err, &se) {
		return err.Error()
	}
	if errors.Is(se.Err, ErrStagingNotCreated) {
		return ErrStagingNotCreated.Error()
	}
	return "storage failure"
}

// leaf returns the innermost sentinel-like error for terse client
// messages ("no output" rather than the whole chain).
func leaf(err error) error {
	for _, s := range []error{ErrNoFrames, ErrNoOutput, ErrCircuitOpen, ErrTimeout, ErrNoAudio} {
		if errors.Is(err, s) {
			return s
		}
	}
	return err
}

// ── Re-exports for convenience ───────────────────────────────────────
//
// These allow callers to use capgate/internal/errors as a drop-in
// replacement for the standard library in common operations.

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Unwrap is [errors.Unwrap].
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
