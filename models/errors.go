package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures for display and retry decisions.
type ErrorKind string

const (
	KindCapability ErrorKind = "capability"
	KindNetwork    ErrorKind = "network"
	KindFormat     ErrorKind = "format"
	KindState      ErrorKind = "state"
	KindUnknown    ErrorKind = "unknown"
)

// CapabilityError means the durable cache cannot be used in this
// environment. It is fatal for the session.
type CapabilityError struct {
	Reason string
	Err    error
}

func (e *CapabilityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cache unavailable: %s: %v", e.Reason, e.Err)
	}

	return "cache unavailable: " + e.Reason
}

func (e *CapabilityError) Unwrap() error { return e.Err }

// NetworkError is a failed fetch or a non-success HTTP status. StatusCode is
// 0 when no response was received.
type NetworkError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	default:
		return "fetch " + e.URL + " failed"
	}
}

func (e *NetworkError) Unwrap() error { return e.Err }

// FormatError covers undecodable snapshots and queries the engine rejects.
type FormatError struct {
	Op  string
	Err error
}

func (e *FormatError) Error() string {
	if e.Err == nil {
		return e.Op
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// StateError means an operation ran before its prerequisite.
type StateError struct {
	Op   string
	Need string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Need)
}

// KindOf maps an error to its ErrorKind.
func KindOf(err error) ErrorKind {
	var (
		capErr   *CapabilityError
		netErr   *NetworkError
		fmtErr   *FormatError
		stateErr *StateError
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &capErr):
		return KindCapability
	case errors.As(err, &netErr):
		return KindNetwork
	case errors.As(err, &fmtErr):
		return KindFormat
	case errors.As(err, &stateErr):
		return KindState
	default:
		return KindUnknown
	}
}
