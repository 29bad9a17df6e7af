// Package brokererr defines the error taxonomy shared by every public
// API in the broker module.
package brokererr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code identifies one of the error conditions a public API can return.
type Code int

const (
	None Code = iota
	Unspecified
	PeerIncompatible
	PeerInvalid
	PeerUnavailable
	PeerDisconnectDuringHandshake
	PeerTimeout
	MasterExists
	NoSuchMaster
	NoSuchKey
	RequestTimeout
	TypeClash
	InvalidData
	BackendFailure
	StaleData
	CannotOpenFile
	CannotWriteFile
	InvalidTopicKey
	EndOfFile
	InvalidTag
	InvalidStatus
)

func (c Code) String() string {
	switch c {
	case None:
		return "none"
	case Unspecified:
		return "unspecified"
	case PeerIncompatible:
		return "peer_incompatible"
	case PeerInvalid:
		return "peer_invalid"
	case PeerUnavailable:
		return "peer_unavailable"
	case PeerDisconnectDuringHandshake:
		return "peer_disconnect_during_handshake"
	case PeerTimeout:
		return "peer_timeout"
	case MasterExists:
		return "master_exists"
	case NoSuchMaster:
		return "no_such_master"
	case NoSuchKey:
		return "no_such_key"
	case RequestTimeout:
		return "request_timeout"
	case TypeClash:
		return "type_clash"
	case InvalidData:
		return "invalid_data"
	case BackendFailure:
		return "backend_failure"
	case StaleData:
		return "stale_data"
	case CannotOpenFile:
		return "cannot_open_file"
	case CannotWriteFile:
		return "cannot_write_file"
	case InvalidTopicKey:
		return "invalid_topic_key"
	case EndOfFile:
		return "end_of_file"
	case InvalidTag:
		return "invalid_tag"
	case InvalidStatus:
		return "invalid_status"
	default:
		return "unspecified"
	}
}

// EndpointInfo optionally identifies the peer an error relates to.
type EndpointInfo struct {
	NodeID  string
	Address string
	Port    int
}

// Error is the concrete error value every fallible broker API returns.
type Error struct {
	Code     Code
	Endpoint *EndpointInfo
	Message  string
	cause    error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code.String()
}

func (e *Error) Cause() error { return e.cause }
func (e *Error) Unwrap() error { return e.cause }

// New builds an Error for the given code with an optional message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches code and a cause to an existing error, preserving it
// for inspection the way router/consumer.go wraps lower-level errors.
func Wrap(code Code, cause error, message string) *Error {
	return &Error{Code: code, Message: message, cause: errors.WithMessage(cause, message)}
}

// WithEndpoint attaches endpoint info (used by peering failures).
func (e *Error) WithEndpoint(info EndpointInfo) *Error {
	e.Endpoint = &info
	return e
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	be, ok := err.(*Error)
	if !ok {
		return false
	}
	return be.Code == code
}
