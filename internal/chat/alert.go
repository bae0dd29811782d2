package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidName rejects an empty identity
	ErrInvalidName = errors.New("invalid name")
	// ErrInvalidMessage rejects an empty message
	ErrInvalidMessage = errors.New("invalid message")
	// ErrNoPeer is reported when no live session exists
	ErrNoPeer = errors.New("connection not found")
	// ErrEncodeFailure is reported when a message cannot be serialized
	ErrEncodeFailure = errors.New("failed to encode message")
	// ErrSendFailed is reported when no addressed peer accepted a message
	ErrSendFailed = errors.New("failed to send")
)

// Alert is a user-facing error notification
type Alert struct {
	Title   string
	Message string
	Err     error
}

// alertFor converts a coordinator error into its user-facing form
func alertFor(err error) Alert {
	switch {
	case errors.Is(err, ErrInvalidName):
		return Alert{Title: "Invalid name", Message: "Please set valid user name", Err: err}
	case errors.Is(err, ErrInvalidMessage):
		return Alert{Title: "Invalid message", Message: "Please set message text", Err: err}
	case errors.Is(err, ErrNoPeer):
		return Alert{Title: "Connection not found", Message: "Please search near services", Err: err}
	case errors.Is(err, ErrEncodeFailure):
		return Alert{Title: "Failed to send", Message: "Invalid data format", Err: err}
	default:
		return Alert{Title: "Failed to send", Message: fmt.Sprint(err), Err: err}
	}
}
