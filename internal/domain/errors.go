package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies every failure that can leave a boundary call.
type ErrorKind string

const (
	KindPermissionDenied   ErrorKind = "permission_denied"
	KindTransport          ErrorKind = "transport"
	KindTimeout            ErrorKind = "timeout"
	KindUnrecognizedSpeech ErrorKind = "unrecognized_speech"
	KindUnrecognizedIntent ErrorKind = "unrecognized_intent"
	KindUnknownContact     ErrorKind = "unknown_contact"
	KindEncoding           ErrorKind = "encoding"
)

// Error is the single error shape handed to the notifier and logs.
// Status, StatusText and Message are only set for transport errors.
type Error struct {
	Kind       ErrorKind
	Status     int
	StatusText string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindTransport:
		if e.Status != 0 {
			return fmt.Sprintf("HTTP %d %s: %s", e.Status, e.StatusText, e.Message)
		}
		if e.Err != nil {
			return fmt.Sprintf("transport: %v", e.Err)
		}
		return "transport: " + e.Message
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Kind, e.Err)
		}
		if e.Message != "" {
			return fmt.Sprintf("%s: %s", e.Kind, e.Message)
		}
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// TransportError builds the normalized {status, statusText, message} error.
func TransportError(status int, message string) *Error {
	return &Error{
		Kind:       KindTransport,
		Status:     status,
		StatusText: http.StatusText(status),
		Message:    message,
	}
}

func EncodingError(err error) *Error {
	return &Error{Kind: KindEncoding, Err: err}
}

// Normalize converts any error into a *Error. Context deadlines become
// KindTimeout, anything unknown becomes a status-less transport error.
func Normalize(err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindTransport, Err: err}
}

// KindOf reports the kind of err, or "" when err is nil.
func KindOf(err error) ErrorKind {
	if de := Normalize(err); de != nil {
		return de.Kind
	}
	return ""
}

// Notification returns the user-facing message for an error kind. Technical
// detail never ends up here.
func (e *Error) Notification() Notification {
	n := Notification{Status: StatusError, Duration: DefaultNotificationDuration}
	switch e.Kind {
	case KindPermissionDenied:
		n.Title = "Microphone unavailable."
		n.Description = "Please allow microphone access to use voice commands."
		n.Status = StatusWarning
	case KindTimeout:
		n.Title = "That took too long."
		n.Description = "Please try again in a moment."
	case KindUnrecognizedSpeech:
		return CouldNotHear
	case KindUnrecognizedIntent:
		return CouldNotUnderstand
	case KindUnknownContact:
		return UnknownContact
	case KindEncoding:
		n.Title = "Recording failed."
		n.Description = "Please try recording again."
	default:
		n.Title = "Something went wrong."
		n.Description = "We couldn't reach the server. Please try again."
	}
	return n
}

var (
	CouldNotHear = Notification{
		Title:       "We couldn't hear you.",
		Description: "Please try moving somewhere quieter or speaking more loudly.",
		Status:      StatusError,
		Duration:    DefaultNotificationDuration,
	}
	CouldNotUnderstand = Notification{
		Title:       "We couldn't understand you.",
		Description: "Sorry, we couldn't understand what you said",
		Status:      StatusError,
		Duration:    DefaultNotificationDuration,
	}
	UnknownContact = Notification{
		Title:       "We don't know who that is.",
		Description: "Sorry, we don't recognize that person.",
		Status:      StatusWarning,
		Duration:    DefaultNotificationDuration,
	}
)
