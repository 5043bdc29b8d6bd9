package errs

import (
	"errors"
	"fmt"
)

// Kind classifies every failure the interview pipeline can produce.
// Capture- and validation-level kinds are resolved locally and never reach
// the dialogue/report layer; transport-level kinds are retryable by explicit
// user action only.
type Kind string

const (
	PermissionDenied       Kind = "permission_denied"
	DeviceUnavailable      Kind = "device_unavailable"
	UnsupportedEnvironment Kind = "unsupported_environment"
	UnsupportedFormat      Kind = "unsupported_format"
	RecordingTooShort      Kind = "recording_too_short"
	NoSpeechDetected       Kind = "no_speech_detected"
	TextTooLong            Kind = "text_too_long"
	EmptyAudioReceived     Kind = "empty_audio_received"
	RateLimited            Kind = "rate_limited"
	Unauthorized           Kind = "unauthorized"
	BadInput               Kind = "bad_input"
	ServiceUnavailable     Kind = "service_unavailable"
	UnknownTransportError  Kind = "unknown_transport_error"
	IncompleteResult       Kind = "incomplete_result"
)

// Error carries a kind plus an operator-facing message. The user-facing
// message is derived from the kind alone so raw status codes and service
// bodies never leak to the client.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error for the given operation.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the kind from err, or UnknownTransportError when err was
// never classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return UnknownTransportError
}

// Is lets errors.Is match on bare kinds: errors.Is(err, errs.RateLimited).
func (k Kind) Error() string { return string(k) }

func (e *Error) Is(target error) bool {
	if k, ok := target.(Kind); ok {
		return e.Kind == k
	}
	return false
}

// Retryable reports whether an explicit user retry is a sensible remedy.
// Every transport-level failure is retryable by explicit user action,
// including credential rejections and payload rejections, which are often
// transient on the upstream side. Capture and speech failures need a
// different user action (speak again, shorten text, fix permissions).
func Retryable(err error) bool {
	switch KindOf(err) {
	case RateLimited, Unauthorized, BadInput, ServiceUnavailable,
		UnknownTransportError, IncompleteResult:
		return true
	}
	return false
}

// FromStatus maps an HTTP status from an external service to the transport
// taxonomy. 2xx statuses must not be passed here.
func FromStatus(op string, status int) *Error {
	switch {
	case status == 429:
		return New(RateLimited, op, "rate limited by upstream service")
	case status == 401 || status == 403:
		return New(Unauthorized, op, "upstream rejected credentials")
	case status == 400 || status == 422:
		return New(BadInput, op, "upstream rejected request payload")
	case status >= 500:
		return New(ServiceUnavailable, op, fmt.Sprintf("upstream returned %d", status))
	default:
		return New(UnknownTransportError, op, fmt.Sprintf("unexpected upstream status %d", status))
	}
}

// UserMessage renders the one human-readable message per error class shown to
// the end user. The remedy differs between speech problems and transport
// problems, so the two families must never collapse into one string.
func UserMessage(err error) string {
	switch KindOf(err) {
	case PermissionDenied:
		return "Microphone access was denied. Allow microphone access and try again."
	case DeviceUnavailable:
		return "No microphone was found. Connect an input device and try again."
	case UnsupportedEnvironment:
		return "Audio recording is not supported here. Use the text input instead."
	case UnsupportedFormat:
		return "This audio format is not supported. Try recording again."
	case RecordingTooShort:
		return "That recording was too short. Hold the button and speak for at least a second."
	case NoSpeechDetected:
		return "No speech was detected in the recording. Please speak again."
	case TextTooLong:
		return "That message is too long to be spoken. Shorten it and try again."
	case EmptyAudioReceived:
		return "The voice service returned no audio. You can retry or continue without sound."
	case RateLimited:
		return "The service is receiving too many requests. Wait a moment and retry."
	case Unauthorized:
		return "The service rejected our credentials. Please try again later."
	case BadInput:
		return "The service could not process the request. Please try again."
	case ServiceUnavailable:
		return "The service is temporarily unavailable. Check your connection and retry."
	case IncompleteResult:
		return "The service returned incomplete data. Please retry."
	default:
		return "Something went wrong talking to the service. Please retry."
	}
}
