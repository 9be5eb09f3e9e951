package session

import (
	"errors"
	"fmt"

	"physio/physio/types"
	httputils "physio/physio/utils/http"
	"physio/physio/utils/normalize"
)

// Error kinds. A *SessionError unwraps to its kind and to its cause, so
// errors.Is(err, ErrPersistence) and errors.Is(err, types.ErrNotFound) both work.
var (
	ErrResolution      = errors.New("conversation could not be resolved")
	ErrPersistence     = errors.New("conversation store failed")
	ErrStreamTransport = errors.New("completion stream failed")
	ErrStreamTimeout   = errors.New("completion stream timed out")
	ErrNormalization   = normalize.ErrMalformed
)

// Guard errors: the request was refused and nothing changed.
var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrBusy           = errors.New("a reply is still in progress")
	ErrNothingToRetry = errors.New("nothing to retry")
	ErrClosed         = errors.New("session closed")
	ErrCancelled      = errors.New("turn cancelled")
	ErrAborted        = errors.New("stream aborted")
)

type SessionError struct {
	Kind    error
	Message string
	Err     error
}

func (e *SessionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.Message, e.Err)
}

func (e *SessionError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// DefaultErrorCopy is used for any text the prompt catalogue leaves blank.
var DefaultErrorCopy = types.ErrorCopy{
	Timeout:     "El asistente tardó demasiado en responder. Inténtalo de nuevo.",
	Transport:   "Se interrumpió la conexión mientras el asistente respondía.",
	Persistence: "No se pudo guardar tu mensaje.",
	Resolution:  "No se pudo abrir la conversación.",
}

// UserMessage is the text shown next to the retry affordance.
func (e *SessionError) UserMessage() string {
	return userMessage(DefaultErrorCopy, e)
}

func userMessage(texts types.ErrorCopy, e *SessionError) string {
	var text string
	switch {
	case errors.Is(e.Kind, ErrStreamTimeout):
		text = texts.Timeout
	case errors.Is(e.Kind, ErrStreamTransport):
		text = texts.Transport
	case errors.Is(e.Kind, ErrPersistence):
		text = texts.Persistence
	case errors.Is(e.Kind, ErrResolution):
		text = texts.Resolution
	default:
		return e.Message
	}
	// a non-2xx answer carries the server's own explanation
	var se *httputils.StatusError
	if errors.As(e.Err, &se) && se.Message != "" {
		return fmt.Sprintf("%s (%s)", text, se.Message)
	}
	return text
}

func newError(kind error, msg string, err error) *SessionError {
	return &SessionError{Kind: kind, Message: msg, Err: err}
}

func IsStreamError(err error) bool {
	return errors.Is(err, ErrStreamTransport) || errors.Is(err, ErrStreamTimeout)
}

// UserMessage returns the display text for any error the controller surfaces.
func UserMessage(err error) string {
	return userMessageWith(DefaultErrorCopy, err)
}

func userMessageWith(texts types.ErrorCopy, err error) string {
	var se *SessionError
	if errors.As(err, &se) {
		return userMessage(texts, se)
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
