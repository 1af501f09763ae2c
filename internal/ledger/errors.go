package ledger

import "errors"

// Kind classifies why an operation was rejected.
type Kind int

const (
	KindInternal      Kind = iota // persistence or programming failure
	KindValidation                // bad input, safe to retry after correcting it
	KindAuthorization             // wrong caller for the operation
	KindState                     // ledger state forbids the operation right now
	KindNotFound                  // unknown agent, message or thread
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindState:
		return "state"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Error is a ledger precondition failure. Every sentinel below is a distinct
// *Error, so errors.Is matches on identity.
type Error struct {
	kind Kind
	msg  string
}

func newError(kind Kind, msg string) *Error { return &Error{kind: kind, msg: msg} }

func (e *Error) Error() string { return e.msg }

// Kind returns the error classification.
func (e *Error) Kind() Kind { return e.kind }

// Directory errors.
var (
	ErrAlreadyRegistered = newError(KindValidation, "agent already registered")
	ErrInvalidInput      = newError(KindValidation, "name and public key are required")
	ErrNameTaken         = newError(KindValidation, "name already taken")
	ErrNotOwner          = newError(KindAuthorization, "caller does not own the agent")
	ErrAgentInactive     = newError(KindState, "agent is inactive")
	ErrAgentNotFound     = newError(KindNotFound, "agent not found")
)

// Router errors.
var (
	ErrNotRegistered          = newError(KindState, "sender is not a registered agent")
	ErrInvalidRecipient       = newError(KindValidation, "invalid recipient")
	ErrEmptyContent           = newError(KindValidation, "message content is empty")
	ErrInvalidMessageType     = newError(KindValidation, "invalid message type")
	ErrRecipientNotRegistered = newError(KindState, "recipient is not registered")
	ErrRecipientInactive      = newError(KindState, "recipient is inactive")
	ErrNotParticipant         = newError(KindAuthorization, "caller is not a participant of the message")
	ErrNotRecipient           = newError(KindAuthorization, "only the recipient can mark a message as read")
	ErrAlreadyExpired         = newError(KindState, "message has expired")
	ErrMessageNotFound        = newError(KindNotFound, "message not found")
	ErrThreadNotFound         = newError(KindNotFound, "thread not found")
)

// KindOf classifies err. Errors that are not ledger errors are internal.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.kind
	}
	return KindInternal
}
