package session

import "errors"

const (
	MsgSelectFile     = "Please select a folder to index"
	MsgEnterName      = "Please enter a name for the repository"
	MsgEnterMessage   = "Please enter a message"
	MsgUnknownRepo    = "Please select an indexed repository"
	MsgIndexingActive = "Indexing is already in progress"
)

// ErrBusy is wrapped by the validation error returned when Index is called
// while another indexing request is in flight.
var ErrBusy = errors.New("indexing in progress")

// ValidationError is a user input problem detected before any request is sent.
type ValidationError struct {
	Field   string
	Message string
	err     error
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return e.err }

func invalid(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Message: msg}
}
