package client

import "fmt"

const (
	indexFallback = "Failed to index repository"
	queryFallback = "Failed to get response"
	listFallback  = "Failed to list repositories"
)

// ValidationError reports a precondition that failed before any request was sent.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// RequestError is the shared shape of every failed backend call.
// Status is zero when the request never got a response.
type RequestError struct {
	Op     string
	Status int
	Detail string
	Err    error
}

func (e *RequestError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Detail, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Detail)
	}
}

func (e *RequestError) Unwrap() error { return e.Err }

// Message is the user-facing text: the server's detail when it sent one,
// otherwise the operation's fallback text.
func (e *RequestError) Message() string { return e.Detail }

// IndexingError is returned by IndexRepository.
type IndexingError struct{ *RequestError }

// QueryError is returned by QueryRepository.
type QueryError struct{ *RequestError }

// ListError is returned by GetRepositories.
type ListError struct{ *RequestError }

func (e *IndexingError) Unwrap() error { return e.RequestError }
func (e *QueryError) Unwrap() error    { return e.RequestError }
func (e *ListError) Unwrap() error     { return e.RequestError }
