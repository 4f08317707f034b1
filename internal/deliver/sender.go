// Package deliver posts rendered events to the configured channels and keeps
// the per-channel delivery bookkeeping.
package deliver

import (
	"context"
	"errors"
	"net/http"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Payload is one rendered post, ready for a single channel.
type Payload struct {
	Title string
	Body  string
}

// Receipt identifies a successfully created post.
type Receipt struct {
	PostID string
	URL    string
}

// Sender posts one payload to its channel.
type Sender interface {
	Send(ctx context.Context, p Payload) (Receipt, error)
}

// TransientError marks a send failure worth re-attempting later: network
// trouble, rate limiting or a server-side error.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

func transient(err error) error { return &TransientError{Err: err} }

// IsTransient reports whether err wraps a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
